package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voxelforge/internal/config"
	"voxelforge/internal/executor"
	"voxelforge/internal/locate"
	"voxelforge/internal/logging"
	"voxelforge/internal/mcp"
	"voxelforge/internal/service"
	"voxelforge/internal/store"
	"voxelforge/internal/world"
)

// Version is stamped by the build.
var Version = "0.3.0"

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "voxelforge",
	Short: "voxelforge - persistent build orchestration for voxel worlds",
	Long: `voxelforge lets an LLM agent compose, persist, edit and execute
queues of world-mutation tasks (fills, block patches, doors, stairs,
windows, torches, signs, ladders) against a voxel world.

Run "voxelforge serve" to expose the tool surface to an agent over
MCP on stdio.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the build tools over MCP on stdio",
	Long: `Starts the MCP server on stdin/stdout. The agent drives builds
through the registered tools; all diagnostics go to the per-category
log files under the data directory, never to stdout.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("voxelforge %s\n", Version)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = "voxelforge.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default voxelforge.yaml, env VOXELFORGE_*)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, versionCmd, configInitCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = "voxelforge.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debugMode {
		cfg.Logging.DebugMode = true
		cfg.Logging.Level = "debug"
	}

	if err := logging.Configure(cfg.DataDir, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logging.CloseAll()
	logging.Boot("voxelforge %s starting (config %s)", Version, path)

	st, err := store.NewBuildStore(cfg.Database.Path,
		store.WithAppendRetries(cfg.Execution.AppendRetries))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	loop := world.NewTickLoop()
	defer loop.Close()

	// "memory" is the only backend in this version; a game-server
	// adapter slots in here.
	if cfg.World.Backend != "" && cfg.World.Backend != "memory" {
		return fmt.Errorf("unknown world backend %q", cfg.World.Backend)
	}
	backend := world.NewMemoryWorld(loop)

	svc := service.NewBuildService(service.Config{
		Store: st,
		Executor: executor.NewTaskExecutor(executor.Config{
			Effector: backend,
			Timeout:  cfg.GetTaskTimeout(),
		}),
	})
	loc := locate.NewLocationService(locate.Config{
		Store: st,
		Audit: locate.AuditConfig{
			StairSlopeThreshold: cfg.Audit.StairSlopeThreshold,
			DisabledRules:       cfg.Audit.DisabledRules,
		},
	})

	srv := mcp.NewServer(cfg.MCP.ServerName, Version, os.Stdin, os.Stdout)
	mcp.RegisterBuildTools(srv, svc, loc)

	// Live-reload log settings on config edits. Store and executor
	// settings stay fixed for the process lifetime.
	watcher, err := config.NewWatcher(path, func(next *config.Config) {
		_ = logging.Configure(next.DataDir, logging.Options{
			DebugMode:  next.Logging.DebugMode,
			Level:      next.Logging.Level,
			Categories: next.Logging.Categories,
		})
		logging.Boot("Reloaded logging settings from %s", path)
	})
	if err == nil {
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = srv.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	logging.Boot("voxelforge shut down")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
