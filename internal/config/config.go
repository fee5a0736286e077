// Package config holds all voxelforge configuration: database
// location, execution limits, audit tuning, and the MCP surface.
// Configuration is loaded from a YAML file with environment-variable
// overrides; audit tuning can be hot-reloaded at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all voxelforge configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir is the root for the database and log files.
	DataDir string `yaml:"data_dir"`

	Database  DatabaseConfig  `yaml:"database"`
	World     WorldConfig     `yaml:"world"`
	Execution ExecutionConfig `yaml:"execution"`
	Audit     AuditConfig     `yaml:"audit"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

// WorldConfig configures the world-effect backend.
type WorldConfig struct {
	// Default is the world targeted when a build names none.
	Default string `yaml:"default"`

	// Backend selects the effector implementation. "memory" is the
	// built-in in-process world.
	Backend string `yaml:"backend"`
}

// ExecutionConfig configures the task executor.
type ExecutionConfig struct {
	// TaskTimeout bounds a single task's time on the tick executor.
	TaskTimeout string `yaml:"task_timeout"`

	// AppendRetries is the number of retries on a task-order
	// uniqueness collision during concurrent appends.
	AppendRetries int `yaml:"append_retries"`
}

// AuditConfig tunes the static audit heuristics.
type AuditConfig struct {
	// StairSlopeThreshold is the rise/run ratio above which a
	// mis-oriented stair run is flagged.
	StairSlopeThreshold float64 `yaml:"stair_slope_threshold"`

	// DisabledRules lists audit rule names to skip.
	DisabledRules []string `yaml:"disabled_rules"`
}

// MCPConfig configures the MCP server surface.
type MCPConfig struct {
	ServerName string `yaml:"server_name"`
	// Transport is "stdio" (the only transport in this version).
	Transport string `yaml:"transport"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "voxelforge",
		Version: "0.3.0",
		DataDir: "data",

		Database: DatabaseConfig{
			Path:        "data/voxelforge.db",
			BusyTimeout: "5s",
		},

		World: WorldConfig{
			Default: "minecraft:overworld",
			Backend: "memory",
		},

		Execution: ExecutionConfig{
			TaskTimeout:   "30s",
			AppendRetries: 3,
		},

		Audit: AuditConfig{
			StairSlopeThreshold: 1.0,
		},

		MCP: MCPConfig{
			ServerName: "voxelforge",
			Transport:  "stdio",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields
// defaults; environment variables override file values either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("VOXELFORGE_DB"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("VOXELFORGE_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if world := os.Getenv("VOXELFORGE_WORLD"); world != "" {
		c.World.Default = world
	}
	if timeout := os.Getenv("VOXELFORGE_TASK_TIMEOUT"); timeout != "" {
		c.Execution.TaskTimeout = timeout
	}
	if debug := os.Getenv("VOXELFORGE_DEBUG"); debug != "" {
		if v, err := strconv.ParseBool(debug); err == nil {
			c.Logging.DebugMode = v
		}
	}
}

// GetTaskTimeout parses the task timeout, falling back to 30s.
func (c *Config) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.TaskTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetBusyTimeout parses the SQLite busy timeout, falling back to 5s.
func (c *Config) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Database.BusyTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.World.Default == "" {
		return fmt.Errorf("world.default is required")
	}
	if c.World.Backend != "memory" {
		return fmt.Errorf("unknown world backend: %s", c.World.Backend)
	}
	if c.Audit.StairSlopeThreshold <= 0 {
		return fmt.Errorf("audit.stair_slope_threshold must be positive")
	}
	if c.Execution.AppendRetries < 1 {
		return fmt.Errorf("execution.append_retries must be >= 1")
	}
	return nil
}
