// Package store implements the durable persistence adapter for
// builds and their task queues using SQLite. It owns the schema, the
// queue-reordering transactions, and the spatial range queries the
// location service relies on.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"voxelforge/internal/logging"
	"voxelforge/internal/types"
)

// Sentinel errors surfaced to the service layer.
var (
	// ErrNotFound is returned when a build or task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOrderConflict is returned when an append loses the
	// (build_id, task_order) uniqueness race too many times.
	ErrOrderConflict = errors.New("task order conflict")
)

// BuildStore persists builds and tasks in SQLite.
// All methods are safe for concurrent use; writes are serialized
// through a single connection plus an in-process mutex.
type BuildStore struct {
	db            *sql.DB
	mu            sync.RWMutex
	dbPath        string
	appendRetries int
}

// Option customizes a BuildStore.
type Option func(*BuildStore)

// WithAppendRetries sets how many times an append retries after a
// task-order uniqueness collision.
func WithAppendRetries(n int) Option {
	return func(s *BuildStore) {
		if n > 0 {
			s.appendRetries = n
		}
	}
}

// NewBuildStore opens (creating if necessary) the SQLite database at
// the given path. Use ":memory:" for tests.
func NewBuildStore(path string, options ...Option) (*BuildStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports one writer; a single pooled connection also
	// keeps ":memory:" databases from fragmenting per connection.
	db.SetMaxOpenConns(1)

	s := &BuildStore{db: db, dbPath: path, appendRetries: 3}
	for _, o := range options {
		o(s)
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.recoverStaleBuilds(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Opened build store at %s", path)
	return s, nil
}

// recoverStaleBuilds sweeps builds left IN_PROGRESS by a crashed
// process back to FAILED. IN_PROGRESS is only ever held for the
// duration of an execute run, so on a fresh open any such build is an
// orphan; marking it FAILED keeps it re-executable.
func (s *BuildStore) recoverStaleBuilds() error {
	res, err := s.db.Exec(
		"UPDATE builds SET status = ?, completed_at = CURRENT_TIMESTAMP WHERE status = ?",
		string(types.BuildFailed), string(types.BuildInProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to recover stale builds: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Store("Recovered %d interrupted build(s) to FAILED", n)
	}
	return nil
}

// initialize applies pragmas and creates the required tables.
func (s *BuildStore) initialize() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	buildsTable := `
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		world TEXT NOT NULL DEFAULT 'minecraft:overworld',
		status TEXT NOT NULL DEFAULT 'CREATED',
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);
	CREATE INDEX IF NOT EXISTS idx_builds_world ON builds(world);
	`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		task_order INTEGER NOT NULL,
		task_type TEXT NOT NULL,
		task_data TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'QUEUED',
		executed_at DATETIME,
		error_message TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		min_x INTEGER, min_y INTEGER, min_z INTEGER,
		max_x INTEGER, max_y INTEGER, max_z INTEGER,
		UNIQUE(build_id, task_order)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_build ON tasks(build_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_bounds_x ON tasks(min_x, max_x);
	CREATE INDEX IF NOT EXISTS idx_tasks_bounds_z ON tasks(min_z, max_z);
	`

	for _, table := range []string{buildsTable, tasksTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *BuildStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a uniqueness-constraint
// failure from the SQLite driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullTime converts an optional instant to a driver value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
