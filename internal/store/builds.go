package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voxelforge/internal/logging"
	"voxelforge/internal/types"
)

// CreateBuild stores a new build record.
func (s *BuildStore) CreateBuild(b *types.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Creating build: id=%s name=%q world=%s", b.ID, b.Name, b.World)

	_, err := s.db.Exec(
		`INSERT INTO builds (id, name, description, world, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, b.World, string(b.Status), b.CreatedAt, nullTime(b.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	return nil
}

// GetBuild loads a build by id. Returns ErrNotFound when absent.
func (s *BuildStore) GetBuild(id string) (*types.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, name, description, world, status, created_at, completed_at
		 FROM builds WHERE id = ?`, id)
	return scanBuild(row)
}

// UpdateBuildStatus sets a build's status and, for terminal statuses,
// its completion instant.
func (s *BuildStore) UpdateBuildStatus(id string, status types.BuildStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE builds SET status = ?, completed_at = ? WHERE id = ?",
		string(status), nullTime(completedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update build status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	logging.StoreDebug("Build %s status -> %s", id, status)
	return nil
}

// TransitionBuildStatus conditionally moves a build from one of the
// given statuses to a new status. It reports whether the transition
// happened; a false result with nil error means another caller (or a
// frozen state) holds the build.
func (s *BuildStore) TransitionBuildStatus(id string, from []types.BuildStatus, to types.BuildStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}

	query := "UPDATE builds SET status = ?, completed_at = NULL WHERE id = ? AND status IN (?"
	args := []any{string(to), id, string(from[0])}
	for _, f := range from[1:] {
		query += ", ?"
		args = append(args, string(f))
	}
	query += ")"

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition build status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("Build %s transitioned %v -> %s", id, from, to)
	}
	return n > 0, nil
}

// DeleteBuild removes a build; its tasks go with it via the cascade.
func (s *BuildStore) DeleteBuild(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM builds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete build: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	logging.Store("Deleted build %s", id)
	return nil
}

// ListBuildsIntersecting returns builds in the given world that have
// at least one task whose bounds intersect the box, ordered by
// creation time ascending (ties broken by id).
func (s *BuildStore) ListBuildsIntersecting(world string, box types.BoundingBox) ([]*types.Build, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListBuildsIntersecting")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT b.id, b.name, b.description, b.world, b.status, b.created_at, b.completed_at
		 FROM builds b
		 JOIN tasks t ON t.build_id = b.id
		 WHERE b.world = ?
		   AND t.min_x IS NOT NULL
		   AND t.min_x <= ? AND t.max_x >= ?
		   AND t.min_y <= ? AND t.max_y >= ?
		   AND t.min_z <= ? AND t.max_z >= ?
		 ORDER BY b.created_at ASC, b.id ASC`,
		world,
		box.MaxX, box.MinX,
		box.MaxY, box.MinY,
		box.MaxZ, box.MinZ,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query intersecting builds: %w", err)
	}
	defer rows.Close()

	var builds []*types.Build
	for rows.Next() {
		b, err := scanBuildRows(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row *sql.Row) (*types.Build, error) {
	b, err := scanBuildFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func scanBuildRows(rows *sql.Rows) (*types.Build, error) {
	return scanBuildFrom(rows)
}

func scanBuildFrom(r rowScanner) (*types.Build, error) {
	var b types.Build
	var status string
	var completedAt sql.NullTime
	err := r.Scan(&b.ID, &b.Name, &b.Description, &b.World, &status, &b.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan build: %w", err)
	}
	b.Status = types.BuildStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return &b, nil
}
