package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voxelforge/internal/logging"
	"voxelforge/internal/types"
)

const taskColumns = `id, build_id, task_order, task_type, task_data, status,
	executed_at, error_message, description,
	min_x, min_y, min_z, max_x, max_y, max_z`

// AppendTask inserts a task at the end of a build's queue, assigning
// the next dense task_order. Concurrent appends racing for the same
// slot are resolved by the (build_id, task_order) uniqueness
// constraint plus retry.
func (s *BuildStore) AppendTask(task *types.Task) (*types.Task, error) {
	for attempt := 0; attempt < s.appendRetries; attempt++ {
		err := s.appendTaskOnce(task)
		if err == nil {
			return task, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		logging.StoreDebug("Append collision for build %s (attempt %d), retrying", task.BuildID, attempt+1)
	}
	return nil, fmt.Errorf("%w: build %s", ErrOrderConflict, task.BuildID)
}

func (s *BuildStore) appendTaskOnce(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRow(
		"SELECT COALESCE(MAX(task_order), -1) + 1 FROM tasks WHERE build_id = ?",
		task.BuildID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to find next task order: %w", err)
	}

	task.Order = next
	if err := insertTask(tx, task); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}

	logging.StoreDebug("Appended task %s to build %s at order %d", task.ID, task.BuildID, next)
	return nil
}

// insertTask writes one task row inside an existing transaction.
func insertTask(tx *sql.Tx, t *types.Task) error {
	data, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal task data: %w", err)
	}

	var minX, minY, minZ, maxX, maxY, maxZ any
	if t.Bounds != nil {
		minX, minY, minZ = t.Bounds.MinX, t.Bounds.MinY, t.Bounds.MinZ
		maxX, maxY, maxZ = t.Bounds.MaxX, t.Bounds.MaxY, t.Bounds.MaxZ
	}

	_, err = tx.Exec(
		`INSERT INTO tasks (id, build_id, task_order, task_type, task_data, status,
			executed_at, error_message, description,
			min_x, min_y, min_z, max_x, max_y, max_z)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BuildID, t.Order, string(t.Type), string(data), string(t.Status),
		nullTime(t.ExecutedAt), t.ErrorMessage, t.Description,
		minX, minY, minZ, maxX, maxY, maxZ,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask loads a task by id. Returns ErrNotFound when absent.
func (s *BuildStore) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTasksOrdered returns a build's tasks in task_order ascending.
func (s *BuildStore) GetTasksOrdered(buildID string) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE build_id = ? ORDER BY task_order ASC",
		buildID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ReplaceTaskQueue swaps a build's entire task queue in one
// transaction: delete all rows, reinsert the given tasks with their
// Order fields as-is. Readers never observe the intermediate empty
// queue because the delete and the inserts commit together.
func (s *BuildStore) ReplaceTaskQueue(buildID string, tasks []*types.Task) error {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaceTaskQueue")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin queue replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM tasks WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	for _, t := range tasks {
		if t.BuildID != buildID {
			return fmt.Errorf("task %s belongs to build %s, not %s", t.ID, t.BuildID, buildID)
		}
		if err := insertTask(tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue replace: %w", err)
	}

	logging.StoreDebug("Replaced queue for build %s with %d tasks", buildID, len(tasks))
	return nil
}

// UpdateTaskStatus records a task's status transition.
func (s *BuildStore) UpdateTaskStatus(taskID string, status types.TaskStatus, executedAt *time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE tasks SET status = ?, executed_at = ?, error_message = ? WHERE id = ?",
		string(status), nullTime(executedAt), errorMessage, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskPayload rewrites a task's data, description, and bounds.
// Status and ordering are untouched.
func (s *BuildStore) UpdateTaskPayload(t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(t.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal task data: %w", err)
	}

	var minX, minY, minZ, maxX, maxY, maxZ any
	if t.Bounds != nil {
		minX, minY, minZ = t.Bounds.MinX, t.Bounds.MinY, t.Bounds.MinZ
		maxX, maxY, maxZ = t.Bounds.MaxX, t.Bounds.MaxY, t.Bounds.MaxZ
	}

	res, err := s.db.Exec(
		`UPDATE tasks SET task_data = ?, description = ?,
			min_x = ?, min_y = ?, min_z = ?, max_x = ?, max_y = ?, max_z = ?
		 WHERE id = ?`,
		string(data), t.Description, minX, minY, minZ, maxX, maxY, maxZ, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a single task. The caller renumbers the
// remaining queue.
func (s *BuildStore) DeleteTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasksIntersecting returns tasks in the given world whose bounds
// intersect the box, ordered by build creation time then task order.
// Tasks without bounds are never returned.
func (s *BuildStore) ListTasksIntersecting(world string, box types.BoundingBox) ([]*types.Task, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListTasksIntersecting")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT t.id, t.build_id, t.task_order, t.task_type, t.task_data, t.status,
			t.executed_at, t.error_message, t.description,
			t.min_x, t.min_y, t.min_z, t.max_x, t.max_y, t.max_z
		 FROM tasks t
		 JOIN builds b ON b.id = t.build_id
		 WHERE b.world = ?
		   AND t.min_x IS NOT NULL
		   AND t.min_x <= ? AND t.max_x >= ?
		   AND t.min_y <= ? AND t.max_y >= ?
		   AND t.min_z <= ? AND t.max_z >= ?
		 ORDER BY b.created_at ASC, b.id ASC, t.task_order ASC`,
		world,
		box.MaxX, box.MinX,
		box.MaxY, box.MinY,
		box.MaxZ, box.MinZ,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query intersecting tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(r rowScanner) (*types.Task, error) {
	var t types.Task
	var taskType, status, dataJSON string
	var executedAt sql.NullTime
	var minX, minY, minZ, maxX, maxY, maxZ sql.NullInt64

	err := r.Scan(&t.ID, &t.BuildID, &t.Order, &taskType, &dataJSON, &status,
		&executedAt, &t.ErrorMessage, &t.Description,
		&minX, &minY, &minZ, &maxX, &maxY, &maxZ)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Type = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	if executedAt.Valid {
		ts := executedAt.Time
		t.ExecutedAt = &ts
	}
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &t.Data); err != nil {
			return nil, fmt.Errorf("failed to decode task data for %s: %w", t.ID, err)
		}
	}
	if minX.Valid && minY.Valid && minZ.Valid && maxX.Valid && maxY.Valid && maxZ.Valid {
		t.Bounds = &types.BoundingBox{
			MinX: int(minX.Int64), MinY: int(minY.Int64), MinZ: int(minZ.Int64),
			MaxX: int(maxX.Int64), MaxY: int(maxY.Int64), MaxZ: int(maxZ.Int64),
		}
	}
	return &t, nil
}
