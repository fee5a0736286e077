// Package service orchestrates the build/task lifecycle: queue
// edits, validation, bounds derivation and build execution. It is the
// only layer that both reads the store and drives the executor.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxelforge/internal/executor"
	"voxelforge/internal/logging"
	"voxelforge/internal/store"
	"voxelforge/internal/types"
	"voxelforge/internal/validate"
)

// Error taxonomy. Invalid inputs, missing records and state
// conflicts are distinct so transports can map them to different
// status codes.
var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
	ErrConflict = errors.New("conflict")
)

// Config configures a BuildService. Store and Executor are required;
// IDGen and Clock default to uuid.NewString and time.Now.
type Config struct {
	Store    *store.BuildStore
	Executor *executor.TaskExecutor
	IDGen    func() string
	Clock    func() time.Time
}

// BuildService is the lifecycle orchestrator.
type BuildService struct {
	store *store.BuildStore
	exec  *executor.TaskExecutor
	idGen func() string
	clock func() time.Time
}

// NewBuildService creates a service from config.
func NewBuildService(cfg Config) *BuildService {
	idGen := cfg.IDGen
	if idGen == nil {
		idGen = uuid.NewString
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &BuildService{
		store: cfg.Store,
		exec:  cfg.Executor,
		idGen: idGen,
		clock: clock,
	}
}

// CreateBuild persists a new build in CREATED state. An empty world
// falls back to the default overworld.
func (s *BuildService) CreateBuild(name, description, worldName string) (*types.Build, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: build name is required", ErrInvalid)
	}
	if worldName == "" {
		worldName = types.DefaultWorld
	}
	b := &types.Build{
		ID:          s.idGen(),
		Name:        name,
		Description: description,
		World:       worldName,
		Status:      types.BuildCreated,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.store.CreateBuild(b); err != nil {
		return nil, fmt.Errorf("create build: %w", err)
	}
	logging.Service("Created build %s (%s) in %s", b.ID, b.Name, b.World)
	return b, nil
}

// GetBuild returns a build together with its ordered task queue.
func (s *BuildService) GetBuild(id string) (*types.Build, []*types.Task, error) {
	b, err := s.store.GetBuild(id)
	if err != nil {
		return nil, nil, s.wrapStoreErr(err, "build %s", id)
	}
	tasks, err := s.store.GetTasksOrdered(id)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks for build %s: %w", id, err)
	}
	return b, tasks, nil
}

// DeleteBuild removes a build and, via cascade, its tasks.
func (s *BuildService) DeleteBuild(id string) error {
	if err := s.store.DeleteBuild(id); err != nil {
		return s.wrapStoreErr(err, "build %s", id)
	}
	logging.Service("Deleted build %s", id)
	return nil
}

// AddTask validates, defaults and appends a task to the end of the
// build's queue.
func (s *BuildService) AddTask(buildID string, taskType types.TaskType, data map[string]any, description string) (*types.Task, error) {
	if _, err := s.editableBuild(buildID); err != nil {
		return nil, err
	}
	task, err := s.newTask(buildID, taskType, data, description)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AppendTask(task); err != nil {
		return nil, fmt.Errorf("append task: %w", err)
	}
	logging.ServiceDebug("Appended %s task %s to build %s at order %d", taskType, task.ID, buildID, task.Order)
	return task, nil
}

// InsertTaskAt validates the task and splices it into the queue at
// the given position. The position is clamped to [0, len]; the
// resulting orders stay dense.
func (s *BuildService) InsertTaskAt(buildID string, taskType types.TaskType, data map[string]any, description string, position int) (*types.Task, error) {
	if _, err := s.editableBuild(buildID); err != nil {
		return nil, err
	}
	task, err := s.newTask(buildID, taskType, data, description)
	if err != nil {
		return nil, err
	}

	tasks, err := s.store.GetTasksOrdered(buildID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	if position < 0 {
		position = 0
	}
	if position > len(tasks) {
		position = len(tasks)
	}

	queue := make([]*types.Task, 0, len(tasks)+1)
	queue = append(queue, tasks[:position]...)
	queue = append(queue, task)
	queue = append(queue, tasks[position:]...)
	renumber(queue)

	if err := s.store.ReplaceTaskQueue(buildID, queue); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// renumber compacts task orders back to 0..n-1.
func renumber(queue []*types.Task) {
	for i, t := range queue {
		t.Order = i
	}
}

// PatchTask shallow-merges a partial payload onto the task's data
// and/or replaces its description, then recomputes bounds from the
// merged payload. With requeue set, a FAILED task is reset to QUEUED
// so the next execute run retries it. Status is otherwise untouched.
func (s *BuildService) PatchTask(buildID, taskID string, data map[string]any, description *string, requeue bool) (*types.Task, error) {
	if _, err := s.editableBuild(buildID); err != nil {
		return nil, err
	}
	if len(data) == 0 && description == nil && !requeue {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalid)
	}

	task, err := s.taskInBuild(buildID, taskID)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		merged := make(map[string]any, len(task.Data)+len(data))
		for k, v := range task.Data {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		if err := validate.TaskData(task.Type, merged); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		task.Data = merged
		task.Bounds, _ = types.DeriveBounds(task.Type, merged)
	}
	if description != nil {
		task.Description = *description
	}

	if err := s.store.UpdateTaskPayload(task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if requeue && task.Status == types.TaskFailed {
		task.Status = types.TaskQueued
		task.ExecutedAt = nil
		task.ErrorMessage = ""
		if err := s.store.UpdateTaskStatus(task.ID, types.TaskQueued, nil, ""); err != nil {
			return nil, fmt.Errorf("requeue task: %w", err)
		}
		logging.ServiceDebug("Requeued task %s in build %s", taskID, buildID)
	}
	return task, nil
}

// DeleteTask removes the task and compacts the remaining orders back
// to [0, n-1] in one transaction.
func (s *BuildService) DeleteTask(buildID, taskID string) error {
	if _, err := s.editableBuild(buildID); err != nil {
		return err
	}
	tasks, err := s.store.GetTasksOrdered(buildID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	queue := make([]*types.Task, 0, len(tasks))
	found := false
	for _, t := range tasks {
		if t.ID == taskID {
			found = true
			continue
		}
		queue = append(queue, t)
	}
	if !found {
		return fmt.Errorf("%w: task %s in build %s", ErrNotFound, taskID, buildID)
	}
	renumber(queue)
	if err := s.store.ReplaceTaskQueue(buildID, queue); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// ListTasks returns the build's queue in task_order.
func (s *BuildService) ListTasks(buildID string) ([]*types.Task, error) {
	if _, err := s.store.GetBuild(buildID); err != nil {
		return nil, s.wrapStoreErr(err, "build %s", buildID)
	}
	tasks, err := s.store.GetTasksOrdered(buildID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return tasks, nil
}

// ReorderQueue rewrites the queue order from an id list. The list
// must be a complete permutation of the build's current task ids.
func (s *BuildService) ReorderQueue(buildID string, orderedIDs []string) error {
	if _, err := s.editableBuild(buildID); err != nil {
		return err
	}
	tasks, err := s.store.GetTasksOrdered(buildID)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	if len(orderedIDs) != len(tasks) {
		return fmt.Errorf("%w: got %d task ids, build has %d tasks", ErrInvalid, len(orderedIDs), len(tasks))
	}

	queue := make([]*types.Task, 0, len(orderedIDs))
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		t, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: task %s does not belong to build %s", ErrInvalid, id, buildID)
		}
		if seen[id] {
			return fmt.Errorf("%w: task %s listed twice", ErrInvalid, id)
		}
		seen[id] = true
		queue = append(queue, t)
	}
	renumber(queue)

	if err := s.store.ReplaceTaskQueue(buildID, queue); err != nil {
		return fmt.Errorf("reorder queue: %w", err)
	}
	return nil
}

// ExecuteBuild runs every non-COMPLETED task in order. A failing
// task never stops the run; the build finishes COMPLETED only when
// zero tasks failed in this run.
func (s *BuildService) ExecuteBuild(ctx context.Context, buildID string) (*types.ExecutionSummary, error) {
	build, err := s.store.GetBuild(buildID)
	if err != nil {
		return nil, s.wrapStoreErr(err, "build %s", buildID)
	}
	if build.Status == types.BuildCompleted {
		return nil, fmt.Errorf("%w: build %s is already completed", ErrConflict, buildID)
	}

	// Only one caller wins the transition; a concurrent run of the
	// same build is refused instead of racing the queue.
	started, err := s.store.TransitionBuildStatus(buildID,
		[]types.BuildStatus{types.BuildCreated, types.BuildFailed}, types.BuildInProgress)
	if err != nil {
		return nil, fmt.Errorf("start build: %w", err)
	}
	if !started {
		return nil, fmt.Errorf("%w: build %s is already executing", ErrConflict, buildID)
	}

	// A build must never be stranded IN_PROGRESS: every exit from
	// here on lands it back on a terminal status so a later run can
	// pick it up again.
	tasks, err := s.store.GetTasksOrdered(buildID)
	if err != nil {
		return nil, s.abortRun(buildID, fmt.Errorf("load tasks: %w", err))
	}

	timer := logging.StartTimer(logging.CategoryService, fmt.Sprintf("execute build %s", buildID))
	defer timer.Stop()

	executed, failed := 0, 0
	for _, task := range tasks {
		if task.Status == types.TaskCompleted {
			continue
		}
		res := s.exec.Execute(ctx, build.World, task)
		if err := s.store.UpdateTaskStatus(task.ID, task.Status, task.ExecutedAt, task.ErrorMessage); err != nil {
			return nil, s.abortRun(buildID, fmt.Errorf("persist task %s: %w", task.ID, err))
		}
		if res.Success {
			executed++
		} else {
			failed++
		}
	}

	final := types.BuildCompleted
	if failed > 0 {
		final = types.BuildFailed
	}
	completedAt := s.clock().UTC()
	if err := s.store.UpdateBuildStatus(buildID, final, &completedAt); err != nil {
		return nil, fmt.Errorf("finish build: %w", err)
	}

	msg := fmt.Sprintf("executed %d tasks, %d failed", executed, failed)
	logging.Service("Build %s finished %s: %s", buildID, final, msg)
	return &types.ExecutionSummary{
		BuildID:       buildID,
		Success:       failed == 0,
		TasksExecuted: executed,
		TasksFailed:   failed,
		Message:       msg,
	}, nil
}

// abortRun marks a build FAILED after a storage error interrupted an
// execute run, so it does not stay IN_PROGRESS forever. The original
// error is returned either way.
func (s *BuildService) abortRun(buildID string, cause error) error {
	now := s.clock().UTC()
	if err := s.store.UpdateBuildStatus(buildID, types.BuildFailed, &now); err != nil {
		logging.Service("Could not mark build %s FAILED after aborted run: %v", buildID, err)
	}
	return cause
}

// newTask validates the payload and materializes a QUEUED task with
// derived bounds. The order is assigned at persistence time.
func (s *BuildService) newTask(buildID string, taskType types.TaskType, data map[string]any, description string) (*types.Task, error) {
	if !types.ValidTaskType(taskType) {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalid, taskType)
	}
	if err := validate.TaskData(taskType, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	data = validate.ApplyDefaults(taskType, data)
	bounds, _ := types.DeriveBounds(taskType, data)
	return &types.Task{
		ID:          s.idGen(),
		BuildID:     buildID,
		Type:        taskType,
		Data:        data,
		Status:      types.TaskQueued,
		Description: description,
		Bounds:      bounds,
	}, nil
}

// editableBuild loads the build and refuses queue edits once it is
// COMPLETED. FAILED builds stay editable so the agent can patch and
// re-execute the failed tail.
func (s *BuildService) editableBuild(buildID string) (*types.Build, error) {
	b, err := s.store.GetBuild(buildID)
	if err != nil {
		return nil, s.wrapStoreErr(err, "build %s", buildID)
	}
	if b.Status == types.BuildCompleted {
		return nil, fmt.Errorf("%w: build %s is completed", ErrConflict, buildID)
	}
	return b, nil
}

func (s *BuildService) taskInBuild(buildID, taskID string) (*types.Task, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, s.wrapStoreErr(err, "task %s", taskID)
	}
	if task.BuildID != buildID {
		return nil, fmt.Errorf("%w: task %s in build %s", ErrNotFound, taskID, buildID)
	}
	return task, nil
}

func (s *BuildService) wrapStoreErr(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
