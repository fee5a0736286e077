// Package types defines the core domain entities for voxelforge:
// builds, their ordered task queues, and the integer bounding boxes
// that locate a task's effects in a world.
package types

import "time"

// BuildStatus represents the lifecycle state of a build.
type BuildStatus string

const (
	BuildCreated    BuildStatus = "CREATED"
	BuildInProgress BuildStatus = "IN_PROGRESS"
	BuildCompleted  BuildStatus = "COMPLETED"
	BuildFailed     BuildStatus = "FAILED"
)

// Terminal reports whether the status is an end state.
func (s BuildStatus) Terminal() bool {
	return s == BuildCompleted || s == BuildFailed
}

// TaskStatus represents the lifecycle state of a task.
// Legal transitions: QUEUED -> EXECUTING -> {COMPLETED, FAILED}.
// A FAILED task may be reset to QUEUED by an explicit re-queue.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskExecuting TaskStatus = "EXECUTING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskSkipped   TaskStatus = "SKIPPED"
)

// TaskType discriminates the schema of a task's payload and the
// world-effect primitive that executes it.
type TaskType string

const (
	TaskBlockSet     TaskType = "BLOCK_SET"
	TaskBlockFill    TaskType = "BLOCK_FILL"
	TaskPrefabDoor   TaskType = "PREFAB_DOOR"
	TaskPrefabStairs TaskType = "PREFAB_STAIRS"
	TaskPrefabWindow TaskType = "PREFAB_WINDOW"
	TaskPrefabTorch  TaskType = "PREFAB_TORCH"
	TaskPrefabSign   TaskType = "PREFAB_SIGN"
	TaskPrefabLadder TaskType = "PREFAB_LADDER"
)

// AllTaskTypes lists every known task type.
var AllTaskTypes = []TaskType{
	TaskBlockSet, TaskBlockFill, TaskPrefabDoor, TaskPrefabStairs,
	TaskPrefabWindow, TaskPrefabTorch, TaskPrefabSign, TaskPrefabLadder,
}

// ValidTaskType reports whether t is one of the known task types.
func ValidTaskType(t TaskType) bool {
	for _, k := range AllTaskTypes {
		if k == t {
			return true
		}
	}
	return false
}

// DefaultWorld is the world a build targets when none is given.
const DefaultWorld = "minecraft:overworld"

// Build is a named, persistent container of ordered tasks.
type Build struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	World       string      `json:"world"`
	Status      BuildStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Task is one world-mutation operation within a build.
// TaskData is a self-describing document whose shape is determined
// by Type; it is persisted as JSON.
type Task struct {
	ID           string         `json:"id"`
	BuildID      string         `json:"build_id"`
	Order        int            `json:"task_order"`
	Type         TaskType       `json:"task_type"`
	Data         map[string]any `json:"task_data"`
	Status       TaskStatus     `json:"status"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Description  string         `json:"description,omitempty"`
	Bounds       *BoundingBox   `json:"bounds,omitempty"`
}

// TaskExecutionResult is the outcome of running a single task.
type TaskExecutionResult struct {
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// ExecutionSummary reports the outcome of an execute-build run.
type ExecutionSummary struct {
	BuildID       string `json:"build_id"`
	Success       bool   `json:"success"`
	TasksExecuted int    `json:"tasks_executed"`
	TasksFailed   int    `json:"tasks_failed"`
	Message       string `json:"message"`
}
