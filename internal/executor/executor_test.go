package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelforge/internal/types"
	"voxelforge/internal/world"
)

func newTestExecutor(t *testing.T) (*TaskExecutor, *world.MemoryWorld) {
	t.Helper()
	loop := world.NewTickLoop()
	t.Cleanup(loop.Close)
	backend := world.NewMemoryWorld(loop)
	return NewTaskExecutor(Config{Effector: backend}), backend
}

func queuedTask(taskType types.TaskType, data map[string]any) *types.Task {
	return &types.Task{
		ID:      "task-1",
		BuildID: "build-1",
		Type:    taskType,
		Data:    data,
		Status:  types.TaskQueued,
	}
}

func TestExecuteFillSucceeds(t *testing.T) {
	exec, backend := newTestExecutor(t)

	task := queuedTask(types.TaskBlockFill, map[string]any{
		"x1": 0, "y1": 64, "z1": 0, "x2": 2, "y2": 64, "z2": 2,
		"block_type": "minecraft:stone",
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.True(t, res.Success, "error: %s", res.ErrorMessage)
	assert.Equal(t, types.TaskCompleted, task.Status)
	require.NotNil(t, task.ExecutedAt)
	assert.Empty(t, task.ErrorMessage)
	assert.Equal(t, 9, res.Details["blocks_changed"])
	assert.Equal(t, 9, backend.BlockCount(types.DefaultWorld))
}

func TestExecuteRejectsInvalidPayload(t *testing.T) {
	exec, backend := newTestExecutor(t)

	// Missing coordinates and block_type.
	task := queuedTask(types.TaskBlockFill, map[string]any{"x1": 0})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.False(t, res.Success)
	assert.Equal(t, types.TaskFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "invalid task data")
	require.NotNil(t, task.ExecutedAt)
	assert.Zero(t, backend.BlockCount(types.DefaultWorld), "invalid task reached the world")
}

func TestExecuteSurfacesWorldFailure(t *testing.T) {
	exec, _ := newTestExecutor(t)

	// Valid payload, but the backend refuses the oversized volume.
	task := queuedTask(types.TaskBlockFill, map[string]any{
		"x1": 0, "y1": 0, "z1": 0, "x2": 99, "y2": 99, "z2": 99,
		"block_type": "minecraft:stone",
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.False(t, res.Success)
	assert.Equal(t, types.TaskFailed, task.Status)
	assert.Contains(t, res.ErrorMessage, "exceeds limit")
}

func TestExecuteHonorsPerTaskWorldOverride(t *testing.T) {
	exec, backend := newTestExecutor(t)

	task := queuedTask(types.TaskBlockFill, map[string]any{
		"x1": 0, "y1": 0, "z1": 0, "x2": 0, "y2": 0, "z2": 0,
		"block_type": "minecraft:netherrack",
		"world":      "minecraft:the_nether",
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.True(t, res.Success)
	assert.Equal(t, 1, backend.BlockCount("minecraft:the_nether"))
	assert.Zero(t, backend.BlockCount(types.DefaultWorld))
}

func TestExecuteBlockSetGrid(t *testing.T) {
	exec, backend := newTestExecutor(t)

	// One column, two layers, one of them null.
	task := queuedTask(types.TaskBlockSet, map[string]any{
		"start_x": 10, "start_y": 64, "start_z": 10,
		"blocks": []any{
			[]any{
				[]any{map[string]any{
					"block_name": "minecraft:chiseled_stone_bricks",
					"properties": map[string]any{"axis": "y"},
				}},
				[]any{nil},
			},
		},
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.True(t, res.Success, "error: %s", res.ErrorMessage)
	assert.Equal(t, 1, res.Details["blocks_changed"])

	b, ok := backend.BlockAt(types.DefaultWorld, 10, 64, 10)
	require.True(t, ok)
	assert.Equal(t, "minecraft:chiseled_stone_bricks", b.Name)
	assert.Equal(t, "y", b.Properties["axis"])
}

func TestExecutePrefabDoor(t *testing.T) {
	exec, backend := newTestExecutor(t)

	task := queuedTask(types.TaskPrefabDoor, map[string]any{
		"start_x": 0, "start_y": 64, "start_z": 0,
		"facing":     "north",
		"block_type": "minecraft:oak_door",
		"width":      1,
		"hinge":      "left",
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.True(t, res.Success, "error: %s", res.ErrorMessage)
	assert.Equal(t, 2, res.Details["blocks_changed"])
	_, lowerOK := backend.BlockAt(types.DefaultWorld, 0, 64, 0)
	_, upperOK := backend.BlockAt(types.DefaultWorld, 0, 65, 0)
	assert.True(t, lowerOK && upperOK)
}

func TestExecutePrefabSignLines(t *testing.T) {
	exec, backend := newTestExecutor(t)

	task := queuedTask(types.TaskPrefabSign, map[string]any{
		"x": 1, "y": 70, "z": 1,
		"block_type":  "minecraft:birch_sign",
		"front_lines": []any{"Keep", "Out"},
		"rotation":    4,
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.True(t, res.Success, "error: %s", res.ErrorMessage)
	b, ok := backend.BlockAt(types.DefaultWorld, 1, 70, 1)
	require.True(t, ok)
	assert.Equal(t, "Keep\nOut", b.Properties["front_text"])
	assert.Equal(t, "4", b.Properties["rotation"])
}

func TestExecuteUnknownTypeFails(t *testing.T) {
	exec, _ := newTestExecutor(t)

	task := queuedTask(types.TaskType("TELEPORT"), map[string]any{})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.False(t, res.Success)
	assert.Equal(t, types.TaskFailed, task.Status)
}

func TestExecuteTimeoutFailsTask(t *testing.T) {
	loop := world.NewTickLoop()
	t.Cleanup(loop.Close)

	// Stall the tick loop so the dispatch cannot run in time.
	release := make(chan struct{})
	done, err := loop.Submit(func() { <-release })
	require.NoError(t, err)
	t.Cleanup(func() {
		close(release)
		<-done
	})

	exec := NewTaskExecutor(Config{
		Effector: world.NewMemoryWorld(loop),
		Timeout:  20 * time.Millisecond,
	})
	task := queuedTask(types.TaskBlockFill, map[string]any{
		"x1": 0, "y1": 0, "z1": 0, "x2": 0, "y2": 0, "z2": 0,
		"block_type": "minecraft:stone",
	})
	res := exec.Execute(context.Background(), types.DefaultWorld, task)

	require.False(t, res.Success)
	assert.Equal(t, types.TaskFailed, task.Status)
	assert.Contains(t, res.ErrorMessage, "world dispatch")
}
