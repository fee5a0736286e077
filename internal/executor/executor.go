// Package executor turns persisted task payloads into world-effect
// calls. It owns the payload-to-request translation and the per-task
// timeout; queue traversal and persistence stay with the service.
package executor

import (
	"context"
	"fmt"
	"time"

	"voxelforge/internal/logging"
	"voxelforge/internal/types"
	"voxelforge/internal/validate"
	"voxelforge/internal/world"
)

// DefaultTaskTimeout bounds a single task's world dispatch.
const DefaultTaskTimeout = 30 * time.Second

// Config configures a TaskExecutor.
type Config struct {
	Effector world.Effector
	// Timeout per task; zero means DefaultTaskTimeout.
	Timeout time.Duration
}

// TaskExecutor executes one task at a time against an Effector.
type TaskExecutor struct {
	effector world.Effector
	timeout  time.Duration
	now      func() time.Time
}

// NewTaskExecutor creates an executor from config.
func NewTaskExecutor(cfg Config) *TaskExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &TaskExecutor{
		effector: cfg.Effector,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Execute runs a single task against the given world and updates the
// task's status, executed-at timestamp and error message in place.
// The caller persists the mutated task. Execute never returns an
// error: every failure mode is reported through the result so a queue
// run can continue past a bad task.
func (e *TaskExecutor) Execute(ctx context.Context, worldName string, task *types.Task) *types.TaskExecutionResult {
	timer := logging.StartTimer(logging.CategoryExecutor, fmt.Sprintf("task %s (%s)", task.ID, task.Type))
	defer timer.Stop()

	task.Status = types.TaskExecuting

	if err := validate.TaskData(task.Type, task.Data); err != nil {
		return e.fail(task, fmt.Sprintf("invalid task data: %v", err))
	}

	// A task may target a different world than its build.
	if w, ok := types.StringField(task.Data, "world"); ok && w != "" {
		worldName = w
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.dispatch(ctx, worldName, task)
	if err != nil {
		return e.fail(task, fmt.Sprintf("world dispatch: %v", err))
	}
	if !res.Success {
		return e.fail(task, res.Error)
	}

	now := e.now().UTC()
	task.Status = types.TaskCompleted
	task.ExecutedAt = &now
	task.ErrorMessage = ""

	details := map[string]any{"blocks_changed": res.BlocksChanged}
	for k, v := range res.Details {
		details[k] = v
	}
	logging.ExecutorDebug("Task %s completed: %d blocks changed", task.ID, res.BlocksChanged)
	return &types.TaskExecutionResult{Success: true, Details: details}
}

func (e *TaskExecutor) fail(task *types.Task, msg string) *types.TaskExecutionResult {
	now := e.now().UTC()
	task.Status = types.TaskFailed
	task.ExecutedAt = &now
	task.ErrorMessage = msg
	logging.Executor("Task %s failed: %s", task.ID, msg)
	return &types.TaskExecutionResult{Success: false, ErrorMessage: msg}
}

func (e *TaskExecutor) dispatch(ctx context.Context, worldName string, task *types.Task) (*world.EffectResult, error) {
	d := task.Data
	switch task.Type {
	case types.TaskBlockSet:
		return e.effector.SetBlocks(ctx, world.BlockSetRequest{
			World:  worldName,
			StartX: intOf(d, "start_x"),
			StartY: intOf(d, "start_y"),
			StartZ: intOf(d, "start_z"),
			Blocks: blockGrid(d["blocks"]),
		})
	case types.TaskBlockFill:
		return e.effector.FillBox(ctx, world.FillRequest{
			World: worldName,
			X1:    intOf(d, "x1"), Y1: intOf(d, "y1"), Z1: intOf(d, "z1"),
			X2: intOf(d, "x2"), Y2: intOf(d, "y2"), Z2: intOf(d, "z2"),
			BlockType:       stringOf(d, "block_type"),
			NotifyNeighbors: boolOf(d, "notify_neighbors"),
		})
	case types.TaskPrefabDoor:
		return e.effector.PlaceDoor(ctx, world.DoorRequest{
			World: worldName,
			X:     intOf(d, "start_x"),
			Y:     intOf(d, "start_y"),
			Z:     intOf(d, "start_z"),
			Facing:      stringOf(d, "facing"),
			BlockType:   stringOf(d, "block_type"),
			Width:       intOf(d, "width"),
			Hinge:       stringOf(d, "hinge"),
			Open:        boolOf(d, "open"),
			DoubleDoors: boolOf(d, "double_doors"),
		})
	case types.TaskPrefabStairs:
		return e.effector.PlaceStairs(ctx, world.StairsRequest{
			World:  worldName,
			StartX: intOf(d, "start_x"),
			StartY: intOf(d, "start_y"),
			StartZ: intOf(d, "start_z"),
			EndX:   intOf(d, "end_x"),
			EndY:   intOf(d, "end_y"),
			EndZ:   intOf(d, "end_z"),
			BlockType:   stringOf(d, "block_type"),
			StairType:   stringOf(d, "stair_type"),
			Direction:   stringOf(d, "staircase_direction"),
			FillSupport: boolOf(d, "fill_support"),
		})
	case types.TaskPrefabWindow:
		return e.effector.PlaceWindow(ctx, world.WindowRequest{
			World:  worldName,
			StartX: intOf(d, "start_x"),
			StartY: intOf(d, "start_y"),
			StartZ: intOf(d, "start_z"),
			EndX:   intOf(d, "end_x"),
			EndZ:   intOf(d, "end_z"),
			Height:      intOf(d, "height"),
			BlockType:   stringOf(d, "block_type"),
			Waterlogged: boolOf(d, "waterlogged"),
		})
	case types.TaskPrefabTorch:
		return e.effector.PlaceTorch(ctx, world.TorchRequest{
			World: worldName,
			X:     intOf(d, "x"), Y: intOf(d, "y"), Z: intOf(d, "z"),
			BlockType: stringOf(d, "block_type"),
			Facing:    stringOf(d, "facing"),
		})
	case types.TaskPrefabSign:
		return e.effector.PlaceSign(ctx, world.SignRequest{
			World: worldName,
			X:     intOf(d, "x"), Y: intOf(d, "y"), Z: intOf(d, "z"),
			BlockType:  stringOf(d, "block_type"),
			FrontLines: stringSlice(d, "front_lines"),
			BackLines:  stringSlice(d, "back_lines"),
			Rotation:   intOf(d, "rotation"),
			Facing:     stringOf(d, "facing"),
			Glowing:    boolOf(d, "glowing"),
		})
	case types.TaskPrefabLadder:
		return e.effector.PlaceLadder(ctx, world.LadderRequest{
			World: worldName,
			X:     intOf(d, "x"), Y: intOf(d, "y"), Z: intOf(d, "z"),
			Height:    intOf(d, "height"),
			BlockType: stringOf(d, "block_type"),
			Facing:    stringOf(d, "facing"),
		})
	default:
		return nil, fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// Payload accessors. Validation already ran, so missing values fall
// back to zero rather than erroring twice.

func intOf(d map[string]any, key string) int {
	v, _ := types.IntField(d, key)
	return v
}

func stringOf(d map[string]any, key string) string {
	v, _ := types.StringField(d, key)
	return v
}

func boolOf(d map[string]any, key string) bool {
	v, _ := types.BoolField(d, key)
	return v
}

func stringSlice(d map[string]any, key string) []string {
	raw, ok := d[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// blockGrid converts the JSON [x][y][z] block array into typed form.
func blockGrid(v any) [][][]*world.Block {
	xs, ok := v.([]any)
	if !ok {
		return nil
	}
	grid := make([][][]*world.Block, len(xs))
	for x, col := range xs {
		ys, ok := col.([]any)
		if !ok {
			continue
		}
		grid[x] = make([][]*world.Block, len(ys))
		for y, row := range ys {
			zs, ok := row.([]any)
			if !ok {
				continue
			}
			grid[x][y] = make([]*world.Block, len(zs))
			for z, cell := range zs {
				obj, ok := cell.(map[string]any)
				if !ok {
					continue // null cell
				}
				b := &world.Block{Name: stringOf(obj, "block_name")}
				if props, ok := obj["properties"].(map[string]any); ok && len(props) > 0 {
					b.Properties = make(map[string]string, len(props))
					for k, pv := range props {
						b.Properties[k] = fmt.Sprint(pv)
					}
				}
				grid[x][y][z] = b
			}
		}
	}
	return grid
}
