package locate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelforge/internal/service"
	"voxelforge/internal/store"
	"voxelforge/internal/types"
)

func newTestStore(t *testing.T) *store.BuildStore {
	t.Helper()
	st, err := store.NewBuildStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestLocate(t *testing.T, st *store.BuildStore) *LocationService {
	t.Helper()
	return NewLocationService(Config{Store: st})
}

// addBuild persists a build with an explicit creation time.
func addBuild(t *testing.T, st *store.BuildStore, name, world string, status types.BuildStatus, createdAt time.Time) *types.Build {
	t.Helper()
	b := &types.Build{
		ID:        name,
		Name:      name,
		World:     world,
		Status:    status,
		CreatedAt: createdAt,
	}
	require.NoError(t, st.CreateBuild(b))
	return b
}

// addTask appends a task with derived bounds to a build.
func addTask(t *testing.T, st *store.BuildStore, buildID, taskID string, taskType types.TaskType, data map[string]any) *types.Task {
	t.Helper()
	bounds, _ := types.DeriveBounds(taskType, data)
	task := &types.Task{
		ID:      taskID,
		BuildID: buildID,
		Type:    taskType,
		Data:    data,
		Status:  types.TaskQueued,
		Bounds:  bounds,
	}
	_, err := st.AppendTask(task)
	require.NoError(t, err)
	return task
}

func fillData(x1, y1, z1, x2, y2, z2 int) map[string]any {
	return map[string]any{
		"x1": x1, "y1": y1, "z1": z1, "x2": x2, "y2": y2, "z2": z2,
		"block_type": "minecraft:stone",
	}
}

func stairsData(sx, sy, sz, ex, ey, ez int, direction string) map[string]any {
	return map[string]any{
		"start_x": sx, "start_y": sy, "start_z": sz,
		"end_x": ex, "end_y": ey, "end_z": ez,
		"block_type": "minecraft:stone", "stair_type": "minecraft:stone_stairs",
		"staircase_direction": direction,
	}
}

func hitNames(report *LocationReport) []string {
	names := make([]string, len(report.Builds))
	for i, h := range report.Builds {
		names[i] = h.Build.Name
	}
	return names
}

func TestQueryChronologicalOrder(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	early := addBuild(t, st, "early", types.DefaultWorld, types.BuildCompleted, base.Add(10*time.Second))
	late := addBuild(t, st, "late", types.DefaultWorld, types.BuildCompleted, base.Add(20*time.Second))

	// Same footprint for both builds.
	addTask(t, st, late.ID, "t-late", types.TaskBlockFill, fillData(1, 64, 1, 5, 68, 5))
	addTask(t, st, early.ID, "t-early", types.TaskBlockFill, fillData(1, 64, 1, 5, 68, 5))

	report, err := loc.QueryByLocation(context.Background(), types.DefaultWorld,
		types.NewBoundingBox(1, 64, 1, 5, 68, 5), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"early", "late"}, hitNames(report))
	assert.Equal(t, 2, report.BuildCount)
	assert.Equal(t, 2, report.TotalTaskCount)
}

func TestQueryFiltersInProgress(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)
	now := time.Now().UTC()

	done := addBuild(t, st, "done", types.DefaultWorld, types.BuildCompleted, now)
	pending := addBuild(t, st, "pending", types.DefaultWorld, types.BuildCreated, now.Add(time.Second))
	addTask(t, st, done.ID, "t1", types.TaskBlockFill, fillData(0, 0, 0, 3, 3, 3))
	addTask(t, st, pending.ID, "t2", types.TaskBlockFill, fillData(0, 0, 0, 3, 3, 3))

	box := types.NewBoundingBox(0, 0, 0, 3, 3, 3)

	completedOnly, err := loc.QueryByLocation(context.Background(), types.DefaultWorld, box, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, hitNames(completedOnly))

	all, err := loc.QueryByLocation(context.Background(), types.DefaultWorld, box, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "pending"}, hitNames(all))
}

func TestQueryAttachesOnlyIntersectingTasks(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	b := addBuild(t, st, "mixed", types.DefaultWorld, types.BuildCompleted, time.Now().UTC())
	inside := addTask(t, st, b.ID, "inside", types.TaskBlockFill, fillData(0, 64, 0, 2, 66, 2))
	addTask(t, st, b.ID, "outside", types.TaskBlockFill, fillData(100, 64, 100, 102, 66, 102))

	report, err := loc.QueryByLocation(context.Background(), types.DefaultWorld,
		types.NewBoundingBox(0, 60, 0, 5, 70, 5), false)
	require.NoError(t, err)

	require.Len(t, report.Builds, 1)
	require.Len(t, report.Builds[0].Tasks, 1)
	assert.Equal(t, inside.ID, report.Builds[0].Tasks[0].ID)
	assert.Equal(t, 1, report.TotalTaskCount)
}

func TestQueryWorldIsolation(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	nether := addBuild(t, st, "nether-hub", "minecraft:the_nether", types.BuildCompleted, time.Now().UTC())
	addTask(t, st, nether.ID, "t1", types.TaskBlockFill, fillData(0, 64, 0, 4, 68, 4))

	report, err := loc.QueryByLocation(context.Background(), types.DefaultWorld,
		types.NewBoundingBox(0, 64, 0, 4, 68, 4), false)
	require.NoError(t, err)
	assert.Empty(t, report.Builds)
	assert.Zero(t, report.BuildCount)
}

func TestQueryRejectsDegenerateBox(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	// Hand-built box with min > max bypasses normalization.
	_, err := loc.QueryByLocation(context.Background(), types.DefaultWorld,
		types.BoundingBox{MinX: 5, MaxX: 0, MinY: 0, MaxY: 1, MinZ: 0, MaxZ: 1}, false)
	require.ErrorIs(t, err, service.ErrInvalid)
}

func TestAuditUnknownBuild(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	_, err := loc.Audit("missing")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestAuditCleanQueue(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	b := addBuild(t, st, "clean", types.DefaultWorld, types.BuildCreated, time.Now().UTC())
	addTask(t, st, b.ID, "t1", types.TaskBlockFill, fillData(0, 0, 0, 5, 5, 5))
	addTask(t, st, b.ID, "t2", types.TaskBlockFill, fillData(0, 0, 0, 5, 5, 5))

	report, err := loc.Audit(b.ID)
	require.NoError(t, err)
	// Fill-over-fill is intentional layering.
	assert.Empty(t, report.Issues)
	assert.Zero(t, report.Warnings)
	assert.Zero(t, report.Errors)
}

func TestAuditFillOverwritesStructure(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	b := addBuild(t, st, "b", types.DefaultWorld, types.BuildCreated, time.Now().UTC())
	// Orders 0..5; stairs at order 2, the overlapping fill at order 5.
	addTask(t, st, b.ID, "t0", types.TaskBlockFill, fillData(100, 0, 100, 101, 1, 101))
	addTask(t, st, b.ID, "t1", types.TaskBlockFill, fillData(100, 0, 100, 101, 1, 101))
	stairs := addTask(t, st, b.ID, "t2", types.TaskPrefabStairs, stairsData(0, 64, 0, 5, 68, 0, "east"))
	addTask(t, st, b.ID, "t3", types.TaskBlockFill, fillData(100, 0, 100, 101, 1, 101))
	addTask(t, st, b.ID, "t4", types.TaskBlockFill, fillData(100, 0, 100, 101, 1, 101))
	fill := addTask(t, st, b.ID, "t5", types.TaskBlockFill, fillData(0, 60, 0, 8, 70, 3))

	report, err := loc.Audit(b.ID)
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	issue := report.Issues[0]
	assert.Equal(t, RuleFillOverwritesStructure, issue.Rule)
	assert.Equal(t, SeverityWarning, issue.Severity)
	assert.Equal(t, []int{5, 2}, issue.TaskOrders)
	assert.Equal(t, []string{fill.ID, stairs.ID}, issue.TaskIDs)
	assert.Equal(t, 1, report.Warnings)
	assert.Zero(t, report.Errors)
}

func TestAuditStairDirectionMismatch(t *testing.T) {
	st := newTestStore(t)
	loc := newTestLocate(t, st)

	b := addBuild(t, st, "b", types.DefaultWorld, types.BuildCreated, time.Now().UTC())
	// Travels east, but the footprint runs along Z and climbs steeply.
	addTask(t, st, b.ID, "steep", types.TaskPrefabStairs, stairsData(0, 64, 0, 1, 72, 10, "east"))
	// Travels east with a matching X footprint: fine.
	addTask(t, st, b.ID, "ok", types.TaskPrefabStairs, stairsData(0, 64, 0, 10, 68, 0, "east"))

	report, err := loc.Audit(b.ID)
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	assert.Equal(t, RuleStairDirectionMismatch, report.Issues[0].Rule)
	assert.Equal(t, []int{0}, report.Issues[0].TaskOrders)
}

func TestAuditThresholdAndDisable(t *testing.T) {
	st := newTestStore(t)

	b := addBuild(t, st, "b", types.DefaultWorld, types.BuildCreated, time.Now().UTC())
	addTask(t, st, b.ID, "steep", types.TaskPrefabStairs, stairsData(0, 64, 0, 1, 72, 10, "east"))

	// Slope here is 9/2 = 4.5; a looser threshold passes it.
	loose := NewLocationService(Config{Store: st, Audit: AuditConfig{StairSlopeThreshold: 5.0}})
	report, err := loose.Audit(b.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)

	off := NewLocationService(Config{Store: st, Audit: AuditConfig{
		DisabledRules: []string{string(RuleStairDirectionMismatch)},
	}})
	report, err = off.Audit(b.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
}
