package world

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"voxelforge/internal/logging"
)

// maxFillVolume caps a single fill operation, mirroring the limit a
// game server imposes on its fill command.
const maxFillVolume = 32768

type coord struct{ x, y, z int }

// MemoryWorld is the built-in Effector backend: a sparse block map
// per world, mutated only on the tick loop. It gives the executor
// real placement semantics without a game server.
type MemoryWorld struct {
	loop *TickLoop

	mu     sync.RWMutex
	worlds map[string]map[coord]Block
}

// NewMemoryWorld creates a memory backend running on the given loop.
func NewMemoryWorld(loop *TickLoop) *MemoryWorld {
	return &MemoryWorld{
		loop:   loop,
		worlds: make(map[string]map[coord]Block),
	}
}

// BlockAt returns the block at a position, if any. Safe to call from
// any goroutine.
func (m *MemoryWorld) BlockAt(world string, x, y, z int) (Block, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.worlds[world][coord{x, y, z}]
	return b, ok
}

// BlockCount returns the number of placed blocks in a world.
func (m *MemoryWorld) BlockCount(world string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.worlds[world])
}

// place writes one block. Must be called with m.mu held.
func (m *MemoryWorld) place(world string, c coord, b Block) {
	w, ok := m.worlds[world]
	if !ok {
		w = make(map[coord]Block)
		m.worlds[world] = w
	}
	w[c] = b
}

// onTick runs fn on the tick loop and returns its result, or an
// error if the loop is closed or ctx expires first.
func (m *MemoryWorld) onTick(ctx context.Context, fn func() *EffectResult) (*EffectResult, error) {
	var res *EffectResult
	err := m.loop.Do(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		res = fn()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetBlocks places an explicit [x][y][z] patch; nil cells are skipped.
func (m *MemoryWorld) SetBlocks(ctx context.Context, req BlockSetRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		placed := 0
		for dx, col := range req.Blocks {
			for dy, row := range col {
				for dz, cell := range row {
					if cell == nil {
						continue
					}
					m.place(req.World, coord{req.StartX + dx, req.StartY + dy, req.StartZ + dz}, *cell)
					placed++
				}
			}
		}
		logging.WorldDebug("SetBlocks placed %d blocks in %s", placed, req.World)
		return &EffectResult{
			Success:       true,
			BlocksChanged: placed,
			Details:       map[string]any{"blocks_placed": placed},
		}
	})
}

// FillBox fills the box between the two corners with one block type.
func (m *MemoryWorld) FillBox(ctx context.Context, req FillRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		x1, x2 := minmax(req.X1, req.X2)
		y1, y2 := minmax(req.Y1, req.Y2)
		z1, z2 := minmax(req.Z1, req.Z2)

		volume := (x2 - x1 + 1) * (y2 - y1 + 1) * (z2 - z1 + 1)
		if volume > maxFillVolume {
			return failure(fmt.Sprintf("fill volume %d exceeds limit %d", volume, maxFillVolume))
		}

		block := Block{Name: req.BlockType}
		for x := x1; x <= x2; x++ {
			for y := y1; y <= y2; y++ {
				for z := z1; z <= z2; z++ {
					m.place(req.World, coord{x, y, z}, block)
				}
			}
		}
		logging.WorldDebug("FillBox placed %d x %s in %s", volume, req.BlockType, req.World)
		return &EffectResult{
			Success:       true,
			BlocksChanged: volume,
			Details: map[string]any{
				"blocks_filled":    volume,
				"notify_neighbors": req.NotifyNeighbors,
			},
		}
	})
}

// PlaceDoor places a row of doors along the rightward lateral of the
// facing direction; each panel is two blocks tall.
func (m *MemoryWorld) PlaceDoor(ctx context.Context, req DoorRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		dx, dz, ok := lateralStep(req.Facing)
		if !ok {
			return failure(fmt.Sprintf("invalid door facing: %s", req.Facing))
		}

		panels := req.Width
		if req.DoubleDoors {
			panels = req.Width * 2
		}

		placed := 0
		for i := 0; i < panels; i++ {
			x := req.X + dx*i
			z := req.Z + dz*i
			hinge := req.Hinge
			// Double doors mirror the hinge on every second panel so
			// the pair opens outward.
			if req.DoubleDoors && i%2 == 1 {
				hinge = mirrorHinge(req.Hinge)
			}
			props := map[string]string{
				"facing": req.Facing,
				"hinge":  hinge,
				"open":   strconv.FormatBool(req.Open),
			}
			lower := Block{Name: req.BlockType, Properties: withProp(props, "half", "lower")}
			upper := Block{Name: req.BlockType, Properties: withProp(props, "half", "upper")}
			m.place(req.World, coord{x, req.Y, z}, lower)
			m.place(req.World, coord{x, req.Y + 1, z}, upper)
			placed += 2
		}
		return &EffectResult{
			Success:       true,
			BlocksChanged: placed,
			Details:       map[string]any{"panels": panels},
		}
	})
}

// PlaceStairs walks from start to end, placing one stair block per
// step and optionally filling the column underneath for support.
func (m *MemoryWorld) PlaceStairs(ctx context.Context, req StairsRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		dx, dz, ok := travelStep(req.Direction)
		if !ok {
			return failure(fmt.Sprintf("invalid staircase direction: %s", req.Direction))
		}

		run := abs(req.EndX-req.StartX) + abs(req.EndZ-req.StartZ)
		rise := abs(req.EndY - req.StartY)
		steps := max(run, rise) + 1
		ySign := sign(req.EndY - req.StartY)

		placed := 0
		for i := 0; i < steps; i++ {
			x := req.StartX + dx*min(i, run)
			z := req.StartZ + dz*min(i, run)
			y := req.StartY + ySign*min(i, rise)

			stair := Block{Name: req.StairType, Properties: map[string]string{"facing": req.Direction}}
			m.place(req.World, coord{x, y, z}, stair)
			placed++

			if req.FillSupport {
				for fy := req.StartY; fy < y; fy++ {
					m.place(req.World, coord{x, fy, z}, Block{Name: req.BlockType})
					placed++
				}
			}
		}
		return &EffectResult{
			Success:       true,
			BlocksChanged: placed,
			Details:       map[string]any{"steps": steps},
		}
	})
}

// PlaceWindow builds a 1-block-thick pane wall between the endpoints.
func (m *MemoryWorld) PlaceWindow(ctx context.Context, req WindowRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		if (req.StartX == req.EndX) == (req.StartZ == req.EndZ) {
			return failure("window wall must be axis-aligned")
		}

		props := map[string]string{}
		if req.Waterlogged {
			props["waterlogged"] = "true"
		}
		pane := Block{Name: req.BlockType, Properties: props}

		placed := 0
		x1, x2 := minmax(req.StartX, req.EndX)
		z1, z2 := minmax(req.StartZ, req.EndZ)
		for x := x1; x <= x2; x++ {
			for z := z1; z <= z2; z++ {
				for dy := 0; dy < req.Height; dy++ {
					m.place(req.World, coord{x, req.StartY + dy, z}, pane)
					placed++
				}
			}
		}
		return &EffectResult{
			Success:       true,
			BlocksChanged: placed,
			Details:       map[string]any{"panes": placed},
		}
	})
}

// PlaceTorch places a torch. Wall torches without an explicit facing
// are attached to the first neighboring block found.
func (m *MemoryWorld) PlaceTorch(ctx context.Context, req TorchRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		props := map[string]string{}
		if strings.Contains(req.BlockType, "wall_torch") {
			facing := req.Facing
			if facing == "" {
				facing = m.detectTorchFacing(req.World, req.X, req.Y, req.Z)
				if facing == "" {
					return failure("no supporting block for wall torch")
				}
			}
			props["facing"] = facing
		}
		m.place(req.World, coord{req.X, req.Y, req.Z}, Block{Name: req.BlockType, Properties: props})
		return &EffectResult{Success: true, BlocksChanged: 1}
	})
}

// detectTorchFacing finds a cardinal direction whose opposite
// neighbor holds a block the torch can hang on. Must be called with
// m.mu held.
func (m *MemoryWorld) detectTorchFacing(world string, x, y, z int) string {
	w := m.worlds[world]
	if w == nil {
		return ""
	}
	for _, facing := range []string{"north", "south", "east", "west"} {
		dx, dz, _ := travelStep(facing)
		// The supporting wall sits behind the torch.
		if _, ok := w[coord{x - dx, y, z - dz}]; ok {
			return facing
		}
	}
	return ""
}

// PlaceSign places a standing or wall sign with its text lines.
func (m *MemoryWorld) PlaceSign(ctx context.Context, req SignRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		props := map[string]string{
			"glowing": strconv.FormatBool(req.Glowing),
		}
		if strings.Contains(req.BlockType, "wall_sign") {
			facing := req.Facing
			if facing == "" {
				facing = "north"
			}
			props["facing"] = facing
		} else {
			props["rotation"] = strconv.Itoa(req.Rotation)
		}
		if len(req.FrontLines) > 0 {
			props["front_text"] = strings.Join(req.FrontLines, "\n")
		}
		if len(req.BackLines) > 0 {
			props["back_text"] = strings.Join(req.BackLines, "\n")
		}
		m.place(req.World, coord{req.X, req.Y, req.Z}, Block{Name: req.BlockType, Properties: props})
		return &EffectResult{Success: true, BlocksChanged: 1}
	})
}

// PlaceLadder places a vertical ladder column.
func (m *MemoryWorld) PlaceLadder(ctx context.Context, req LadderRequest) (*EffectResult, error) {
	return m.onTick(ctx, func() *EffectResult {
		facing := req.Facing
		if facing == "" {
			facing = "north"
		}
		ladder := Block{Name: req.BlockType, Properties: map[string]string{"facing": facing}}
		for i := 0; i < req.Height; i++ {
			m.place(req.World, coord{req.X, req.Y + i, req.Z}, ladder)
		}
		return &EffectResult{Success: true, BlocksChanged: req.Height}
	})
}

// travelStep maps a cardinal direction to its horizontal unit step.
func travelStep(facing string) (dx, dz int, ok bool) {
	switch facing {
	case "north":
		return 0, -1, true
	case "south":
		return 0, 1, true
	case "east":
		return 1, 0, true
	case "west":
		return -1, 0, true
	default:
		return 0, 0, false
	}
}

// lateralStep maps a facing to the rightward lateral unit step.
func lateralStep(facing string) (dx, dz int, ok bool) {
	switch facing {
	case "north":
		return 1, 0, true
	case "south":
		return -1, 0, true
	case "east":
		return 0, 1, true
	case "west":
		return 0, -1, true
	default:
		return 0, 0, false
	}
}

func mirrorHinge(h string) string {
	if h == "left" {
		return "right"
	}
	return "left"
}

func withProp(base map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}

func minmax(a, b int) (int, int) {
	if a <= b {
		return a, b
	}
	return b, a
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
