// Package world defines the ports through which voxelforge mutates a
// voxel world, the serial tick executor those mutations run on, and
// an in-memory backend used by tests and the standalone server.
//
// A real game-server adapter implements Effector by enqueuing work on
// the game's tick loop; the contract is the same either way: every
// call runs serially, returns a result with the number of blocks
// changed, and honors context cancellation while waiting its turn.
package world

import "context"

// Block is one placed block: a namespaced identifier plus optional
// block-state properties (facing, hinge, waterlogged, ...).
type Block struct {
	Name       string            `json:"block_name"`
	Properties map[string]string `json:"properties,omitempty"`
}

// EffectResult is the outcome of one world-effect call.
type EffectResult struct {
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	BlocksChanged int            `json:"blocks_changed"`
	Details       map[string]any `json:"details,omitempty"`
}

// BlockSetRequest places an explicit 3-D patch of blocks. The Blocks
// array is indexed [x][y][z]; nil cells are skipped.
type BlockSetRequest struct {
	World                  string
	StartX, StartY, StartZ int
	Blocks                 [][][]*Block
}

// FillRequest fills the box between two corners with one block type.
type FillRequest struct {
	World                  string
	X1, Y1, Z1, X2, Y2, Z2 int
	BlockType              string
	NotifyNeighbors        bool
}

// DoorRequest places a row of doors along the rightward lateral of
// the facing direction.
type DoorRequest struct {
	World       string
	X, Y, Z     int
	Facing      string
	BlockType   string
	Width       int
	Hinge       string
	Open        bool
	DoubleDoors bool
}

// StairsRequest builds a stair run between two points.
type StairsRequest struct {
	World                  string
	StartX, StartY, StartZ int
	EndX, EndY, EndZ       int
	BlockType              string
	StairType              string
	Direction              string
	FillSupport            bool
}

// WindowRequest builds a 1-block-thick pane wall.
type WindowRequest struct {
	World                  string
	StartX, StartY, StartZ int
	EndX, EndZ             int
	Height                 int
	BlockType              string
	Waterlogged            bool
}

// TorchRequest places a single torch. For wall torches an empty
// Facing asks the backend to auto-detect a supporting block.
type TorchRequest struct {
	World     string
	X, Y, Z   int
	BlockType string
	Facing    string
}

// SignRequest places a sign with up to four lines per side.
type SignRequest struct {
	World      string
	X, Y, Z    int
	BlockType  string
	FrontLines []string
	BackLines  []string
	Rotation   int    // standing signs
	Facing     string // wall signs
	Glowing    bool
}

// LadderRequest places a vertical ladder column.
type LadderRequest struct {
	World     string
	X, Y, Z   int
	Height    int
	BlockType string
	Facing    string
}

// Effector is the port to the world-mutation primitives. Every
// method submits work to the world's serial tick executor and blocks
// until the work ran or ctx expired. Implementations return a nil
// result only together with a non-nil error (cancellation or a
// broken backend); domain-level failures come back as a result with
// Success=false.
type Effector interface {
	SetBlocks(ctx context.Context, req BlockSetRequest) (*EffectResult, error)
	FillBox(ctx context.Context, req FillRequest) (*EffectResult, error)
	PlaceDoor(ctx context.Context, req DoorRequest) (*EffectResult, error)
	PlaceStairs(ctx context.Context, req StairsRequest) (*EffectResult, error)
	PlaceWindow(ctx context.Context, req WindowRequest) (*EffectResult, error)
	PlaceTorch(ctx context.Context, req TorchRequest) (*EffectResult, error)
	PlaceSign(ctx context.Context, req SignRequest) (*EffectResult, error)
	PlaceLadder(ctx context.Context, req LadderRequest) (*EffectResult, error)
}

// failure builds an unsuccessful result with a message.
func failure(msg string) *EffectResult {
	return &EffectResult{Success: false, Error: msg}
}
