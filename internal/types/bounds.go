package types

import (
	"encoding/json"
	"fmt"
)

// BoundingBox is an inclusive, axis-aligned integer box.
// Invariant: Min* <= Max* on every axis.
type BoundingBox struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MinZ int `json:"min_z"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
	MaxZ int `json:"max_z"`
}

// NewBoundingBox builds a box from two arbitrary corners,
// normalizing so that Min* <= Max*.
func NewBoundingBox(x1, y1, z1, x2, y2, z2 int) BoundingBox {
	return BoundingBox{
		MinX: min(x1, x2), MinY: min(y1, y2), MinZ: min(z1, z2),
		MaxX: max(x1, x2), MaxY: max(y1, y2), MaxZ: max(z1, z2),
	}
}

// Valid reports whether Min* <= Max* holds on all three axes.
func (b BoundingBox) Valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY && b.MinZ <= b.MaxZ
}

// Intersects reports whether the two boxes overlap on all three axes.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX &&
		b.MinY <= o.MaxY && b.MaxY >= o.MinY &&
		b.MinZ <= o.MaxZ && b.MaxZ >= o.MinZ
}

// SpanX returns the inclusive X extent in blocks.
func (b BoundingBox) SpanX() int { return b.MaxX - b.MinX + 1 }

// SpanY returns the inclusive Y extent in blocks.
func (b BoundingBox) SpanY() int { return b.MaxY - b.MinY + 1 }

// SpanZ returns the inclusive Z extent in blocks.
func (b BoundingBox) SpanZ() int { return b.MaxZ - b.MinZ + 1 }

// Volume returns the number of cells the box covers.
func (b BoundingBox) Volume() int {
	return b.SpanX() * b.SpanY() * b.SpanZ()
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d,%d)..(%d,%d,%d)", b.MinX, b.MinY, b.MinZ, b.MaxX, b.MaxY, b.MaxZ)
}

// IntField reads an integer field from a task payload. JSON decoding
// yields float64 for numbers, so all numeric representations are
// accepted; fractional values are rejected.
func IntField(data map[string]any, key string) (int, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// StringField reads a string field from a task payload.
func StringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolField reads a boolean field from a task payload.
func BoolField(data map[string]any, key string) (bool, bool) {
	v, ok := data[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// lateralOf maps a facing direction to the unit step along the
// rightward lateral of that facing (the direction a row of door
// slots extends). North is -Z, east is +X.
func lateralOf(facing string) (dx, dz int, ok bool) {
	switch facing {
	case "north":
		return 1, 0, true // facing -Z, right hand points east
	case "south":
		return -1, 0, true
	case "east":
		return 0, 1, true // facing +X, right hand points south
	case "west":
		return 0, -1, true
	default:
		return 0, 0, false
	}
}

// DeriveBounds computes the bounding box a task of the given type and
// payload would occupy. It is a total function: when a field needed
// for the derivation is missing or malformed it returns (nil, false)
// and the task simply stays invisible to spatial queries.
func DeriveBounds(taskType TaskType, data map[string]any) (*BoundingBox, bool) {
	if data == nil {
		return nil, false
	}

	switch taskType {
	case TaskBlockSet:
		return deriveBlockSetBounds(data)

	case TaskBlockFill:
		x1, ok1 := IntField(data, "x1")
		y1, ok2 := IntField(data, "y1")
		z1, ok3 := IntField(data, "z1")
		x2, ok4 := IntField(data, "x2")
		y2, ok5 := IntField(data, "y2")
		z2, ok6 := IntField(data, "z2")
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
			return nil, false
		}
		b := NewBoundingBox(x1, y1, z1, x2, y2, z2)
		return &b, true

	case TaskPrefabDoor:
		return deriveDoorBounds(data)

	case TaskPrefabStairs:
		sx, ok1 := IntField(data, "start_x")
		sy, ok2 := IntField(data, "start_y")
		sz, ok3 := IntField(data, "start_z")
		ex, ok4 := IntField(data, "end_x")
		ey, ok5 := IntField(data, "end_y")
		ez, ok6 := IntField(data, "end_z")
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
			return nil, false
		}
		b := NewBoundingBox(sx, sy, sz, ex, ey, ez)
		return &b, true

	case TaskPrefabWindow:
		return deriveWindowBounds(data)

	case TaskPrefabTorch, TaskPrefabSign:
		x, ok1 := IntField(data, "x")
		y, ok2 := IntField(data, "y")
		z, ok3 := IntField(data, "z")
		if !(ok1 && ok2 && ok3) {
			return nil, false
		}
		b := BoundingBox{MinX: x, MinY: y, MinZ: z, MaxX: x, MaxY: y, MaxZ: z}
		return &b, true

	case TaskPrefabLadder:
		x, ok1 := IntField(data, "x")
		y, ok2 := IntField(data, "y")
		z, ok3 := IntField(data, "z")
		h, ok4 := IntField(data, "height")
		if !(ok1 && ok2 && ok3 && ok4) || h < 1 {
			return nil, false
		}
		b := BoundingBox{MinX: x, MinY: y, MinZ: z, MaxX: x, MaxY: y + h - 1, MaxZ: z}
		return &b, true

	default:
		return nil, false
	}
}

// deriveBlockSetBounds reads the dimensions of the 3-D blocks array.
// The array is indexed [x][y][z]; ragged inner arrays contribute
// their longest extent.
func deriveBlockSetBounds(data map[string]any) (*BoundingBox, bool) {
	sx, ok1 := IntField(data, "start_x")
	sy, ok2 := IntField(data, "start_y")
	sz, ok3 := IntField(data, "start_z")
	if !(ok1 && ok2 && ok3) {
		return nil, false
	}

	blocks, ok := data["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		return nil, false
	}
	dimX := len(blocks)
	dimY, dimZ := 0, 0
	for _, col := range blocks {
		ys, ok := col.([]any)
		if !ok {
			return nil, false
		}
		if len(ys) > dimY {
			dimY = len(ys)
		}
		for _, row := range ys {
			zs, ok := row.([]any)
			if !ok {
				return nil, false
			}
			if len(zs) > dimZ {
				dimZ = len(zs)
			}
		}
	}
	if dimY == 0 || dimZ == 0 {
		return nil, false
	}

	b := BoundingBox{
		MinX: sx, MinY: sy, MinZ: sz,
		MaxX: sx + dimX - 1, MaxY: sy + dimY - 1, MaxZ: sz + dimZ - 1,
	}
	return &b, true
}

// deriveDoorBounds covers the row of door slots: width blocks along
// the rightward lateral of facing (doubled for double doors), two
// blocks tall, one block thick.
func deriveDoorBounds(data map[string]any) (*BoundingBox, bool) {
	x, ok1 := IntField(data, "start_x")
	y, ok2 := IntField(data, "start_y")
	z, ok3 := IntField(data, "start_z")
	facing, ok4 := StringField(data, "facing")
	width, ok5 := IntField(data, "width")
	if !(ok1 && ok2 && ok3 && ok4 && ok5) || width < 1 {
		return nil, false
	}
	dx, dz, ok := lateralOf(facing)
	if !ok {
		return nil, false
	}

	span := width
	if double, _ := BoolField(data, "double_doors"); double {
		span = width * 2
	}

	endX := x + dx*(span-1)
	endZ := z + dz*(span-1)
	b := NewBoundingBox(x, y, z, endX, y+1, endZ)
	return &b, true
}

// deriveWindowBounds covers a 1-block-thick wall segment: the span
// between the endpoints on the wall axis, by height on Y.
func deriveWindowBounds(data map[string]any) (*BoundingBox, bool) {
	sx, ok1 := IntField(data, "start_x")
	sy, ok2 := IntField(data, "start_y")
	sz, ok3 := IntField(data, "start_z")
	ex, ok4 := IntField(data, "end_x")
	ez, ok5 := IntField(data, "end_z")
	h, ok6 := IntField(data, "height")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) || h < 1 {
		return nil, false
	}
	// The wall must be axis-aligned: exactly one horizontal axis fixed.
	if (sx == ex) == (sz == ez) {
		return nil, false
	}
	b := NewBoundingBox(sx, sy, sz, ex, sy+h-1, ez)
	return &b, true
}
