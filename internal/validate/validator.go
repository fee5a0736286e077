// Package validate checks task payloads against the per-kind schema
// before they are queued or executed. Validation is pure: it never
// mutates the payload and never touches storage, so the service and
// the executor can both call it and reject the same inputs for the
// same reasons.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"voxelforge/internal/types"
)

// blockIDPattern matches namespaced block identifiers such as
// "minecraft:oak_door".
var blockIDPattern = regexp.MustCompile(`^[a-z0-9_.-]+:[a-z0-9_./-]+$`)

var cardinalDirections = map[string]bool{
	"north": true, "south": true, "east": true, "west": true,
}

// TaskData validates a task payload for the given task type.
// It returns nil when the payload is acceptable, or an error whose
// message joins every offending field's problem with "; ".
func TaskData(taskType types.TaskType, data map[string]any) error {
	if !types.ValidTaskType(taskType) {
		return fmt.Errorf("unknown task type: %s", taskType)
	}
	if data == nil {
		return fmt.Errorf("task_data is required")
	}

	v := &checker{data: data}
	switch taskType {
	case types.TaskBlockSet:
		checkBlockSet(v)
	case types.TaskBlockFill:
		checkBlockFill(v)
	case types.TaskPrefabDoor:
		checkDoor(v)
	case types.TaskPrefabStairs:
		checkStairs(v)
	case types.TaskPrefabWindow:
		checkWindow(v)
	case types.TaskPrefabTorch:
		checkTorch(v)
	case types.TaskPrefabSign:
		checkSign(v)
	case types.TaskPrefabLadder:
		checkLadder(v)
	}

	if len(v.problems) > 0 {
		return fmt.Errorf("%s", strings.Join(v.problems, "; "))
	}
	return nil
}

// ApplyDefaults returns a copy of the payload with optional fields
// filled in (notify_neighbors, hinge). The input map is not mutated.
func ApplyDefaults(taskType types.TaskType, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	switch taskType {
	case types.TaskBlockFill:
		if _, ok := out["notify_neighbors"]; !ok {
			out["notify_neighbors"] = true
		}
	case types.TaskPrefabDoor:
		if _, ok := out["hinge"]; !ok {
			out["hinge"] = "left"
		}
	}
	return out
}

// checker accumulates problems while walking a payload.
type checker struct {
	data     map[string]any
	problems []string
}

func (c *checker) addf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// requireInt records a problem when the field is missing or not an
// integer, and returns the value with ok=false in that case.
func (c *checker) requireInt(key string) (int, bool) {
	if _, present := c.data[key]; !present {
		c.addf("%s is required", key)
		return 0, false
	}
	n, ok := types.IntField(c.data, key)
	if !ok {
		c.addf("%s must be an integer", key)
		return 0, false
	}
	return n, true
}

func (c *checker) requireString(key string) (string, bool) {
	if _, present := c.data[key]; !present {
		c.addf("%s is required", key)
		return "", false
	}
	s, ok := types.StringField(c.data, key)
	if !ok || s == "" {
		c.addf("%s must be a non-empty string", key)
		return "", false
	}
	return s, true
}

func (c *checker) optionalBool(key string) {
	if v, present := c.data[key]; present {
		if _, ok := v.(bool); !ok {
			c.addf("%s must be a boolean", key)
		}
	}
}

// requireBlockID validates a namespaced block identifier. When
// variant is non-empty the identifier's path must also contain it
// (e.g. a door task needs a door block).
func (c *checker) requireBlockID(key, variant string) {
	id, ok := c.requireString(key)
	if !ok {
		return
	}
	if !blockIDPattern.MatchString(id) {
		c.addf("%s must be a namespaced block id (namespace:path), got %q", key, id)
		return
	}
	if variant != "" && !strings.Contains(id, variant) {
		c.addf("%s must be a %s block, got %q", key, variant, id)
	}
}

func (c *checker) requireFacing(key string) {
	f, ok := c.requireString(key)
	if ok && !cardinalDirections[f] {
		c.addf("%s must be one of north, south, east, west, got %q", key, f)
	}
}

func (c *checker) optionalFacing(key string) {
	if _, present := c.data[key]; !present {
		return
	}
	f, ok := types.StringField(c.data, key)
	if !ok || !cardinalDirections[f] {
		c.addf("%s must be one of north, south, east, west", key)
	}
}

func (c *checker) requirePositive(key string) {
	if n, ok := c.requireInt(key); ok && n < 1 {
		c.addf("%s must be >= 1, got %d", key, n)
	}
}

// checkTextLines validates an optional array of up to maxLines strings.
func (c *checker) checkTextLines(key string, maxLines int) {
	v, present := c.data[key]
	if !present || v == nil {
		return
	}
	lines, ok := v.([]any)
	if !ok {
		c.addf("%s must be an array of strings", key)
		return
	}
	if len(lines) > maxLines {
		c.addf("%s must have at most %d lines, got %d", key, maxLines, len(lines))
	}
	for i, l := range lines {
		if _, ok := l.(string); !ok {
			c.addf("%s[%d] must be a string", key, i)
		}
	}
}

func checkBlockSet(c *checker) {
	c.requireInt("start_x")
	c.requireInt("start_y")
	c.requireInt("start_z")

	v, present := c.data["blocks"]
	if !present {
		c.addf("blocks is required")
		return
	}
	blocks, ok := v.([]any)
	if !ok || len(blocks) == 0 {
		c.addf("blocks must be a non-empty 3-D array")
		return
	}
	for x, col := range blocks {
		ys, ok := col.([]any)
		if !ok || len(ys) == 0 {
			c.addf("blocks[%d] must be a non-empty array", x)
			continue
		}
		for y, row := range ys {
			zs, ok := row.([]any)
			if !ok || len(zs) == 0 {
				c.addf("blocks[%d][%d] must be a non-empty array", x, y)
				continue
			}
			for z, cell := range zs {
				if cell == nil {
					continue // null cells are skipped during placement
				}
				obj, ok := cell.(map[string]any)
				if !ok {
					c.addf("blocks[%d][%d][%d] must be null or an object", x, y, z)
					continue
				}
				name, ok := types.StringField(obj, "block_name")
				if !ok || name == "" {
					c.addf("blocks[%d][%d][%d].block_name is required", x, y, z)
				} else if !blockIDPattern.MatchString(name) {
					c.addf("blocks[%d][%d][%d].block_name must be a namespaced block id, got %q", x, y, z, name)
				}
			}
		}
	}
}

func checkBlockFill(c *checker) {
	c.requireInt("x1")
	c.requireInt("y1")
	c.requireInt("z1")
	c.requireInt("x2")
	c.requireInt("y2")
	c.requireInt("z2")
	c.requireBlockID("block_type", "")
	c.optionalBool("notify_neighbors")
	if v, present := c.data["world"]; present {
		if _, ok := v.(string); !ok {
			c.addf("world must be a string")
		}
	}
}

func checkDoor(c *checker) {
	c.requireInt("start_x")
	c.requireInt("start_y")
	c.requireInt("start_z")
	c.requireFacing("facing")
	c.requireBlockID("block_type", "door")
	c.requirePositive("width")
	if hinge, present := c.data["hinge"]; present {
		s, ok := hinge.(string)
		if !ok || (s != "left" && s != "right") {
			c.addf("hinge must be left or right")
		}
	}
	c.optionalBool("open")
	c.optionalBool("double_doors")
}

func checkStairs(c *checker) {
	c.requireInt("start_x")
	c.requireInt("start_y")
	c.requireInt("start_z")
	c.requireInt("end_x")
	c.requireInt("end_y")
	c.requireInt("end_z")
	c.requireBlockID("block_type", "")
	c.requireBlockID("stair_type", "stair")
	c.requireFacing("staircase_direction")
	c.optionalBool("fill_support")
}

func checkWindow(c *checker) {
	sx, okSX := c.requireInt("start_x")
	c.requireInt("start_y")
	sz, okSZ := c.requireInt("start_z")
	ex, okEX := c.requireInt("end_x")
	ez, okEZ := c.requireInt("end_z")
	c.requirePositive("height")
	c.requireBlockID("block_type", "pane")
	c.optionalBool("waterlogged")

	if okSX && okSZ && okEX && okEZ {
		if (sx == ex) == (sz == ez) {
			c.addf("window wall must be axis-aligned: exactly one of start_x==end_x, start_z==end_z")
		}
	}
}

func checkTorch(c *checker) {
	c.requireInt("x")
	c.requireInt("y")
	c.requireInt("z")
	c.requireBlockID("block_type", "torch")
	// Wall torches may carry an explicit facing; when absent the
	// executor auto-detects a supporting block.
	c.optionalFacing("facing")
}

func checkSign(c *checker) {
	c.requireInt("x")
	c.requireInt("y")
	c.requireInt("z")
	c.requireBlockID("block_type", "sign")
	c.checkTextLines("front_lines", 4)
	c.checkTextLines("back_lines", 4)
	c.optionalBool("glowing")

	blockType, _ := types.StringField(c.data, "block_type")
	if strings.Contains(blockType, "wall_sign") {
		c.optionalFacing("facing")
	} else if _, present := c.data["rotation"]; present {
		r, ok := types.IntField(c.data, "rotation")
		if !ok || r < 0 || r > 15 {
			c.addf("rotation must be an integer in [0,15]")
		}
	}
}

func checkLadder(c *checker) {
	c.requireInt("x")
	c.requireInt("y")
	c.requireInt("z")
	c.requirePositive("height")
	c.requireBlockID("block_type", "ladder")
	c.optionalFacing("facing")
}
