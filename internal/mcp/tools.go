package mcp

import (
	"context"
	"fmt"

	"voxelforge/internal/locate"
	"voxelforge/internal/service"
	"voxelforge/internal/types"
)

// RegisterBuildTools wires the build service and the location
// service into the server's tool registry.
func RegisterBuildTools(s *Server, builds *service.BuildService, loc *locate.LocationService) {
	s.Register(&Tool{
		Name:        "create_build",
		Description: "Create a new build: a named, ordered queue of world-mutation tasks.",
		InputSchema: objectSchema(map[string]any{
			"name":        stringProp("Build name"),
			"description": stringProp("What this build constructs"),
			"world":       stringProp("Target world id, e.g. minecraft:overworld"),
		}, "name"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name, err := argString(args, "name", true)
			if err != nil {
				return nil, err
			}
			desc, _ := argString(args, "description", false)
			world, _ := argString(args, "world", false)
			return builds.CreateBuild(name, desc, world)
		},
	})

	s.Register(&Tool{
		Name:        "get_build",
		Description: "Fetch a build and its full ordered task queue.",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
		}, "build_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			b, tasks, err := builds.GetBuild(id)
			if err != nil {
				return nil, err
			}
			return map[string]any{"build": b, "tasks": tasks}, nil
		},
	})

	s.Register(&Tool{
		Name:        "delete_build",
		Description: "Delete a build and every task in it.",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
		}, "build_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			if err := builds.DeleteBuild(id); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": id}, nil
		},
	})

	s.Register(&Tool{
		Name:        "add_task",
		Description: "Append a task to the end of a build's queue. The task_data shape depends on task_type.",
		InputSchema: objectSchema(map[string]any{
			"build_id":    stringProp("Build id"),
			"task_type":   taskTypeProp(),
			"task_data":   objectProp("Task payload; schema depends on task_type"),
			"description": stringProp("Human-readable note"),
		}, "build_id", "task_type", "task_data"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, taskType, data, desc, err := taskArgs(args)
			if err != nil {
				return nil, err
			}
			return builds.AddTask(id, taskType, data, desc)
		},
	})

	s.Register(&Tool{
		Name:        "insert_task",
		Description: "Insert a task at a position in the queue; later tasks shift down.",
		InputSchema: objectSchema(map[string]any{
			"build_id":    stringProp("Build id"),
			"task_type":   taskTypeProp(),
			"task_data":   objectProp("Task payload; schema depends on task_type"),
			"position":    intProp("Queue position, clamped to [0, len]"),
			"description": stringProp("Human-readable note"),
		}, "build_id", "task_type", "task_data", "position"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, taskType, data, desc, err := taskArgs(args)
			if err != nil {
				return nil, err
			}
			pos, err := argInt(args, "position", true)
			if err != nil {
				return nil, err
			}
			return builds.InsertTaskAt(id, taskType, data, desc, pos)
		},
	})

	s.Register(&Tool{
		Name:        "update_task",
		Description: "Patch a task: shallow-merge task_data fields, replace the description, or requeue a FAILED task.",
		InputSchema: objectSchema(map[string]any{
			"build_id":    stringProp("Build id"),
			"task_id":     stringProp("Task id"),
			"task_data":   objectProp("Partial payload merged field-wise onto the existing data"),
			"description": stringProp("Replacement description"),
			"requeue":     boolProp("Reset a FAILED task to QUEUED for the next run"),
		}, "build_id", "task_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			buildID, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			taskID, err := argString(args, "task_id", true)
			if err != nil {
				return nil, err
			}
			data, _ := args["task_data"].(map[string]any)
			var desc *string
			if v, ok := args["description"].(string); ok {
				desc = &v
			}
			requeue, _ := args["requeue"].(bool)
			return builds.PatchTask(buildID, taskID, data, desc, requeue)
		},
	})

	s.Register(&Tool{
		Name:        "delete_task",
		Description: "Remove a task; the remaining queue is renumbered densely.",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
			"task_id":  stringProp("Task id"),
		}, "build_id", "task_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			buildID, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			taskID, err := argString(args, "task_id", true)
			if err != nil {
				return nil, err
			}
			if err := builds.DeleteTask(buildID, taskID); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": taskID}, nil
		},
	})

	s.Register(&Tool{
		Name:        "list_tasks",
		Description: "List a build's tasks in execution order.",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
		}, "build_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			return builds.ListTasks(id)
		},
	})

	s.Register(&Tool{
		Name:        "reorder_tasks",
		Description: "Rewrite the queue order. task_ids must list every task in the build exactly once.",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
			"task_ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Complete permutation of the build's task ids",
			},
		}, "build_id", "task_ids"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			ids, err := argStringSlice(args, "task_ids")
			if err != nil {
				return nil, err
			}
			if err := builds.ReorderQueue(id, ids); err != nil {
				return nil, err
			}
			return builds.ListTasks(id)
		},
	})

	s.Register(&Tool{
		Name:        "execute_build",
		Description: "Run every pending task in order. Failures are recorded per task and never stop the run.",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
		}, "build_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			return builds.ExecuteBuild(ctx, id)
		},
	})

	s.Register(&Tool{
		Name:        "find_builds_in_area",
		Description: "Find builds whose tasks intersect a bounding box, oldest first.",
		InputSchema: objectSchema(map[string]any{
			"world":               stringProp("World id; defaults to the overworld"),
			"min_x":               intProp("Box minimum X"),
			"min_y":               intProp("Box minimum Y"),
			"min_z":               intProp("Box minimum Z"),
			"max_x":               intProp("Box maximum X"),
			"max_y":               intProp("Box maximum Y"),
			"max_z":               intProp("Box maximum Z"),
			"include_in_progress": boolProp("Also return builds that are not COMPLETED yet"),
		}, "min_x", "min_y", "min_z", "max_x", "max_y", "max_z"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			box, err := argBox(args)
			if err != nil {
				return nil, err
			}
			world, _ := argString(args, "world", false)
			includeInProgress, _ := args["include_in_progress"].(bool)
			return loc.QueryByLocation(ctx, world, box, includeInProgress)
		},
	})

	s.Register(&Tool{
		Name:        "audit_build",
		Description: "Statically check a build's queue for mistakes (steep mismatched stairs, fills burying earlier structures).",
		InputSchema: objectSchema(map[string]any{
			"build_id": stringProp("Build id"),
		}, "build_id"),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			id, err := argString(args, "build_id", true)
			if err != nil {
				return nil, err
			}
			return loc.Audit(id)
		},
	})
}

// taskArgs extracts the shared add/insert argument set.
func taskArgs(args map[string]any) (buildID string, taskType types.TaskType, data map[string]any, desc string, err error) {
	buildID, err = argString(args, "build_id", true)
	if err != nil {
		return
	}
	rawType, err := argString(args, "task_type", true)
	if err != nil {
		return
	}
	taskType = types.TaskType(rawType)
	data, ok := args["task_data"].(map[string]any)
	if !ok {
		err = fmt.Errorf("%w: task_data must be an object", service.ErrInvalid)
		return
	}
	desc, _ = argString(args, "description", false)
	return
}

// Schema builders.

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func objectProp(desc string) map[string]any {
	return map[string]any{"type": "object", "description": desc}
}

func taskTypeProp() map[string]any {
	enum := make([]string, len(types.AllTaskTypes))
	for i, t := range types.AllTaskTypes {
		enum[i] = string(t)
	}
	return map[string]any{"type": "string", "enum": enum, "description": "Task kind"}
}

// Argument extraction. JSON numbers arrive as float64.

func argString(args map[string]any, key string, required bool) (string, error) {
	v, present := args[key]
	if !present {
		if required {
			return "", fmt.Errorf("%w: %s is required", service.ErrInvalid, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", service.ErrInvalid, key)
	}
	return s, nil
}

func argInt(args map[string]any, key string, required bool) (int, error) {
	_, present := args[key]
	if !present {
		if required {
			return 0, fmt.Errorf("%w: %s is required", service.ErrInvalid, key)
		}
		return 0, nil
	}
	n, ok := types.IntField(args, key)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalid, key)
	}
	return n, nil
}

func argStringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of strings", service.ErrInvalid, key)
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be a string", service.ErrInvalid, key, i)
		}
		out[i] = s
	}
	return out, nil
}

// argBox reads the six box coordinates verbatim. No normalization:
// a caller-supplied min above its max must reach the query layer's
// degenerate-box rejection instead of being silently repaired.
func argBox(args map[string]any) (types.BoundingBox, error) {
	coords := make(map[string]int, 6)
	for _, key := range []string{"min_x", "min_y", "min_z", "max_x", "max_y", "max_z"} {
		n, err := argInt(args, key, true)
		if err != nil {
			return types.BoundingBox{}, err
		}
		coords[key] = n
	}
	return types.BoundingBox{
		MinX: coords["min_x"], MinY: coords["min_y"], MinZ: coords["min_z"],
		MaxX: coords["max_x"], MaxY: coords["max_y"], MaxZ: coords["max_z"],
	}, nil
}
