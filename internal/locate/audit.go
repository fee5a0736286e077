package locate

import (
	"fmt"

	"voxelforge/internal/types"
)

// Severity grades an audit issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one finding from an audit rule.
type Issue struct {
	Rule       Rule     `json:"rule"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	TaskIDs    []string `json:"task_ids"`
	TaskOrders []int    `json:"task_orders"`
}

// Rule names an audit rule.
type Rule string

const (
	RuleStairDirectionMismatch  Rule = "stair_direction_mismatch"
	RuleFillOverwritesStructure Rule = "fill_overwrites_structure"
)

// AuditReport summarizes the findings over one build's queue.
type AuditReport struct {
	BuildID  string  `json:"build_id"`
	Warnings int     `json:"warnings"`
	Errors   int     `json:"errors"`
	Issues   []Issue `json:"issues"`
}

// AuditRule is one static check over an ordered task queue. Rules
// are pure: they read the queue, never the world.
type AuditRule struct {
	Name  Rule
	Check func(tasks []*types.Task) []Issue
}

// DefaultStairSlopeThreshold flags staircases steeper than 1 block
// of rise per block of run.
const DefaultStairSlopeThreshold = 1.0

// AuditConfig tunes the default rule set.
type AuditConfig struct {
	// StairSlopeThreshold overrides the slope above which a
	// mismatched staircase is flagged; zero keeps the default.
	StairSlopeThreshold float64
	// DisabledRules lists rule names to skip entirely.
	DisabledRules []string
}

// buildRules assembles the rule set for a config. New rules are
// additive; disabling is by name.
func buildRules(cfg AuditConfig) []AuditRule {
	threshold := cfg.StairSlopeThreshold
	if threshold <= 0 {
		threshold = DefaultStairSlopeThreshold
	}

	disabled := make(map[string]bool, len(cfg.DisabledRules))
	for _, name := range cfg.DisabledRules {
		disabled[name] = true
	}

	all := []AuditRule{
		{Name: RuleStairDirectionMismatch, Check: checkStairDirection(threshold)},
		{Name: RuleFillOverwritesStructure, Check: checkFillOverwrites},
	}
	rules := all[:0]
	for _, r := range all {
		if !disabled[string(r.Name)] {
			rules = append(rules, r)
		}
	}
	return rules
}

// checkStairDirection flags staircases whose travel direction runs
// along the short horizontal axis while the climb is steep: almost
// always a mixed-up start/end or direction field.
func checkStairDirection(threshold float64) func([]*types.Task) []Issue {
	return func(tasks []*types.Task) []Issue {
		var issues []Issue
		for _, t := range tasks {
			if t.Type != types.TaskPrefabStairs || t.Bounds == nil {
				continue
			}
			dir, _ := types.StringField(t.Data, "staircase_direction")
			xSpan, ySpan, zSpan := t.Bounds.SpanX(), t.Bounds.SpanY(), t.Bounds.SpanZ()

			var slope float64
			switch dir {
			case "east", "west":
				if xSpan >= zSpan {
					continue
				}
				slope = float64(ySpan) / float64(xSpan)
			case "north", "south":
				if zSpan >= xSpan {
					continue
				}
				slope = float64(ySpan) / float64(zSpan)
			default:
				continue
			}
			if slope <= threshold {
				continue
			}
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Message: fmt.Sprintf(
					"staircase at order %d travels %s but its footprint runs the other axis (x span %d, z span %d, slope %.1f)",
					t.Order, dir, xSpan, zSpan, slope),
				TaskIDs:    []string{t.ID},
				TaskOrders: []int{t.Order},
			})
		}
		return issues
	}
}

// checkFillOverwrites flags fills that would bury a structure placed
// earlier in the queue. Fill-over-fill is intentional layering and
// is skipped.
func checkFillOverwrites(tasks []*types.Task) []Issue {
	var issues []Issue
	for i, fill := range tasks {
		if fill.Type != types.TaskBlockFill || fill.Bounds == nil {
			continue
		}
		for _, earlier := range tasks[:i] {
			if earlier.Type == types.TaskBlockFill || earlier.Bounds == nil {
				continue
			}
			if !fill.Bounds.Intersects(*earlier.Bounds) {
				continue
			}
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Message: fmt.Sprintf(
					"fill at order %d overwrites %s placed at order %d",
					fill.Order, earlier.Type, earlier.Order),
				TaskIDs:    []string{fill.ID, earlier.ID},
				TaskOrders: []int{fill.Order, earlier.Order},
			})
		}
	}
	return issues
}
