// Package locate answers "what is built here": spatial queries over
// persisted build bounds and static audits of pending task queues.
package locate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"voxelforge/internal/logging"
	"voxelforge/internal/service"
	"voxelforge/internal/store"
	"voxelforge/internal/types"
)

// fetchParallelism bounds concurrent per-build task loads during a
// location query.
const fetchParallelism = 4

// BuildHit pairs a build with the subset of its tasks whose bounds
// intersect the query box.
type BuildHit struct {
	Build *types.Build  `json:"build"`
	Tasks []*types.Task `json:"intersecting_tasks"`
}

// LocationReport is the result of a spatial query.
type LocationReport struct {
	World          string            `json:"world"`
	QueryArea      types.BoundingBox `json:"query_area"`
	BuildCount     int               `json:"build_count"`
	TotalTaskCount int               `json:"total_task_count"`
	Builds         []BuildHit        `json:"builds"`
}

// LocationService runs spatial queries and queue audits against the
// store. It never touches the world.
type LocationService struct {
	store *store.BuildStore
	rules []AuditRule
}

// Config configures a LocationService.
type Config struct {
	Store *store.BuildStore
	Audit AuditConfig
}

// NewLocationService creates a service with the default audit rules
// adjusted by cfg.Audit.
func NewLocationService(cfg Config) *LocationService {
	return &LocationService{
		store: cfg.Store,
		rules: buildRules(cfg.Audit),
	}
}

// QueryByLocation returns the builds whose stored task bounds
// intersect the box, in created_at ascending order. Builds that are
// not yet COMPLETED are dropped unless includeInProgress is set.
// Every returned build carries at least one intersecting task.
func (l *LocationService) QueryByLocation(ctx context.Context, world string, box types.BoundingBox, includeInProgress bool) (*LocationReport, error) {
	if !box.Valid() {
		return nil, fmt.Errorf("%w: degenerate query box %s", service.ErrInvalid, box)
	}
	if world == "" {
		world = types.DefaultWorld
	}

	builds, err := l.store.ListBuildsIntersecting(world, box)
	if err != nil {
		return nil, fmt.Errorf("spatial build lookup: %w", err)
	}

	candidates := builds[:0]
	for _, b := range builds {
		if !includeInProgress && b.Status != types.BuildCompleted {
			continue
		}
		candidates = append(candidates, b)
	}

	// Task loads are independent per build; fan out with a bound.
	hits := make([][]*types.Task, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for i, b := range candidates {
		i, b := i, b
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tasks, err := l.store.GetTasksOrdered(b.ID)
			if err != nil {
				return fmt.Errorf("tasks for build %s: %w", b.ID, err)
			}
			for _, t := range tasks {
				if t.Bounds != nil && t.Bounds.Intersects(box) {
					hits[i] = append(hits[i], t)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &LocationReport{World: world, QueryArea: box, Builds: []BuildHit{}}
	for i, b := range candidates {
		if len(hits[i]) == 0 {
			// The index matched but every concrete task missed; a
			// returned build must have at least one intersecting task.
			continue
		}
		report.Builds = append(report.Builds, BuildHit{Build: b, Tasks: hits[i]})
		report.BuildCount++
		report.TotalTaskCount += len(hits[i])
	}
	logging.LocateDebug("Query %s in %s: %d builds, %d tasks", box, world, report.BuildCount, report.TotalTaskCount)
	return report, nil
}

// Audit runs the configured static rules over a build's queue and
// returns the issues found. It is read-only.
func (l *LocationService) Audit(buildID string) (*AuditReport, error) {
	if _, err := l.store.GetBuild(buildID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: build %s", service.ErrNotFound, buildID)
		}
		return nil, fmt.Errorf("build %s: %w", buildID, err)
	}
	tasks, err := l.store.GetTasksOrdered(buildID)
	if err != nil {
		return nil, fmt.Errorf("tasks for build %s: %w", buildID, err)
	}

	report := &AuditReport{BuildID: buildID, Issues: []Issue{}}
	for _, rule := range l.rules {
		for _, issue := range rule.Check(tasks) {
			issue.Rule = rule.Name
			report.Issues = append(report.Issues, issue)
			switch issue.Severity {
			case SeverityError:
				report.Errors++
			default:
				report.Warnings++
			}
		}
	}
	logging.Locate("Audit of build %s: %d warnings, %d errors", buildID, report.Warnings, report.Errors)
	return report, nil
}
