// Package cascade keeps derived statuses consistent, either for one
// mutated entity and its ancestors or for every entity during a sweep.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/status"
	"github.com/nhle/project-tracker/internal/store"
)

// Store is the subset of the record store the coordinator needs.
type Store interface {
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	FindTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	GetMilestoneWithTasks(ctx context.Context, id string) (*model.Milestone, error)
	ListMilestonesWithTasks(ctx context.Context) ([]model.Milestone, error)
	UpdateMilestoneStatus(ctx context.Context, id string, status model.MilestoneStatus) error
	GetProjectWithMilestones(ctx context.Context, id string) (*model.Project, error)
	ListProjectsWithMilestones(ctx context.Context) ([]model.Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status model.ProjectStatus) error
}

// TaskTransition is a time-driven task status change written by a
// targeted cascade. Task carries the new status.
type TaskTransition struct {
	Task model.Task
	From model.TaskStatus
}

// Observer is told about time-driven task transitions so they can be
// announced. It must not block for long; it runs on the caller's path.
type Observer interface {
	TaskTransitioned(ctx context.Context, tr TaskTransition)
}

// Entity kinds reported in a Change.
const (
	EntityTask      = "task"
	EntityMilestone = "milestone"
	EntityProject   = "project"
)

// Change is one persisted status write.
type Change struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Result lists the writes made by a targeted cascade, bottom-up.
type Result struct {
	Changes []Change `json:"changes"`
}

// Changed reports whether an entity of the given kind was written.
func (r Result) Changed(entity string) bool {
	for _, c := range r.Changes {
		if c.Entity == entity {
			return true
		}
	}
	return false
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	TasksUpdated      int `json:"tasks_updated"`
	MilestonesUpdated int `json:"milestones_updated"`
	ProjectsUpdated   int `json:"projects_updated"`
	Errors            int `json:"errors"`
}

// Writes returns the total number of status writes.
func (r SweepReport) Writes() int {
	return r.TasksUpdated + r.MilestonesUpdated + r.ProjectsUpdated
}

// Coordinator runs the status evaluator bottom-up and persists only
// actual changes.
type Coordinator struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used by targeted cascades.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithObserver registers the observer for time-driven task transitions.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// New creates a Coordinator.
func New(s Store, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:  s,
		logger: logger.With("component", "cascade"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver registers o after construction. It must be called before
// the coordinator is shared between goroutines.
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

// OnTaskMutated re-derives the task, then its milestone and project.
// The milestone is always re-derived because the mutation itself may
// have changed the task status; the walk stops at the first ancestor
// whose status is unchanged. Errors are returned to the caller.
func (c *Coordinator) OnTaskMutated(ctx context.Context, taskID string) (Result, error) {
	var res Result
	now := c.now()

	task, err := c.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return res, err
	}

	if next := status.DeriveTaskTimeStatus(*task, now); next != task.Status {
		if err := c.store.UpdateTaskStatus(ctx, task.ID, next); err != nil {
			return res, fmt.Errorf("cascading task %s: %w", task.ID, err)
		}
		from := task.Status
		task.Status = next
		res.Changes = append(res.Changes, Change{EntityTask, task.ID, string(from), string(next)})
		if c.observer != nil {
			c.observer.TaskTransitioned(ctx, TaskTransition{Task: *task, From: from})
		}
	}

	return c.cascadeMilestone(ctx, task.MilestoneID, now, res)
}

// OnMilestoneMutated re-derives the milestone and, if it changed, its
// project.
func (c *Coordinator) OnMilestoneMutated(ctx context.Context, milestoneID string) (Result, error) {
	return c.cascadeMilestone(ctx, milestoneID, c.now(), Result{})
}

func (c *Coordinator) cascadeMilestone(ctx context.Context, milestoneID string, now time.Time, res Result) (Result, error) {
	m, err := c.store.GetMilestoneWithTasks(ctx, milestoneID)
	if err != nil {
		return res, err
	}

	next := status.DeriveMilestoneStatus(*m, m.TaskStatuses(), now)
	if next == m.Status {
		return res, nil
	}
	if err := c.store.UpdateMilestoneStatus(ctx, m.ID, next); err != nil {
		return res, fmt.Errorf("cascading milestone %s: %w", m.ID, err)
	}
	res.Changes = append(res.Changes, Change{EntityMilestone, m.ID, string(m.Status), string(next)})

	p, err := c.store.GetProjectWithMilestones(ctx, m.ProjectID)
	if err != nil {
		return res, err
	}
	pnext := status.DeriveProjectStatus(*p, p.MilestoneStatuses())
	if pnext == p.Status {
		return res, nil
	}
	if err := c.store.UpdateProjectStatus(ctx, p.ID, pnext); err != nil {
		return res, fmt.Errorf("cascading project %s: %w", p.ID, err)
	}
	res.Changes = append(res.Changes, Change{EntityProject, p.ID, string(p.Status), string(pnext)})
	return res, nil
}

// Sweep re-derives every task, then every milestone, then every
// project. A failure on one entity is logged and the sweep moves on.
// Cancelling ctx stops the sweep between entities.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) SweepReport {
	var rep SweepReport
	c.sweepTasks(ctx, now, &rep)
	if ctx.Err() != nil {
		return rep
	}
	c.sweepMilestones(ctx, now, &rep)
	if ctx.Err() != nil {
		return rep
	}
	c.sweepProjects(ctx, &rep)
	return rep
}

func (c *Coordinator) sweepTasks(ctx context.Context, now time.Time, rep *SweepReport) {
	// Terminal and manual statuses are never moved by time.
	tasks, err := c.store.FindTasks(ctx, store.TaskFilter{
		ExcludeStatuses: []model.TaskStatus{model.TaskCompleted, model.TaskOverdue, model.TaskInReview},
	})
	if err != nil {
		rep.Errors++
		c.logger.Error("sweep: loading tasks failed", "error", err)
		return
	}

	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		next := status.DeriveTaskTimeStatus(t, now)
		if next == t.Status {
			continue
		}
		if err := c.store.UpdateTaskStatus(ctx, t.ID, next); err != nil {
			rep.Errors++
			c.logger.Error("sweep: task update failed", "task_id", t.ID, "error", err)
			continue
		}
		rep.TasksUpdated++
	}
}

func (c *Coordinator) sweepMilestones(ctx context.Context, now time.Time, rep *SweepReport) {
	milestones, err := c.store.ListMilestonesWithTasks(ctx)
	if err != nil {
		rep.Errors++
		c.logger.Error("sweep: loading milestones failed", "error", err)
		return
	}

	for _, m := range milestones {
		if ctx.Err() != nil {
			return
		}
		next := status.DeriveMilestoneStatus(m, m.TaskStatuses(), now)
		if next == m.Status {
			continue
		}
		if err := c.store.UpdateMilestoneStatus(ctx, m.ID, next); err != nil {
			rep.Errors++
			c.logger.Error("sweep: milestone update failed", "milestone_id", m.ID, "error", err)
			continue
		}
		rep.MilestonesUpdated++
	}
}

func (c *Coordinator) sweepProjects(ctx context.Context, rep *SweepReport) {
	projects, err := c.store.ListProjectsWithMilestones(ctx)
	if err != nil {
		rep.Errors++
		c.logger.Error("sweep: loading projects failed", "error", err)
		return
	}

	for _, p := range projects {
		if ctx.Err() != nil {
			return
		}
		next := status.DeriveProjectStatus(p, p.MilestoneStatuses())
		if next == p.Status {
			continue
		}
		if err := c.store.UpdateProjectStatus(ctx, p.ID, next); err != nil {
			rep.Errors++
			c.logger.Error("sweep: project update failed", "project_id", p.ID, "error", err)
			continue
		}
		rep.ProjectsUpdated++
	}
}
