// Package trigger turns status transitions and time conditions into
// notifications. Automated notifications are deduplicated per
// (type, task, user).
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nhle/project-tracker/internal/cascade"
	"github.com/nhle/project-tracker/internal/lock"
	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/store"
)

// Store is the subset of the record store the engine reads.
type Store interface {
	FindTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	GetMilestoneByID(ctx context.Context, id string) (*model.Milestone, error)
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
}

// Notifier persists and delivers notifications.
type Notifier interface {
	Create(ctx context.Context, n *model.Notification) error
	CreateBulk(ctx context.Context, ns []model.Notification) ([]model.Notification, error)
	Exists(ctx context.Context, typ model.NotificationType, taskID, userID string) (bool, error)
}

// Config holds the batch check parameters.
type Config struct {
	// DueSoonDays is the reminder lookahead in calendar days.
	DueSoonDays int

	// StartedLookback bounds how old a start date may be for the task
	// to still be announced as started.
	StartedLookback time.Duration

	// Location is the calendar-day reference for due and overdue math.
	Location *time.Location
}

// BatchReport summarizes one run of the batch checks.
type BatchReport struct {
	Started int `json:"started"`
	Overdue int `json:"overdue"`
	DueSoon int `json:"due_soon"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Created returns the number of notifications written.
func (r BatchReport) Created() int {
	return r.Started + r.Overdue + r.DueSoon
}

// Engine decides which events produce notifications.
type Engine struct {
	store    Store
	notifier Notifier
	keys     *lock.MutexMap
	logger   *slog.Logger
	now      func() time.Time

	dueSoonDays atomic.Int64
	lookback    time.Duration
	loc         *time.Location
}

var _ cascade.Observer = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used by immediate triggers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(s Store, n Notifier, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartedLookback <= 0 {
		cfg.StartedLookback = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e := &Engine{
		store:    s,
		notifier: n,
		keys:     lock.NewMutexMap(),
		logger:   logger.With("component", "trigger"),
		now:      time.Now,
		lookback: cfg.StartedLookback,
		loc:      cfg.Location,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.SetDueSoonDays(cfg.DueSoonDays)
	return e
}

// SetDueSoonDays changes the reminder lookahead. It is safe to call
// while checks are running; negative values are ignored.
func (e *Engine) SetDueSoonDays(days int) {
	if days < 0 {
		return
	}
	e.dueSoonDays.Store(int64(days))
}

// DueSoonDays returns the current reminder lookahead.
func (e *Engine) DueSoonDays() int {
	return int(e.dueSoonDays.Load())
}

// === Immediate triggers ===

// MemberAdded announces a new project member to that member.
func (e *Engine) MemberAdded(ctx context.Context, project model.Project, member model.ProjectMember, actorID string) error {
	return e.createImmediate(ctx, memberAddedDraft(project, member, actorID))
}

// ReviewRequested announces a review request to the reviewer.
func (e *Engine) ReviewRequested(ctx context.Context, task model.Task, review model.TaskReview) error {
	projectID, err := e.projectOf(ctx, task)
	if err != nil {
		return err
	}
	return e.createImmediate(ctx, reviewRequestedDraft(task, projectID, review))
}

// ReviewDecided announces an approval or rejection to the requester.
func (e *Engine) ReviewDecided(ctx context.Context, task model.Task, review model.TaskReview) error {
	projectID, err := e.projectOf(ctx, task)
	if err != nil {
		return err
	}
	return e.createImmediate(ctx, reviewOutcomeDraft(task, projectID, review))
}

// TaskStartedBy announces to the project owner that actorID started
// task. Only the assignee starting their own task is announced.
func (e *Engine) TaskStartedBy(ctx context.Context, task model.Task, actorID string) error {
	if !task.HasAssignee() || *task.AssigneeID != actorID {
		return nil
	}
	m, err := e.store.GetMilestoneByID(ctx, task.MilestoneID)
	if err != nil {
		return err
	}
	p, err := e.store.GetProjectByID(ctx, m.ProjectID)
	if err != nil {
		return err
	}
	if p.OwnerID == actorID {
		return nil
	}
	return e.createOnce(ctx, startedDraft(task, p.ID, p.OwnerID))
}

func (e *Engine) createImmediate(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return nil
	}
	if err := e.notifier.Create(ctx, n); err != nil {
		return fmt.Errorf("creating %s notification: %w", n.Type, err)
	}
	return nil
}

// createOnce writes a deduplicated notification unless one already
// exists. A concurrent duplicate surfaces as a ConflictError from the
// store and is swallowed.
func (e *Engine) createOnce(ctx context.Context, n *model.Notification) error {
	_, err := e.tryCreate(ctx, n)
	return err
}

// tryCreate is createOnce reporting whether a row was written.
func (e *Engine) tryCreate(ctx context.Context, n *model.Notification) (bool, error) {
	if n == nil {
		return false, nil
	}
	key := *n.DedupKey
	e.keys.Lock(key)
	defer e.keys.Unlock(key)

	exists, err := e.notifier.Exists(ctx, n.Type, *n.TaskID, n.UserID)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	if exists {
		return false, nil
	}
	err = e.notifier.Create(ctx, n)
	if store.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", key, err)
	}
	return true, nil
}

// TaskTransitioned implements cascade.Observer. Time-driven starts and
// overdue transitions are announced to the assignee right away instead
// of waiting for the next batch.
func (e *Engine) TaskTransitioned(ctx context.Context, tr cascade.TaskTransition) {
	task := tr.Task
	if !task.HasAssignee() {
		return
	}
	projectID, err := e.projectOf(ctx, task)
	if err != nil {
		e.logger.Error("transition: resolving project failed", "task_id", task.ID, "error", err)
		return
	}

	var n *model.Notification
	switch task.Status {
	case model.TaskInProgress:
		n = startedDraft(task, projectID, *task.AssigneeID)
	case model.TaskOverdue:
		n = overdueDraft(task, projectID, e.now(), e.loc)
	}
	if err := e.createOnce(ctx, n); err != nil {
		e.logger.Error("transition: notification failed", "task_id", task.ID, "status", task.Status, "error", err)
	}
}

// === Batch triggers ===

// RunBatch runs the started, overdue and due-soon checks in that order.
// Failures are isolated per task.
func (e *Engine) RunBatch(ctx context.Context, now time.Time) BatchReport {
	var rep BatchReport
	projects := make(map[string]string)

	rep.Started = e.runCheck(ctx, "started", e.startedCandidates, projects, &rep,
		func(t model.Task, projectID string) *model.Notification {
			return startedDraft(t, projectID, *t.AssigneeID)
		}, now)
	rep.Overdue = e.runCheck(ctx, "overdue", e.overdueCandidates, projects, &rep,
		func(t model.Task, projectID string) *model.Notification {
			return overdueDraft(t, projectID, now, e.loc)
		}, now)
	rep.DueSoon = e.runCheck(ctx, "due_soon", e.dueSoonCandidates, projects, &rep,
		func(t model.Task, projectID string) *model.Notification {
			return dueReminderDraft(t, projectID, now, e.loc)
		}, now)
	return rep
}

// CheckStarted runs only the started check.
func (e *Engine) CheckStarted(ctx context.Context, now time.Time) BatchReport {
	var rep BatchReport
	rep.Started = e.runCheck(ctx, "started", e.startedCandidates, map[string]string{}, &rep,
		func(t model.Task, projectID string) *model.Notification {
			return startedDraft(t, projectID, *t.AssigneeID)
		}, now)
	return rep
}

// CheckOverdue runs only the overdue check.
func (e *Engine) CheckOverdue(ctx context.Context, now time.Time) BatchReport {
	var rep BatchReport
	rep.Overdue = e.runCheck(ctx, "overdue", e.overdueCandidates, map[string]string{}, &rep,
		func(t model.Task, projectID string) *model.Notification {
			return overdueDraft(t, projectID, now, e.loc)
		}, now)
	return rep
}

// CheckDueSoon runs only the due reminder check.
func (e *Engine) CheckDueSoon(ctx context.Context, now time.Time) BatchReport {
	var rep BatchReport
	rep.DueSoon = e.runCheck(ctx, "due_soon", e.dueSoonCandidates, map[string]string{}, &rep,
		func(t model.Task, projectID string) *model.Notification {
			return dueReminderDraft(t, projectID, now, e.loc)
		}, now)
	return rep
}

// startedCandidates selects assigned tasks in progress whose start date
// falls inside the lookback window.
func (e *Engine) startedCandidates(ctx context.Context, now time.Time) ([]model.Task, error) {
	since := now.Add(-e.lookback)
	return e.store.FindTasks(ctx, store.TaskFilter{
		Statuses:        []model.TaskStatus{model.TaskInProgress},
		HasAssignee:     true,
		StartOnOrAfter:  &since,
		StartOnOrBefore: &now,
	})
}

// overdueCandidates selects assigned open tasks past their due date.
// Tasks in review are waiting on someone else and are left out.
func (e *Engine) overdueCandidates(ctx context.Context, now time.Time) ([]model.Task, error) {
	return e.store.FindTasks(ctx, store.TaskFilter{
		ExcludeStatuses: []model.TaskStatus{model.TaskCompleted, model.TaskInReview},
		HasAssignee:     true,
		DueBefore:       &now,
		SortBy:          "due_date",
	})
}

// dueSoonCandidates selects assigned open tasks due before the end of
// the calendar day DueSoonDays days from today.
func (e *Engine) dueSoonCandidates(ctx context.Context, now time.Time) ([]model.Task, error) {
	until := startOfDay(now, e.loc).AddDate(0, 0, e.DueSoonDays()+1)
	after := now.Add(time.Nanosecond)
	return e.store.FindTasks(ctx, store.TaskFilter{
		ExcludeStatuses: []model.TaskStatus{model.TaskCompleted, model.TaskInReview, model.TaskOverdue},
		HasAssignee:     true,
		DueOnOrAfter:    &after,
		DueBefore:       &until,
		SortBy:          "due_date",
	})
}

type candidateFunc func(ctx context.Context, now time.Time) ([]model.Task, error)

type draftFunc func(t model.Task, projectID string) *model.Notification

func (e *Engine) runCheck(
	ctx context.Context,
	name string,
	candidates candidateFunc,
	projects map[string]string,
	rep *BatchReport,
	draft draftFunc,
	now time.Time,
) int {
	tasks, err := candidates(ctx, now)
	if err != nil {
		rep.Errors++
		e.logger.Error("batch: loading candidates failed", "check", name, "error", err)
		return 0
	}

	var drafts []model.Notification
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		projectID, ok := projects[t.MilestoneID]
		if !ok {
			projectID, err = e.projectOf(ctx, t)
			if err != nil {
				rep.Errors++
				e.logger.Error("batch: resolving project failed", "check", name, "task_id", t.ID, "error", err)
				continue
			}
			projects[t.MilestoneID] = projectID
		}

		n := draft(t, projectID)
		if n == nil {
			continue
		}
		exists, err := e.notifier.Exists(ctx, n.Type, t.ID, n.UserID)
		if err != nil {
			rep.Errors++
			e.logger.Error("batch: dedup check failed", "check", name, "task_id", t.ID, "error", err)
			continue
		}
		if exists {
			rep.Skipped++
			continue
		}
		drafts = append(drafts, *n)
	}
	if len(drafts) == 0 {
		return 0
	}

	created, err := e.notifier.CreateBulk(ctx, drafts)
	if err == nil {
		rep.Skipped += len(drafts) - len(created)
		return len(created)
	}

	// The batch is one transaction; fall back to single writes so one
	// bad row does not cost the rest.
	e.logger.Warn("batch: bulk insert failed, retrying rows", "check", name, "error", err)
	count := 0
	for i := range drafts {
		ok, err := e.tryCreate(ctx, &drafts[i])
		if err != nil {
			rep.Errors++
			e.logger.Error("batch: notification failed", "check", name, "task_id", *drafts[i].TaskID, "error", err)
			continue
		}
		if ok {
			count++
		} else {
			rep.Skipped++
		}
	}
	return count
}

func (e *Engine) projectOf(ctx context.Context, task model.Task) (string, error) {
	m, err := e.store.GetMilestoneByID(ctx, task.MilestoneID)
	if err != nil {
		return "", err
	}
	return m.ProjectID, nil
}
