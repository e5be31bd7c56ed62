// Package tracker applies user mutations and runs the follow-up work
// explicitly: every write is followed by a targeted cascade and, where
// warranted, an immediate notification.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhle/project-tracker/internal/cascade"
	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/store"
)

// Store is the subset of the record store used by mutations.
type Store interface {
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	GetMilestoneByID(ctx context.Context, id string) (*model.Milestone, error)
	UpdateMilestone(ctx context.Context, milestone model.Milestone) error
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
	AddProjectMember(ctx context.Context, member model.ProjectMember) error
	CreateTaskReview(ctx context.Context, review *model.TaskReview) error
	GetTaskReview(ctx context.Context, id string) (*model.TaskReview, error)
	UpdateTaskReview(ctx context.Context, review model.TaskReview) error
}

// Cascader runs targeted cascades.
type Cascader interface {
	OnTaskMutated(ctx context.Context, taskID string) (cascade.Result, error)
	OnMilestoneMutated(ctx context.Context, milestoneID string) (cascade.Result, error)
}

// Triggers creates immediate notifications.
type Triggers interface {
	MemberAdded(ctx context.Context, project model.Project, member model.ProjectMember, actorID string) error
	ReviewRequested(ctx context.Context, task model.Task, review model.TaskReview) error
	ReviewDecided(ctx context.Context, task model.Task, review model.TaskReview) error
	TaskStartedBy(ctx context.Context, task model.Task, actorID string) error
}

// Service applies mutations on behalf of a caller.
type Service struct {
	store    Store
	cascade  Cascader
	triggers Triggers
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(s Store, c Cascader, t Triggers, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		cascade:  c,
		triggers: t,
		logger:   logger.With("component", "tracker"),
	}
}

// TaskUpdate is the outcome of a task mutation.
type TaskUpdate struct {
	Task    *model.Task    `json:"task"`
	Cascade cascade.Result `json:"cascade"`
}

// UpdateTaskStatus sets a task's status and cascades. When the assignee
// starts their own task the project owner is told.
func (s *Service) UpdateTaskStatus(ctx context.Context, actorID, taskID string, status model.TaskStatus) (*TaskUpdate, error) {
	if !status.Valid() {
		return nil, &store.ValidationError{Field: "status", Message: fmt.Sprintf("unknown task status %q", status)}
	}
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	from := task.Status

	if status != from {
		if err := s.store.UpdateTaskStatus(ctx, taskID, status); err != nil {
			return nil, err
		}
	}
	res, err := s.cascade.OnTaskMutated(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("cascading task %s: %w", taskID, err)
	}

	updated, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if status == model.TaskInProgress && from != model.TaskInProgress {
		s.notify("task_started", s.triggers.TaskStartedBy(ctx, *updated, actorID))
	}
	return &TaskUpdate{Task: updated, Cascade: res}, nil
}

// MilestoneUpdate is the outcome of a milestone mutation.
type MilestoneUpdate struct {
	Milestone *model.Milestone `json:"milestone"`
	Cascade   cascade.Result   `json:"cascade"`
}

// UpdateMilestoneDates changes a milestone's schedule and cascades.
func (s *Service) UpdateMilestoneDates(ctx context.Context, milestoneID string, start, end *time.Time) (*MilestoneUpdate, error) {
	m, err := s.store.GetMilestoneByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	m.StartDate = start
	m.EndDate = end
	if err := s.store.UpdateMilestone(ctx, *m); err != nil {
		return nil, err
	}

	res, err := s.cascade.OnMilestoneMutated(ctx, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("cascading milestone %s: %w", milestoneID, err)
	}
	updated, err := s.store.GetMilestoneByID(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	return &MilestoneUpdate{Milestone: updated, Cascade: res}, nil
}

var roles = map[string]bool{
	model.RoleOwner:  true,
	model.RoleAdmin:  true,
	model.RoleMember: true,
	model.RoleViewer: true,
}

// AddProjectMember adds userID to a project and tells them.
func (s *Service) AddProjectMember(ctx context.Context, actorID, projectID, userID, role string) (*model.ProjectMember, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		role = model.RoleMember
	}
	if !roles[role] {
		return nil, &store.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	if strings.TrimSpace(userID) == "" {
		return nil, &store.ValidationError{Field: "user_id", Message: "user must not be empty"}
	}

	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	member := model.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}
	if err := s.store.AddProjectMember(ctx, member); err != nil {
		return nil, err
	}

	s.notify("member_added", s.triggers.MemberAdded(ctx, *project, member, actorID))
	return &member, nil
}

// RequestReview moves a task into review and asks reviewerID to look at it.
func (s *Service) RequestReview(ctx context.Context, actorID, taskID, reviewerID string) (*model.TaskReview, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, &store.ValidationError{Field: "reviewer_id", Message: "reviewer must not be empty"}
	}
	task, err := s.store.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == model.TaskCompleted {
		return nil, &store.ValidationError{Field: "status", Message: "completed tasks cannot be reviewed"}
	}

	review := &model.TaskReview{TaskID: taskID, RequesterID: actorID, ReviewerID: reviewerID}
	if err := s.store.CreateTaskReview(ctx, review); err != nil {
		return nil, err
	}
	if err := s.setTaskStatus(ctx, task, model.TaskInReview); err != nil {
		return nil, err
	}

	s.notify("review_requested", s.triggers.ReviewRequested(ctx, *task, *review))
	return review, nil
}

// ApproveReview completes the reviewed task.
func (s *Service) ApproveReview(ctx context.Context, actorID, reviewID, comment string) (*model.TaskReview, error) {
	return s.decide(ctx, actorID, reviewID, comment, model.ReviewApproved, model.TaskCompleted)
}

// RejectReview sends the reviewed task back to in progress.
func (s *Service) RejectReview(ctx context.Context, actorID, reviewID, comment string) (*model.TaskReview, error) {
	return s.decide(ctx, actorID, reviewID, comment, model.ReviewRejected, model.TaskInProgress)
}

func (s *Service) decide(
	ctx context.Context,
	actorID, reviewID, comment string,
	outcome model.ReviewStatus,
	taskStatus model.TaskStatus,
) (*model.TaskReview, error) {
	review, err := s.store.GetTaskReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.ReviewerID != actorID {
		// Reviews are only visible to their reviewer for this purpose.
		return nil, &store.NotFoundError{Entity: "review", ID: reviewID}
	}
	if review.Status != model.ReviewPending {
		return nil, &store.ConflictError{Entity: "review", Key: reviewID}
	}

	task, err := s.store.GetTaskByID(ctx, review.TaskID)
	if err != nil {
		return nil, err
	}

	review.Status = outcome
	review.Comment = comment
	if err := s.store.UpdateTaskReview(ctx, *review); err != nil {
		return nil, err
	}
	if err := s.setTaskStatus(ctx, task, taskStatus); err != nil {
		return nil, err
	}

	s.notify("review_decided", s.triggers.ReviewDecided(ctx, *task, *review))
	return review, nil
}

func (s *Service) setTaskStatus(ctx context.Context, task *model.Task, status model.TaskStatus) error {
	if err := s.store.UpdateTaskStatus(ctx, task.ID, status); err != nil {
		return err
	}
	task.Status = status
	if _, err := s.cascade.OnTaskMutated(ctx, task.ID); err != nil {
		return fmt.Errorf("cascading task %s: %w", task.ID, err)
	}
	return nil
}

// notify logs a failed immediate notification. The mutation itself has
// already been committed and is not rolled back.
func (s *Service) notify(event string, err error) {
	if err != nil {
		s.logger.Error("immediate notification failed", "event", event, "error", err)
	}
}
