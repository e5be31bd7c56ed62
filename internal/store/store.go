package store

import (
	"context"
	"time"

	"github.com/nhle/project-tracker/internal/model"
)

// TaskFilter selects tasks for sweeps and batch trigger candidate
// selection. Zero-valued fields do not constrain the result.
type TaskFilter struct {
	MilestoneID     *string
	Statuses        []model.TaskStatus // status IN (...)
	ExcludeStatuses []model.TaskStatus // status NOT IN (...)
	HasAssignee     bool
	StartOnOrAfter  *time.Time
	StartOnOrBefore *time.Time
	DueOnOrAfter    *time.Time
	DueBefore       *time.Time
	SortBy          string // "created_at", "due_date", "start_date", "updated_at", "title"
	SortDesc        bool
	Limit           int
	Offset          int
}

// NotificationFilter scopes notification queries to one recipient.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationCount is one group of a grouped notification count.
type NotificationCount struct {
	Type   model.NotificationType `db:"type"`
	IsRead bool                   `db:"is_read"`
	Count  int                    `db:"count"`
}

// Store defines the persistence interface for projects, milestones,
// tasks, reviews and notifications.
type Store interface {
	// === Projects ===

	CreateProject(ctx context.Context, project *model.Project) error
	GetProjectByID(ctx context.Context, id string) (*model.Project, error)
	GetProjectWithMilestones(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListProjectsWithMilestones(ctx context.Context) ([]model.Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status model.ProjectStatus) error
	AddProjectMember(ctx context.Context, member model.ProjectMember) error
	GetProjectMembers(ctx context.Context, projectID string) ([]model.ProjectMember, error)

	// === Milestones ===

	CreateMilestone(ctx context.Context, milestone *model.Milestone) error
	GetMilestoneByID(ctx context.Context, id string) (*model.Milestone, error)
	GetMilestoneWithTasks(ctx context.Context, id string) (*model.Milestone, error)
	ListMilestonesWithTasks(ctx context.Context) ([]model.Milestone, error)
	UpdateMilestone(ctx context.Context, milestone model.Milestone) error
	UpdateMilestoneStatus(ctx context.Context, id string, status model.MilestoneStatus) error

	// === Tasks ===

	CreateTask(ctx context.Context, task *model.Task) error
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	UpdateTask(ctx context.Context, task model.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error
	FindTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// === Reviews ===

	CreateTaskReview(ctx context.Context, review *model.TaskReview) error
	GetTaskReview(ctx context.Context, id string) (*model.TaskReview, error)
	UpdateTaskReview(ctx context.Context, review model.TaskReview) error

	// === Notifications ===

	CreateNotification(ctx context.Context, n *model.Notification) error
	CreateNotificationsBulk(ctx context.Context, ns []model.Notification) ([]model.Notification, error)
	FindNotification(ctx context.Context, typ model.NotificationType, taskID, userID string) (*model.Notification, error)
	GetNotification(ctx context.Context, userID, id string) (*model.Notification, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	CountNotifications(ctx context.Context, filter NotificationFilter) (int, error)
	CountNotificationsGrouped(ctx context.Context, userID string) ([]NotificationCount, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, userID, id string) error
}
