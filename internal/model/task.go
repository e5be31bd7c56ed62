package model

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskUpcoming   TaskStatus = "UPCOMING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskInReview   TaskStatus = "IN_REVIEW"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskOverdue    TaskStatus = "OVERDUE"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskUpcoming, TaskInProgress, TaskInReview, TaskCompleted, TaskOverdue:
		return true
	}
	return false
}

// Task is a unit of work owned by a milestone.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" db:"id"`

	// Title is the human-readable summary of the task.
	Title string `json:"title" db:"title"`

	// Description is the full body text.
	Description string `json:"description" db:"description"`

	// Status is the current lifecycle state (use Task* constants).
	Status TaskStatus `json:"status" db:"status"`

	// StartDate is when work is scheduled to begin. Nil means unscheduled.
	StartDate *time.Time `json:"start_date,omitempty" db:"start_date"`

	// DueDate is when the work must be finished. Nil means no deadline.
	DueDate *time.Time `json:"due_date,omitempty" db:"due_date"`

	// MilestoneID is the owning milestone.
	MilestoneID string `json:"milestone_id" db:"milestone_id"`

	// AssigneeID is the user responsible for the task, if any.
	AssigneeID *string `json:"assignee_id,omitempty" db:"assignee_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasAssignee reports whether the task has a non-empty assignee.
func (t Task) HasAssignee() bool {
	return t.AssigneeID != nil && *t.AssigneeID != ""
}
