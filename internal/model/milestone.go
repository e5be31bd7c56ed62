package model

import "time"

// MilestoneStatus is the derived state of a milestone.
type MilestoneStatus string

const (
	MilestonePlanned    MilestoneStatus = "PLANNED"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneCompleted  MilestoneStatus = "COMPLETED"
	MilestoneOverdue    MilestoneStatus = "OVERDUE"
)

// Milestone groups tasks inside a project. Its status is derived from
// its dates and its tasks and is only written by the cascade.
type Milestone struct {
	ID        string          `json:"id" db:"id"`
	Title     string          `json:"title" db:"title"`
	Status    MilestoneStatus `json:"status" db:"status"`
	StartDate *time.Time      `json:"start_date,omitempty" db:"start_date"`
	EndDate   *time.Time      `json:"end_date,omitempty" db:"end_date"`
	ProjectID string          `json:"project_id" db:"project_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`

	// Tasks is populated by queries that load the milestone with its children.
	Tasks []Task `json:"tasks,omitempty" db:"-"`
}

// TaskStatuses returns the statuses of the loaded child tasks.
func (m Milestone) TaskStatuses() []TaskStatus {
	statuses := make([]TaskStatus, len(m.Tasks))
	for i, t := range m.Tasks {
		statuses[i] = t.Status
	}
	return statuses
}
