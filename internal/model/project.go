package model

import "time"

// ProjectStatus is the state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
)

// Project is the top-level container for milestones.
type Project struct {
	ID          string        `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description" db:"description"`
	Status      ProjectStatus `json:"status" db:"status"`
	OwnerID     string        `json:"owner_id" db:"owner_id"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`

	// Milestones is populated by queries that load the project with its children.
	Milestones []Milestone `json:"milestones,omitempty" db:"-"`
}

// MilestoneStatuses returns the statuses of the loaded milestones.
func (p Project) MilestoneStatuses() []MilestoneStatus {
	statuses := make([]MilestoneStatus, len(p.Milestones))
	for i, m := range p.Milestones {
		statuses[i] = m.Status
	}
	return statuses
}

// Member role constants.
const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
	RoleViewer = "VIEWER"
)

// ProjectMember links a user to a project with a role.
type ProjectMember struct {
	ProjectID string    `json:"project_id" db:"project_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
