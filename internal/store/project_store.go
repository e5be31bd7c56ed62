package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/project-tracker/internal/model"
)

const projectColumns = `id, name, description, status, owner_id, created_at, updated_at`

// CreateProject inserts a new project. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *model.Project) error {
	if strings.TrimSpace(project.Name) == "" {
		return invalid("name", "project name must not be empty")
	}
	if project.OwnerID == "" {
		return invalid("owner_id", "project owner must not be empty")
	}
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.Status == "" {
		project.Status = model.ProjectActive
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.Description, string(project.Status),
		project.OwnerID, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	// The owner is always a member.
	return s.AddProjectMember(ctx, model.ProjectMember{
		ProjectID: project.ID,
		UserID:    project.OwnerID,
		Role:      model.RoleOwner,
	})
}

// GetProjectByID retrieves a single project by ID.
func (s *SQLiteStore) GetProjectByID(
	ctx context.Context,
	id string,
) (*model.Project, error) {
	var project model.Project
	err := s.db.GetContext(ctx, &project,
		"SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project %s: %w", id, err)
	}
	return &project, nil
}

// GetProjectWithMilestones retrieves a project and all of its milestones.
func (s *SQLiteStore) GetProjectWithMilestones(
	ctx context.Context,
	id string,
) (*model.Project, error) {
	project, err := s.GetProjectByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var milestones []model.Milestone
	err = s.db.SelectContext(ctx, &milestones,
		"SELECT "+milestoneColumns+" FROM milestones WHERE project_id = ? ORDER BY created_at, id", id)
	if err != nil {
		return nil, fmt.Errorf("loading milestones for project %s: %w", id, err)
	}
	project.Milestones = milestones
	return project, nil
}

// ListProjects retrieves all projects ordered by creation time.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := s.db.SelectContext(ctx, &projects,
		"SELECT "+projectColumns+" FROM projects ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	return projects, nil
}

// ListProjectsWithMilestones retrieves every project with its milestones
// attached, using one query per table.
func (s *SQLiteStore) ListProjectsWithMilestones(ctx context.Context) ([]model.Project, error) {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	var milestones []model.Milestone
	err = s.db.SelectContext(ctx, &milestones,
		"SELECT "+milestoneColumns+" FROM milestones ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying milestones: %w", err)
	}

	byProject := make(map[string][]model.Milestone, len(projects))
	for _, m := range milestones {
		byProject[m.ProjectID] = append(byProject[m.ProjectID], m)
	}
	for i := range projects {
		projects[i].Milestones = byProject[projects[i].ID]
	}
	return projects, nil
}

// UpdateProjectStatus sets the status of a project.
func (s *SQLiteStore) UpdateProjectStatus(
	ctx context.Context,
	id string,
	status model.ProjectStatus,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE projects SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating project %s status: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("project", id)
	}
	return nil
}

// AddProjectMember adds a user to a project, or updates the role of an
// existing member.
func (s *SQLiteStore) AddProjectMember(ctx context.Context, member model.ProjectMember) error {
	if member.ProjectID == "" || member.UserID == "" {
		return invalid("member", "project and user must not be empty")
	}
	if member.Role == "" {
		member.Role = model.RoleMember
	}
	member.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role`,
		member.ProjectID, member.UserID, member.Role, member.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("adding member %s to project %s: %w", member.UserID, member.ProjectID, err)
	}
	return nil
}

// GetProjectMembers lists the members of a project.
func (s *SQLiteStore) GetProjectMembers(
	ctx context.Context,
	projectID string,
) ([]model.ProjectMember, error) {
	var members []model.ProjectMember
	err := s.db.SelectContext(ctx, &members, `
		SELECT project_id, user_id, role, created_at
		FROM project_members WHERE project_id = ? ORDER BY created_at, user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying members of project %s: %w", projectID, err)
	}
	return members, nil
}
