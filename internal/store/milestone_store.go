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

const milestoneColumns = `id, title, status, start_date, end_date, project_id, created_at, updated_at`

// CreateMilestone inserts a new milestone inside a project.
func (s *SQLiteStore) CreateMilestone(ctx context.Context, milestone *model.Milestone) error {
	if strings.TrimSpace(milestone.Title) == "" {
		return invalid("title", "milestone title must not be empty")
	}
	if milestone.ProjectID == "" {
		return invalid("project_id", "milestone must belong to a project")
	}
	if milestone.ID == "" {
		milestone.ID = uuid.New().String()
	}
	if milestone.Status == "" {
		milestone.Status = model.MilestonePlanned
	}
	now := time.Now().UTC()
	milestone.CreatedAt = now
	milestone.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (`+milestoneColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		milestone.ID, milestone.Title, string(milestone.Status),
		utcPtr(milestone.StartDate), utcPtr(milestone.EndDate),
		milestone.ProjectID, milestone.CreatedAt, milestone.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating milestone: %w", err)
	}
	return nil
}

// GetMilestoneByID retrieves a single milestone by ID.
func (s *SQLiteStore) GetMilestoneByID(
	ctx context.Context,
	id string,
) (*model.Milestone, error) {
	var milestone model.Milestone
	err := s.db.GetContext(ctx, &milestone,
		"SELECT "+milestoneColumns+" FROM milestones WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("milestone", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting milestone %s: %w", id, err)
	}
	return &milestone, nil
}

// GetMilestoneWithTasks retrieves a milestone and all of its tasks.
func (s *SQLiteStore) GetMilestoneWithTasks(
	ctx context.Context,
	id string,
) (*model.Milestone, error) {
	milestone, err := s.GetMilestoneByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := s.FindTasks(ctx, TaskFilter{MilestoneID: &id})
	if err != nil {
		return nil, fmt.Errorf("loading tasks for milestone %s: %w", id, err)
	}
	milestone.Tasks = tasks
	return milestone, nil
}

// ListMilestonesWithTasks retrieves every milestone with its tasks attached.
func (s *SQLiteStore) ListMilestonesWithTasks(ctx context.Context) ([]model.Milestone, error) {
	var milestones []model.Milestone
	err := s.db.SelectContext(ctx, &milestones,
		"SELECT "+milestoneColumns+" FROM milestones ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying milestones: %w", err)
	}

	tasks, err := s.FindTasks(ctx, TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("loading tasks for milestones: %w", err)
	}

	byMilestone := make(map[string][]model.Task, len(milestones))
	for _, t := range tasks {
		byMilestone[t.MilestoneID] = append(byMilestone[t.MilestoneID], t)
	}
	for i := range milestones {
		milestones[i].Tasks = byMilestone[milestones[i].ID]
	}
	return milestones, nil
}

// UpdateMilestone updates the title and dates of a milestone. Status is
// left untouched; it is only written through UpdateMilestoneStatus.
func (s *SQLiteStore) UpdateMilestone(ctx context.Context, milestone model.Milestone) error {
	if strings.TrimSpace(milestone.Title) == "" {
		return invalid("title", "milestone title must not be empty")
	}
	if milestone.StartDate != nil && milestone.EndDate != nil &&
		milestone.EndDate.Before(*milestone.StartDate) {
		return invalid("end_date", "end date must not be before start date")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE milestones SET
			title = ?, start_date = ?, end_date = ?, updated_at = ?
		WHERE id = ?`,
		milestone.Title, utcPtr(milestone.StartDate), utcPtr(milestone.EndDate),
		time.Now().UTC(), milestone.ID,
	)
	if err != nil {
		return fmt.Errorf("updating milestone %s: %w", milestone.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("milestone", milestone.ID)
	}
	return nil
}

// UpdateMilestoneStatus sets the derived status of a milestone.
func (s *SQLiteStore) UpdateMilestoneStatus(
	ctx context.Context,
	id string,
	status model.MilestoneStatus,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE milestones SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating milestone %s status: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("milestone", id)
	}
	return nil
}
