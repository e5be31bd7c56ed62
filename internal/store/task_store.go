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

const taskColumns = `id, title, description, status, start_date, due_date,
	milestone_id, assignee_id, created_at, updated_at`

func validateTask(task model.Task) error {
	if strings.TrimSpace(task.Title) == "" {
		return invalid("title", "task title must not be empty")
	}
	if task.MilestoneID == "" {
		return invalid("milestone_id", "task must belong to a milestone")
	}
	if !task.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown task status %q", task.Status))
	}
	if task.StartDate != nil && task.DueDate != nil && task.DueDate.Before(*task.StartDate) {
		return invalid("due_date", "due date must not be before start date")
	}
	return nil
}

// CreateTask inserts a new task. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	if task.Status == "" {
		task.Status = model.TaskUpcoming
	}
	if err := validateTask(*task); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, string(task.Status),
		utcPtr(task.StartDate), utcPtr(task.DueDate),
		task.MilestoneID, task.AssigneeID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetTaskByID retrieves a single task by its ID.
func (s *SQLiteStore) GetTaskByID(
	ctx context.Context,
	id string,
) (*model.Task, error) {
	var task model.Task
	err := s.db.GetContext(ctx, &task,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return &task, nil
}

// UpdateTask updates an existing task by ID.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task model.Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?,
			start_date = ?, due_date = ?,
			milestone_id = ?, assignee_id = ?, updated_at = ?
		WHERE id = ?`,
		task.Title, task.Description, string(task.Status),
		utcPtr(task.StartDate), utcPtr(task.DueDate),
		task.MilestoneID, task.AssigneeID, time.Now().UTC(),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("task", task.ID)
	}
	return nil
}

// UpdateTaskStatus sets only the status column of a task, leaving
// concurrent edits to other fields intact.
func (s *SQLiteStore) UpdateTaskStatus(
	ctx context.Context,
	id string,
	status model.TaskStatus,
) error {
	if !status.Valid() {
		return invalid("status", fmt.Sprintf("unknown task status %q", status))
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating task %s status: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("task", id)
	}
	return nil
}

// FindTasks retrieves tasks matching the filter.
func (s *SQLiteStore) FindTasks(
	ctx context.Context,
	filter TaskFilter,
) ([]model.Task, error) {
	query, args := buildTaskQuery(filter)

	var tasks []model.Task
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return tasks, nil
}

// buildTaskQuery constructs the SQL query and args for a TaskFilter.
func buildTaskQuery(filter TaskFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.MilestoneID != nil {
		conditions = append(conditions, "milestone_id = ?")
		args = append(args, *filter.MilestoneID)
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.ExcludeStatuses) > 0 {
		conditions = append(conditions, "status NOT IN ("+placeholders(len(filter.ExcludeStatuses))+")")
		for _, st := range filter.ExcludeStatuses {
			args = append(args, string(st))
		}
	}
	if filter.HasAssignee {
		conditions = append(conditions, "assignee_id IS NOT NULL AND assignee_id != ''")
	}
	if filter.StartOnOrAfter != nil {
		conditions = append(conditions, "start_date >= ?")
		args = append(args, filter.StartOnOrAfter.UTC())
	}
	if filter.StartOnOrBefore != nil {
		conditions = append(conditions, "start_date <= ?")
		args = append(args, filter.StartOnOrBefore.UTC())
	}
	if filter.DueOnOrAfter != nil {
		conditions = append(conditions, "due_date >= ?")
		args = append(args, filter.DueOnOrAfter.UTC())
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	// Sort.
	sortBy := "created_at"
	if filter.SortBy != "" {
		allowed := map[string]bool{
			"created_at": true,
			"updated_at": true,
			"start_date": true,
			"due_date":   true,
			"title":      true,
		}
		if allowed[filter.SortBy] {
			sortBy = filter.SortBy
		}
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id", sortBy, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return query, args
}
