package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/project-tracker/internal/model"
)

const reviewColumns = `id, task_id, requester_id, reviewer_id, status, comment, created_at, updated_at`

// CreateTaskReview inserts a pending review request for a task.
func (s *SQLiteStore) CreateTaskReview(ctx context.Context, review *model.TaskReview) error {
	if review.TaskID == "" || review.RequesterID == "" || review.ReviewerID == "" {
		return invalid("review", "task, requester and reviewer must not be empty")
	}
	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	if review.Status == "" {
		review.Status = model.ReviewPending
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_reviews (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.TaskID, review.RequesterID, review.ReviewerID,
		string(review.Status), review.Comment, review.CreatedAt, review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating review for task %s: %w", review.TaskID, err)
	}
	return nil
}

// GetTaskReview retrieves a review by ID.
func (s *SQLiteStore) GetTaskReview(ctx context.Context, id string) (*model.TaskReview, error) {
	var review model.TaskReview
	err := s.db.GetContext(ctx, &review,
		"SELECT "+reviewColumns+" FROM task_reviews WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("review", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting review %s: %w", id, err)
	}
	return &review, nil
}

// UpdateTaskReview records the outcome of a review.
func (s *SQLiteStore) UpdateTaskReview(ctx context.Context, review model.TaskReview) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE task_reviews SET status = ?, comment = ?, updated_at = ?
		WHERE id = ?`,
		string(review.Status), review.Comment, time.Now().UTC(), review.ID,
	)
	if err != nil {
		return fmt.Errorf("updating review %s: %w", review.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("review", review.ID)
	}
	return nil
}
