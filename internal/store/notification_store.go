package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/project-tracker/internal/model"
)

const notificationColumns = `id, type, title, message, user_id, is_read,
	project_id, task_id, task_review_id, metadata, dedup_key, created_at, updated_at`

const insertNotificationSQL = `
	INSERT INTO notifications (` + notificationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(dedup_key) DO NOTHING`

// prepareNotification validates n and fills in its ID and timestamps.
func prepareNotification(n *model.Notification) error {
	if !n.Type.Valid() {
		return invalid("type", fmt.Sprintf("unknown notification type %q", n.Type))
	}
	if n.UserID == "" {
		return invalid("user_id", "notification recipient must not be empty")
	}
	if strings.TrimSpace(n.Title) == "" {
		return invalid("title", "notification title must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.CreatedAt
	return nil
}

func insertNotification(ctx context.Context, exec sqlx.ExecerContext, n *model.Notification) error {
	meta, err := n.Metadata.Value()
	if err != nil {
		return invalid("metadata", err.Error())
	}

	result, err := exec.ExecContext(ctx, insertNotificationSQL,
		n.ID, string(n.Type), n.Title, n.Message, n.UserID, boolToInt(n.IsRead),
		n.ProjectID, n.TaskID, n.TaskReviewID, meta, n.DedupKey,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating notification for %s: %w", n.UserID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		key := n.ID
		if n.DedupKey != nil {
			key = *n.DedupKey
		}
		return &ConflictError{Entity: "notification", Key: key}
	}
	return nil
}

// CreateNotification inserts a single notification. A notification
// whose dedup key is already taken is rejected with a ConflictError.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := prepareNotification(n); err != nil {
		return err
	}
	return insertNotification(ctx, s.db, n)
}

// CreateNotificationsBulk inserts notifications in one transaction and
// returns the rows actually written. Entries whose dedup key already
// exists are skipped. Any validation failure aborts the whole batch.
func (s *SQLiteStore) CreateNotificationsBulk(
	ctx context.Context,
	ns []model.Notification,
) ([]model.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	for i := range ns {
		if err := prepareNotification(&ns[i]); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning notification batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	created := make([]model.Notification, 0, len(ns))
	for i := range ns {
		err := insertNotification(ctx, tx, &ns[i])
		if IsConflict(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = append(created, ns[i])
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing notification batch: %w", err)
	}
	return created, nil
}

// FindNotification returns the notification of the given type about
// taskID addressed to userID, if any.
func (s *SQLiteStore) FindNotification(
	ctx context.Context,
	typ model.NotificationType,
	taskID, userID string,
) (*model.Notification, error) {
	var n model.Notification
	err := s.db.GetContext(ctx, &n, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE type = ? AND task_id = ? AND user_id = ?
		ORDER BY created_at LIMIT 1`,
		string(typ), taskID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("notification", model.DedupKey(typ, taskID, userID))
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s notification for task %s: %w", typ, taskID, err)
	}
	return &n, nil
}

// GetNotification retrieves a notification owned by userID.
func (s *SQLiteStore) GetNotification(
	ctx context.Context,
	userID, id string,
) (*model.Notification, error) {
	var n model.Notification
	err := s.db.GetContext(ctx, &n,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ? AND user_id = ?",
		id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("notification", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return &n, nil
}

func notificationWhere(filter NotificationFilter) (string, []interface{}) {
	where := " WHERE user_id = ?"
	args := []interface{}{filter.UserID}
	if filter.UnreadOnly {
		where += " AND is_read = 0"
	}
	return where, args
}

// ListNotifications returns a user's notifications, newest first.
func (s *SQLiteStore) ListNotifications(
	ctx context.Context,
	filter NotificationFilter,
) ([]model.Notification, error) {
	if filter.UserID == "" {
		return nil, invalid("user_id", "user must not be empty")
	}
	where, args := notificationWhere(filter)
	query := "SELECT " + notificationColumns + " FROM notifications" + where +
		" ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var ns []model.Notification
	if err := s.db.SelectContext(ctx, &ns, query, args...); err != nil {
		return nil, fmt.Errorf("querying notifications for %s: %w", filter.UserID, err)
	}
	return ns, nil
}

// CountNotifications counts a user's notifications matching the filter.
// Limit and Offset are ignored.
func (s *SQLiteStore) CountNotifications(ctx context.Context, filter NotificationFilter) (int, error) {
	if filter.UserID == "" {
		return 0, invalid("user_id", "user must not be empty")
	}
	where, args := notificationWhere(filter)
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications"+where, args...); err != nil {
		return 0, fmt.Errorf("counting notifications for %s: %w", filter.UserID, err)
	}
	return count, nil
}

// CountNotificationsGrouped counts a user's notifications grouped by
// type and read state.
func (s *SQLiteStore) CountNotificationsGrouped(
	ctx context.Context,
	userID string,
) ([]NotificationCount, error) {
	var counts []NotificationCount
	err := s.db.SelectContext(ctx, &counts, `
		SELECT type, is_read, COUNT(*) AS count
		FROM notifications
		WHERE user_id = ?
		GROUP BY type, is_read
		ORDER BY type, is_read`, userID)
	if err != nil {
		return nil, fmt.Errorf("counting notifications by type for %s: %w", userID, err)
	}
	return counts, nil
}

// MarkNotificationRead marks one of userID's notifications as read. It
// reports whether the row changed; an already-read row is left as is.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_read = 0`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return false, fmt.Errorf("marking notification %s read: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	// Nothing changed: either already read or not visible to userID.
	if _, err := s.GetNotification(ctx, userID, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkAllNotificationsRead marks every unread notification of userID as
// read and returns how many rows changed.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, updated_at = ?
		WHERE user_id = ? AND is_read = 0`,
		time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications of %s read: %w", userID, err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// DeleteNotification removes one of userID's notifications.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return notFound("notification", id)
	}
	return nil
}
