package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

const (
	NotificationProjectMemberAdded  NotificationType = "PROJECT_MEMBER_ADDED"
	NotificationTaskApproved        NotificationType = "TASK_APPROVED"
	NotificationTaskRejected        NotificationType = "TASK_REJECTED"
	NotificationTaskReviewRequested NotificationType = "TASK_REVIEW_REQUESTED"
	NotificationTaskStarted         NotificationType = "TASK_STARTED"
	NotificationTaskOverdue         NotificationType = "TASK_OVERDUE"
	NotificationTaskDueReminder     NotificationType = "TASK_DUE_REMINDER"
)

// NotificationTypes lists every notification type in a stable order.
var NotificationTypes = []NotificationType{
	NotificationProjectMemberAdded,
	NotificationTaskApproved,
	NotificationTaskRejected,
	NotificationTaskReviewRequested,
	NotificationTaskStarted,
	NotificationTaskOverdue,
	NotificationTaskDueReminder,
}

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata is an opaque key/value map attached to a notification.
// It is stored as a JSON document.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Int returns the integer value stored under key. JSON numbers decode
// as float64, so both representations are accepted.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Notification is a durable message addressed to a single user.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id" db:"id"`

	// Type is the notification kind.
	Type NotificationType `json:"type" db:"type"`

	Title   string `json:"title" db:"title"`
	Message string `json:"message" db:"message"`

	// UserID is the single recipient.
	UserID string `json:"user_id" db:"user_id"`

	// IsRead indicates whether the recipient has seen this notification.
	IsRead bool `json:"is_read" db:"is_read"`

	// Weak references to what caused the notification.
	ProjectID    *string `json:"project_id,omitempty" db:"project_id"`
	TaskID       *string `json:"task_id,omitempty" db:"task_id"`
	TaskReviewID *string `json:"task_review_id,omitempty" db:"task_review_id"`

	Metadata Metadata `json:"metadata,omitempty" db:"metadata"`

	// DedupKey is set by automated triggers only. At most one row
	// exists per key.
	DedupKey *string `json:"-" db:"dedup_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DedupKey builds the uniqueness key for automated notifications about
// a task addressed to a user.
func DedupKey(t NotificationType, taskID, userID string) string {
	return string(t) + ":" + taskID + ":" + userID
}

// NotificationStats aggregates a user's notifications.
type NotificationStats struct {
	Total  int                      `json:"total"`
	Unread int                      `json:"unread"`
	Read   int                      `json:"read"`
	ByType map[NotificationType]int `json:"by_type"`
}
