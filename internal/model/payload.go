package model

import "time"

// Transport-level payload types. They never correspond to a stored row.
const (
	PayloadPing       = "ping"
	PayloadConnection = "connection"
)

// Payload is a single message pushed to a connected client.
type Payload struct {
	ID           string    `json:"id,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title,omitempty"`
	Message      string    `json:"message,omitempty"`
	IsRead       bool      `json:"isRead"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	ProjectID    *string   `json:"projectId,omitempty"`
	TaskID       *string   `json:"taskId,omitempty"`
	TaskReviewID *string   `json:"taskReviewId,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewNotificationPayload converts a stored notification into a push payload.
func NewNotificationPayload(n Notification, now time.Time) Payload {
	return Payload{
		ID:           n.ID,
		Type:         string(n.Type),
		Title:        n.Title,
		Message:      n.Message,
		IsRead:       n.IsRead,
		CreatedAt:    n.CreatedAt,
		ProjectID:    n.ProjectID,
		TaskID:       n.TaskID,
		TaskReviewID: n.TaskReviewID,
		Metadata:     n.Metadata,
		Timestamp:    now,
	}
}

// NewPingPayload builds the keep-alive payload.
func NewPingPayload(now time.Time) Payload {
	return Payload{Type: PayloadPing, Timestamp: now}
}

// NewConnectionPayload builds the handshake payload sent when a stream opens.
func NewConnectionPayload(userID string, now time.Time) Payload {
	return Payload{
		Type:      PayloadConnection,
		Message:   "connected",
		Metadata:  Metadata{"userId": userID},
		Timestamp: now,
	}
}
