// Package notification persists notifications for their recipients and
// hands each new row to the push channel.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/store"
)

// Paging defaults.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Store is the subset of the record store used for notifications.
type Store interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	CreateNotificationsBulk(ctx context.Context, ns []model.Notification) ([]model.Notification, error)
	FindNotification(ctx context.Context, typ model.NotificationType, taskID, userID string) (*model.Notification, error)
	ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]model.Notification, error)
	CountNotifications(ctx context.Context, filter store.NotificationFilter) (int, error)
	CountNotificationsGrouped(ctx context.Context, userID string) ([]store.NotificationCount, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, userID, id string) error
}

// Deliverer pushes a stored notification to its recipient, if connected.
type Deliverer interface {
	SendToUser(userID string, n model.Notification) bool
}

// ListQuery selects one page of a user's notifications. Page is 1-based.
type ListQuery struct {
	Page       int
	Limit      int
	UnreadOnly bool
}

// Pagination describes the page returned by List.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// ListResult is one page of notifications, newest first.
type ListResult struct {
	Notifications []model.Notification `json:"notifications"`
	Pagination    Pagination           `json:"pagination"`
}

// Service is the notification store used by triggers and HTTP handlers.
type Service struct {
	store   Store
	deliver Deliverer
	logger  *slog.Logger
	stats   singleflight.Group
}

// NewService creates a Service. deliver may be nil, in which case
// notifications are only persisted.
func NewService(s Store, deliver Deliverer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   s,
		deliver: deliver,
		logger:  logger.With("component", "notification"),
	}
}

// Create persists n and then attempts real-time delivery. Delivery
// never affects the result: the stored row is the source of truth.
func (s *Service) Create(ctx context.Context, n *model.Notification) error {
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return err
	}
	s.push(*n)
	return nil
}

// CreateBulk persists ns in one batch, skipping rows whose dedup key is
// taken, and attempts delivery of every row written.
func (s *Service) CreateBulk(ctx context.Context, ns []model.Notification) ([]model.Notification, error) {
	created, err := s.store.CreateNotificationsBulk(ctx, ns)
	if err != nil {
		return nil, err
	}
	for _, n := range created {
		s.push(n)
	}
	return created, nil
}

func (s *Service) push(n model.Notification) {
	if s.deliver == nil {
		return
	}
	if s.deliver.SendToUser(n.UserID, n) {
		s.logger.Debug("notification pushed", "notification_id", n.ID, "user_id", n.UserID)
	}
}

// Exists reports whether a notification of type typ about taskID was
// already sent to userID.
func (s *Service) Exists(ctx context.Context, typ model.NotificationType, taskID, userID string) (bool, error) {
	_, err := s.store.FindNotification(ctx, typ, taskID, userID)
	if store.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns one page of userID's notifications.
func (s *Service) List(ctx context.Context, userID string, q ListQuery) (*ListResult, error) {
	if userID == "" {
		return nil, &store.ValidationError{Field: "user_id", Message: "user must not be empty"}
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Page < 1 {
		return nil, &store.ValidationError{Field: "page", Message: "page must be at least 1"}
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return nil, &store.ValidationError{
			Field:   "limit",
			Message: fmt.Sprintf("limit must be between 1 and %d", MaxLimit),
		}
	}

	filter := store.NotificationFilter{
		UserID:     userID,
		UnreadOnly: q.UnreadOnly,
		Limit:      q.Limit,
		Offset:     (q.Page - 1) * q.Limit,
	}
	total, err := s.store.CountNotifications(ctx, filter)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListNotifications(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.Notification{}
	}

	totalPages := (total + q.Limit - 1) / q.Limit
	return &ListResult{
		Notifications: items,
		Pagination: Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasMore:    q.Page < totalPages,
		},
	}, nil
}

// Stats aggregates userID's notifications from a grouped scan.
// Concurrent calls for the same user share one scan.
func (s *Service) Stats(ctx context.Context, userID string) (model.NotificationStats, error) {
	v, err, _ := s.stats.Do(userID, func() (any, error) {
		counts, err := s.store.CountNotificationsGrouped(ctx, userID)
		if err != nil {
			return nil, err
		}
		return aggregate(counts), nil
	})
	if err != nil {
		return model.NotificationStats{}, err
	}
	return v.(model.NotificationStats), nil
}

func aggregate(counts []store.NotificationCount) model.NotificationStats {
	stats := model.NotificationStats{ByType: make(map[model.NotificationType]int, len(model.NotificationTypes))}
	for _, t := range model.NotificationTypes {
		stats.ByType[t] = 0
	}
	for _, c := range counts {
		stats.Total += c.Count
		if c.IsRead {
			stats.Read += c.Count
		} else {
			stats.Unread += c.Count
		}
		stats.ByType[c.Type] += c.Count
	}
	return stats
}

// MarkRead marks one notification read. Marking an already-read row is
// a no-op; a row not owned by userID is reported as not found.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	_, err := s.store.MarkNotificationRead(ctx, userID, id)
	return err
}

// MarkAllRead marks every unread notification of userID read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// Delete removes one of userID's notifications.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.store.DeleteNotification(ctx, userID, id)
}
