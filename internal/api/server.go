// Package api exposes notifications, mutations and scheduler controls
// over HTTP. Authentication happens upstream; the caller's identity
// arrives in the X-User-ID header.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/notification"
	"github.com/nhle/project-tracker/internal/store"
	"github.com/nhle/project-tracker/internal/stream"
	tracksync "github.com/nhle/project-tracker/internal/sync"
	"github.com/nhle/project-tracker/internal/tracker"
)

// UserHeader carries the authenticated caller's ID.
const UserHeader = "X-User-ID"

// Notifications is the notification store as seen by handlers.
type Notifications interface {
	List(ctx context.Context, userID string, q notification.ListQuery) (*notification.ListResult, error)
	Stats(ctx context.Context, userID string) (model.NotificationStats, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID, id string) error
}

// Mutations applies tracker writes on behalf of a caller.
type Mutations interface {
	UpdateTaskStatus(ctx context.Context, actorID, taskID string, status model.TaskStatus) (*tracker.TaskUpdate, error)
	UpdateMilestoneDates(ctx context.Context, milestoneID string, start, end *time.Time) (*tracker.MilestoneUpdate, error)
	AddProjectMember(ctx context.Context, actorID, projectID, userID, role string) (*model.ProjectMember, error)
	RequestReview(ctx context.Context, actorID, taskID, reviewerID string) (*model.TaskReview, error)
	ApproveReview(ctx context.Context, actorID, reviewID, comment string) (*model.TaskReview, error)
	RejectReview(ctx context.Context, actorID, reviewID, comment string) (*model.TaskReview, error)
}

// Streams holds the live push channels.
type Streams interface {
	Connect(userID string, sink stream.Sink)
	Disconnect(userID string, sink stream.Sink)
	Close(userID string)
	Stats() stream.Stats
}

// Ticker runs and reports scheduler ticks.
type Ticker interface {
	RunTick(ctx context.Context, now time.Time) (tracksync.TickReport, error)
	Status() tracksync.Status
}

// Config holds the handler dependencies.
type Config struct {
	Notifications Notifications
	Mutations     Mutations
	Streams       Streams
	Ticker        Ticker

	// Token, when set, must be presented as a bearer token on every
	// request except the health check.
	Token string

	// StreamBuffer is the number of undelivered payloads a stream may
	// hold before it is treated as dead.
	StreamBuffer int

	Logger *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	notifications Notifications
	mutations     Mutations
	streams       Streams
	ticker        Ticker
	token         string
	streamBuffer  int
	logger        *slog.Logger
	now           func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 32
	}
	return &Handler{
		notifications: cfg.Notifications,
		mutations:     cfg.Mutations,
		streams:       cfg.Streams,
		ticker:        cfg.Ticker,
		token:         cfg.Token,
		streamBuffer:  cfg.StreamBuffer,
		logger:        logger.With("component", "api"),
		now:           time.Now,
	}
}

// Routes returns the API mux wrapped in the identity gate.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /notifications", h.HandleListNotifications)
	mux.HandleFunc("GET /notifications/stats", h.HandleNotificationStats)
	mux.HandleFunc("PATCH /notifications/read-all", h.HandleMarkAllRead)
	mux.HandleFunc("PATCH /notifications/{id}/read", h.HandleMarkRead)
	mux.HandleFunc("DELETE /notifications/{id}", h.HandleDeleteNotification)
	mux.HandleFunc("GET /notifications/stream", h.HandleStream)
	mux.HandleFunc("DELETE /notifications/stream", h.HandleCloseStream)
	mux.HandleFunc("GET /notifications/stream/stats", h.HandleStreamStats)

	mux.HandleFunc("PATCH /tasks/{id}/status", h.HandleUpdateTaskStatus)
	mux.HandleFunc("POST /tasks/{id}/reviews", h.HandleRequestReview)
	mux.HandleFunc("POST /reviews/{id}/approve", h.HandleApproveReview)
	mux.HandleFunc("POST /reviews/{id}/reject", h.HandleRejectReview)
	mux.HandleFunc("PATCH /milestones/{id}/dates", h.HandleUpdateMilestoneDates)
	mux.HandleFunc("POST /projects/{id}/members", h.HandleAddProjectMember)

	mux.HandleFunc("POST /admin/tick", h.HandleTick)
	mux.HandleFunc("GET /admin/scheduler", h.HandleSchedulerStatus)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", h.HandleHealth)
	root.Handle("/", h.authenticate(mux))
	return root
}

type ctxKey struct{}

// authenticate checks the bearer token, when configured, and requires a
// caller identity.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				h.sendError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			h.sendError(w, http.StatusUnauthorized, "%s header is required", UserHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

// userID returns the caller identity set by authenticate.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	h.writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// sendStoreError maps the store error taxonomy onto status codes.
func (h *Handler) sendStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case store.IsNotFound(err):
		h.sendError(w, http.StatusNotFound, "%v", err)
	case store.IsConflict(err), errors.Is(err, tracksync.ErrTickInProgress):
		h.sendError(w, http.StatusConflict, "%v", err)
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON encodes value as JSON with the given status. Encoding
// failures are logged; the client is usually gone by then.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		h.logger.Warn("writing JSON response", "error", err, "status", status)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}
