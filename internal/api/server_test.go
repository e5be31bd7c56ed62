package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/project-tracker/internal/api"
	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/notification"
	tracksync "github.com/nhle/project-tracker/internal/sync"
	"github.com/nhle/project-tracker/tests/testutil"
)

type fixture struct {
	env     *testutil.Env
	handler http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	env := testutil.NewEnv(t)
	sched := tracksync.New(env.Cascade, env.Triggers, tracksync.Config{}, env.Logger)
	h := api.NewHandler(api.Config{
		Notifications: env.Notifications,
		Mutations:     env.Tracker,
		Streams:       env.Registry,
		Ticker:        sched,
		Token:         token,
		StreamBuffer:  8,
		Logger:        env.Logger,
	})
	return &fixture{env: env, handler: h.Routes()}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) notify(t *testing.T, userID string, typ model.NotificationType) *model.Notification {
	t.Helper()
	n := &model.Notification{Type: typ, Title: "t", Message: "m", UserID: userID}
	require.NoError(t, f.env.Notifications.Create(context.Background(), n))
	return n
}

func TestIdentityRequired(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerTokenGate(t *testing.T) {
	f := newFixture(t, "secret")

	rec := f.do(t, http.MethodGet, "/notifications", "alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set(api.UserHeader, "alice")
	req.Header.Set("Authorization", "Bearer secret")
	ok := httptest.NewRecorder()
	f.handler.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t, "")
	for range 3 {
		f.notify(t, "alice", model.NotificationTaskStarted)
	}
	f.notify(t, "bob", model.NotificationTaskStarted)

	rec := f.do(t, http.MethodGet, "/notifications?limit=2&page=2", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[notification.ListResult](t, rec)
	assert.Len(t, res.Notifications, 1)
	assert.Equal(t, notification.Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2, HasMore: false}, res.Pagination)

	rec = f.do(t, http.MethodGet, "/notifications?limit=500", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"limit"`)

	rec = f.do(t, http.MethodGet, "/notifications?unread=maybe", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationMutations(t *testing.T) {
	f := newFixture(t, "")
	n := f.notify(t, "alice", model.NotificationTaskOverdue)
	f.notify(t, "alice", model.NotificationTaskStarted)

	rec := f.do(t, http.MethodPatch, "/notifications/"+n.ID+"/read", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/notifications/"+n.ID+"/read", "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/notifications/stats", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[model.NotificationStats](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Unread)
	assert.Equal(t, 1, stats.ByType[model.NotificationTaskOverdue])

	rec = f.do(t, http.MethodPatch, "/notifications/read-all", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"updated": 1}, decodeBody[map[string]int](t, rec))

	rec = f.do(t, http.MethodDelete, "/notifications/"+n.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/notifications/"+n.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTaskStatusRoute(t *testing.T) {
	f := newFixture(t, "")
	p := testutil.MustProject(t, f.env.Store, "owner")
	m := testutil.MustMilestone(t, f.env.Store, p.ID, nil, nil)
	task := testutil.MustTask(t, f.env.Store, m.ID)

	rec := f.do(t, http.MethodPatch, "/tasks/"+task.ID+"/status", "owner", `{"status":"COMPLETED"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"entity":"project"`)

	rec = f.do(t, http.MethodPatch, "/tasks/"+task.ID+"/status", "owner", `{"status":"DONE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/tasks/missing/status", "owner", `{"status":"COMPLETED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/tasks/"+task.ID+"/status", "owner", `{"state":"COMPLETED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewRoutes(t *testing.T) {
	f := newFixture(t, "")
	p := testutil.MustProject(t, f.env.Store, "owner")
	m := testutil.MustMilestone(t, f.env.Store, p.ID, nil, nil)
	task := testutil.MustTask(t, f.env.Store, m.ID, testutil.WithStatus(model.TaskInProgress))

	rec := f.do(t, http.MethodPost, "/tasks/"+task.ID+"/reviews", "alice", `{"reviewer_id":"bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	review := decodeBody[model.TaskReview](t, rec)

	rec = f.do(t, http.MethodPost, "/reviews/"+review.ID+"/approve", "carol", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/reviews/"+review.ID+"/reject", "bob", `{"comment":"more tests"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.ReviewRejected, decodeBody[model.TaskReview](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/reviews/"+review.ID+"/approve", "bob", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMilestoneAndMemberRoutes(t *testing.T) {
	f := newFixture(t, "")
	p := testutil.MustProject(t, f.env.Store, "owner")
	m := testutil.MustMilestone(t, f.env.Store, p.ID, nil, nil)

	rec := f.do(t, http.MethodPatch, "/milestones/"+m.ID+"/dates", "owner",
		`{"start_date":"2020-01-01T00:00:00Z","end_date":"2020-02-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"OVERDUE"`)

	rec = f.do(t, http.MethodPatch, "/milestones/"+m.ID+"/dates", "owner",
		`{"start_date":"2020-03-01T00:00:00Z","end_date":"2020-02-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/projects/"+p.ID+"/members", "owner", `{"user_id":"alice","role":"MEMBER"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/notifications", "alice", "")
	res := decodeBody[notification.ListResult](t, rec)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, model.NotificationProjectMemberAdded, res.Notifications[0].Type)
}

func TestAdminTick(t *testing.T) {
	f := newFixture(t, "")
	p := testutil.MustProject(t, f.env.Store, "owner")
	m := testutil.MustMilestone(t, f.env.Store, p.ID, nil, nil)
	due := time.Now().Add(-48 * time.Hour)
	testutil.MustTask(t, f.env.Store, m.ID,
		testutil.WithStatus(model.TaskInProgress),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due))

	rec := f.do(t, http.MethodPost, "/admin/tick", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[tracksync.TickReport](t, rec)
	assert.Equal(t, 1, rep.Sweep.TasksUpdated)
	assert.Equal(t, 1, rep.Triggers.Overdue)

	rec = f.do(t, http.MethodGet, "/admin/scheduler", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)
}

// readEvent reads one server-sent event and returns its type and data.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamDeliversNotifications(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(api.UserHeader, "alice")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	event, _ := readEvent(t, body)
	require.Equal(t, model.PayloadConnection, event)
	assert.True(t, f.env.Registry.IsConnected("alice"))

	n := f.notify(t, "alice", model.NotificationTaskApproved)
	event, data := readEvent(t, body)
	assert.Equal(t, string(model.NotificationTaskApproved), event)
	var p model.Payload
	require.NoError(t, json.Unmarshal([]byte(data), &p))
	assert.Equal(t, n.ID, p.ID)

	rec := f.do(t, http.MethodGet, "/notifications/stream/stats", "admin", "")
	assert.Contains(t, rec.Body.String(), `"userIds":["alice"]`)

	rec = f.do(t, http.MethodDelete, "/notifications/stream", "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.env.Registry.IsConnected("alice"))

	// The server ends the response once the sink is closed.
	_, err = io.ReadAll(body)
	require.NoError(t, err)
}

func TestStreamClientDisconnectFreesSlot(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(api.UserHeader, "bob")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	event, _ := readEvent(t, bufio.NewReader(resp.Body))
	require.Equal(t, model.PayloadConnection, event)

	cancel()
	assert.Eventually(t, func() bool { return !f.env.Registry.IsConnected("bob") },
		2*time.Second, 10*time.Millisecond)
}
