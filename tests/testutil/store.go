package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MustProject creates an active project owned by ownerID.
func MustProject(t *testing.T, s store.Store, ownerID string) *model.Project {
	t.Helper()
	p := &model.Project{Name: "Project " + ownerID, OwnerID: ownerID}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

// MustMilestone creates a milestone in projectID spanning start to end.
// Either bound may be nil.
func MustMilestone(t *testing.T, s store.Store, projectID string, start, end *time.Time) *model.Milestone {
	t.Helper()
	m := &model.Milestone{
		Title:     "Milestone",
		ProjectID: projectID,
		StartDate: start,
		EndDate:   end,
	}
	require.NoError(t, s.CreateMilestone(context.Background(), m))
	return m
}

// MustTask creates a task in milestoneID. opts customize the task
// before it is inserted.
func MustTask(t *testing.T, s store.Store, milestoneID string, opts ...func(*model.Task)) *model.Task {
	t.Helper()
	task := &model.Task{Title: "Task", MilestoneID: milestoneID}
	for _, opt := range opts {
		opt(task)
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

// WithStatus sets the task status.
func WithStatus(status model.TaskStatus) func(*model.Task) {
	return func(t *model.Task) { t.Status = status }
}

// WithAssignee sets the task assignee.
func WithAssignee(userID string) func(*model.Task) {
	return func(t *model.Task) { t.AssigneeID = &userID }
}

// WithDates sets the task start and due dates. Either may be nil.
func WithDates(start, due *time.Time) func(*model.Task) {
	return func(t *model.Task) {
		t.StartDate = start
		t.DueDate = due
	}
}
