package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/store"
	"github.com/nhle/project-tracker/tests/testutil"
)

func TestCreateProject_AddsOwnerAsMember(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	p := testutil.MustProject(t, s, "owner-1")
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.ProjectActive, p.Status)

	members, err := s.GetProjectMembers(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "owner-1", members[0].UserID)
	assert.Equal(t, model.RoleOwner, members[0].Role)
}

func TestCreateProject_Validation(t *testing.T) {
	s := testutil.NewTestStore(t)

	err := s.CreateProject(context.Background(), &model.Project{Name: " ", OwnerID: "u"})
	assert.True(t, store.IsValidation(err))

	err = s.CreateProject(context.Background(), &model.Project{Name: "p"})
	assert.True(t, store.IsValidation(err))
}

func TestGetTaskByID_NotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetTaskByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.False(t, store.IsStoreError(err))
}

func TestTaskRoundTripPreservesDatesAndAssignee(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	p := testutil.MustProject(t, s, "owner")
	m := testutil.MustMilestone(t, s, p.ID, nil, nil)
	start := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))
	due := testutil.Date(2026, 3, 10)
	task := testutil.MustTask(t, s, m.ID,
		testutil.WithAssignee("alice"),
		testutil.WithDates(&start, &due),
	)

	got, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskUpcoming, got.Status)
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(start))
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))
	require.True(t, got.HasAssignee())
	assert.Equal(t, "alice", *got.AssigneeID)
}

func TestCreateTask_RejectsDueBeforeStart(t *testing.T) {
	s := testutil.NewTestStore(t)
	p := testutil.MustProject(t, s, "owner")
	m := testutil.MustMilestone(t, s, p.ID, nil, nil)

	start := testutil.Date(2026, 3, 10)
	due := testutil.Date(2026, 3, 1)
	err := s.CreateTask(context.Background(), &model.Task{
		Title: "bad", MilestoneID: m.ID, StartDate: &start, DueDate: &due,
	})
	assert.True(t, store.IsValidation(err))
}

func TestFindTasks_Filters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	p := testutil.MustProject(t, s, "owner")
	m := testutil.MustMilestone(t, s, p.ID, nil, nil)

	d1 := testutil.Date(2026, 1, 1)
	d2 := testutil.Date(2026, 1, 5)
	d3 := testutil.Date(2026, 1, 9)
	testutil.MustTask(t, s, m.ID, testutil.WithDates(nil, &d1), testutil.WithAssignee("a"))
	testutil.MustTask(t, s, m.ID, testutil.WithDates(nil, &d2), testutil.WithStatus(model.TaskCompleted))
	testutil.MustTask(t, s, m.ID, testutil.WithDates(nil, &d3), testutil.WithStatus(model.TaskInReview))

	tasks, err := s.FindTasks(ctx, store.TaskFilter{
		ExcludeStatuses: []model.TaskStatus{model.TaskCompleted, model.TaskInReview},
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].DueDate.Equal(d1))

	tasks, err = s.FindTasks(ctx, store.TaskFilter{DueBefore: &d3})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = s.FindTasks(ctx, store.TaskFilter{HasAssignee: true})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = s.FindTasks(ctx, store.TaskFilter{SortBy: "due_date", SortDesc: true, Offset: 1})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.True(t, tasks[0].DueDate.Equal(d2))
}

func TestMilestoneWithTasks(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	p := testutil.MustProject(t, s, "owner")
	m := testutil.MustMilestone(t, s, p.ID, nil, nil)
	other := testutil.MustMilestone(t, s, p.ID, nil, nil)
	testutil.MustTask(t, s, m.ID)
	testutil.MustTask(t, s, m.ID, testutil.WithStatus(model.TaskCompleted))
	testutil.MustTask(t, s, other.ID)

	got, err := s.GetMilestoneWithTasks(ctx, m.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]model.TaskStatus{model.TaskUpcoming, model.TaskCompleted},
		got.TaskStatuses())

	all, err := s.ListMilestonesWithTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	proj, err := s.GetProjectWithMilestones(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, proj.Milestones, 2)
}

func TestUpdateStatus_NotFound(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	assert.True(t, store.IsNotFound(s.UpdateTaskStatus(ctx, "nope", model.TaskCompleted)))
	assert.True(t, store.IsNotFound(s.UpdateMilestoneStatus(ctx, "nope", model.MilestoneCompleted)))
	assert.True(t, store.IsNotFound(s.UpdateProjectStatus(ctx, "nope", model.ProjectCompleted)))
	assert.True(t, store.IsValidation(s.UpdateTaskStatus(ctx, "nope", "DONE")))
}

func TestReviewLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	p := testutil.MustProject(t, s, "owner")
	m := testutil.MustMilestone(t, s, p.ID, nil, nil)
	task := testutil.MustTask(t, s, m.ID)

	review := &model.TaskReview{TaskID: task.ID, RequesterID: "alice", ReviewerID: "bob"}
	require.NoError(t, s.CreateTaskReview(ctx, review))
	assert.Equal(t, model.ReviewPending, review.Status)

	review.Status = model.ReviewApproved
	review.Comment = "lgtm"
	require.NoError(t, s.UpdateTaskReview(ctx, *review))

	got, err := s.GetTaskReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, got.Status)
	assert.Equal(t, "lgtm", got.Comment)
}
