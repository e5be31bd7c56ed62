package trigger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/project-tracker/internal/cascade"
	"github.com/nhle/project-tracker/internal/model"
	"github.com/nhle/project-tracker/internal/notification"
	"github.com/nhle/project-tracker/internal/store"
	"github.com/nhle/project-tracker/internal/trigger"
	"github.com/nhle/project-tracker/tests/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	store  *store.SQLiteStore
	svc    *notification.Service
	engine *trigger.Engine
	m      *model.Milestone
	p      *model.Project
}

func newFixture(t *testing.T, cfg trigger.Config) *fixture {
	t.Helper()
	s := testutil.NewTestStore(t)
	svc := notification.NewService(s, nil, discard)
	p := testutil.MustProject(t, s, "owner")
	m := testutil.MustMilestone(t, s, p.ID, nil, nil)
	return &fixture{
		store:  s,
		svc:    svc,
		engine: trigger.New(s, svc, cfg, discard),
		m:      m,
		p:      p,
	}
}

func (f *fixture) count(t *testing.T, userID string, typ model.NotificationType) int {
	t.Helper()
	counts, err := f.store.CountNotificationsGrouped(context.Background(), userID)
	require.NoError(t, err)
	total := 0
	for _, c := range counts {
		if c.Type == typ {
			total += c.Count
		}
	}
	return total
}

func TestRunBatch_OverdueCarriesDaysPastDue(t *testing.T) {
	f := newFixture(t, trigger.Config{DueSoonDays: 3})
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)
	task := testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskOverdue),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	rep := f.engine.RunBatch(ctx, now)
	assert.Equal(t, 1, rep.Overdue)
	assert.Zero(t, rep.Errors)

	n, err := f.store.FindNotification(ctx, model.NotificationTaskOverdue, task.ID, "alice")
	require.NoError(t, err)
	days, ok := n.Metadata.Int("daysPastDue")
	require.True(t, ok)
	assert.Equal(t, 1, days)
	assert.Equal(t, "2026-06-14", n.Metadata["dueDate"])
	require.NotNil(t, n.ProjectID)
	assert.Equal(t, f.p.ID, *n.ProjectID)
}

func TestRunBatch_UniquenessAcrossRuns(t *testing.T) {
	f := newFixture(t, trigger.Config{DueSoonDays: 3})
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -2)
	task := testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskOverdue),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	first := f.engine.RunBatch(ctx, now)
	second := f.engine.RunBatch(ctx, now.Add(time.Hour))
	third := f.engine.RunBatch(ctx, now.AddDate(0, 0, 1))

	assert.Equal(t, 1, first.Overdue)
	assert.Zero(t, second.Created())
	assert.Zero(t, third.Created())
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, third.Skipped)
	assert.Equal(t, 1, f.count(t, "alice", model.NotificationTaskOverdue))

	_, err := f.store.FindNotification(ctx, model.NotificationTaskOverdue, task.ID, "alice")
	require.NoError(t, err)
}

func TestRunBatch_InReviewIsNotOverdue(t *testing.T) {
	f := newFixture(t, trigger.Config{DueSoonDays: 3})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)
	soon := now.AddDate(0, 0, 1)
	testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskInReview),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)
	testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskInReview),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &soon),
	)
	testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskCompleted),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	rep := f.engine.RunBatch(context.Background(), now)
	assert.Zero(t, rep.Created())
}

func TestRunBatch_UnassignedTasksAreIgnored(t *testing.T) {
	f := newFixture(t, trigger.Config{DueSoonDays: 3})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)
	testutil.MustTask(t, f.store, f.m.ID, testutil.WithStatus(model.TaskOverdue), testutil.WithDates(nil, &due))

	rep := f.engine.RunBatch(context.Background(), now)
	assert.Zero(t, rep.Created())
}

func TestCheckDueSoon_CalendarDayBoundary(t *testing.T) {
	// Due on D = June 20 at 23:59 with a 3 day lookahead.
	due := time.Date(2026, 6, 20, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"D-4 late evening", time.Date(2026, 6, 16, 23, 30, 0, 0, time.UTC), 0},
		{"D-3 just after midnight", time.Date(2026, 6, 17, 0, 0, 1, 0, time.UTC), 1},
		{"D-3 afternoon", time.Date(2026, 6, 17, 15, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, trigger.Config{DueSoonDays: 3})
			task := testutil.MustTask(t, f.store, f.m.ID,
				testutil.WithStatus(model.TaskInProgress),
				testutil.WithAssignee("alice"),
				testutil.WithDates(nil, &due),
			)

			rep := f.engine.CheckDueSoon(context.Background(), tt.now)
			assert.Equal(t, tt.want, rep.DueSoon)
			assert.Equal(t, tt.want, f.count(t, "alice", model.NotificationTaskDueReminder))

			if tt.want == 1 {
				n, err := f.store.FindNotification(context.Background(), model.NotificationTaskDueReminder, task.ID, "alice")
				require.NoError(t, err)
				days, ok := n.Metadata.Int("daysUntilDue")
				require.True(t, ok)
				assert.Equal(t, 3, days)
			}
		})
	}
}

func TestCheckDueSoon_UsesConfiguredTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	f := newFixture(t, trigger.Config{DueSoonDays: 1, Location: loc})
	// Due June 18 09:00 local. At June 16 20:00 local it is two
	// calendar days away; at June 17 00:30 local it is one.
	due := time.Date(2026, 6, 18, 9, 0, 0, 0, loc)
	testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskInProgress),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	rep := f.engine.CheckDueSoon(context.Background(), time.Date(2026, 6, 16, 20, 0, 0, 0, loc))
	assert.Zero(t, rep.DueSoon)
	rep = f.engine.CheckDueSoon(context.Background(), time.Date(2026, 6, 17, 0, 30, 0, 0, loc))
	assert.Equal(t, 1, rep.DueSoon)
}

func TestSetDueSoonDays_WidensWindow(t *testing.T) {
	f := newFixture(t, trigger.Config{DueSoonDays: 1})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, 5)
	testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	assert.Zero(t, f.engine.CheckDueSoon(context.Background(), now).DueSoon)
	f.engine.SetDueSoonDays(7)
	assert.Equal(t, 7, f.engine.DueSoonDays())
	assert.Equal(t, 1, f.engine.CheckDueSoon(context.Background(), now).DueSoon)

	f.engine.SetDueSoonDays(-1)
	assert.Equal(t, 7, f.engine.DueSoonDays())
}

func TestCheckStarted_LookbackWindow(t *testing.T) {
	f := newFixture(t, trigger.Config{StartedLookback: 24 * time.Hour})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)
	old := now.AddDate(0, 0, -3)
	fresh := testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskInProgress),
		testutil.WithAssignee("alice"),
		testutil.WithDates(&recent, nil),
	)
	testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskInProgress),
		testutil.WithAssignee("alice"),
		testutil.WithDates(&old, nil),
	)

	rep := f.engine.CheckStarted(context.Background(), now)
	assert.Equal(t, 1, rep.Started)

	_, err := f.store.FindNotification(context.Background(), model.NotificationTaskStarted, fresh.ID, "alice")
	require.NoError(t, err)
}

// staleNotifier answers every existence check with "not found", the
// state two overlapping writers both observe before either commits.
type staleNotifier struct {
	*notification.Service
}

func (staleNotifier) Exists(context.Context, model.NotificationType, string, string) (bool, error) {
	return false, nil
}

func TestKnownRace_StaleCheckIsCaughtByUniqueKey(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, -1)
	task := testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskOverdue),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	// Both writers pass the check before either writes.
	exists, err := f.svc.Exists(ctx, model.NotificationTaskOverdue, task.ID, "alice")
	require.NoError(t, err)
	require.False(t, exists)
	exists, err = f.svc.Exists(ctx, model.NotificationTaskOverdue, task.ID, "alice")
	require.NoError(t, err)
	require.False(t, exists)

	key := model.DedupKey(model.NotificationTaskOverdue, task.ID, "alice")
	first := &model.Notification{Type: model.NotificationTaskOverdue, Title: "a", UserID: "alice", TaskID: &task.ID, DedupKey: &key}
	second := &model.Notification{Type: model.NotificationTaskOverdue, Title: "b", UserID: "alice", TaskID: &task.ID, DedupKey: &key}
	require.NoError(t, f.svc.Create(ctx, first))
	err = f.svc.Create(ctx, second)
	assert.True(t, store.IsConflict(err))

	// The engine with a stale check swallows the conflict.
	racy := trigger.New(f.store, staleNotifier{f.svc}, trigger.Config{}, discard)
	rep := racy.CheckOverdue(ctx, now)
	assert.Zero(t, rep.Overdue)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Errors)

	assert.Equal(t, 1, f.count(t, "alice", model.NotificationTaskOverdue))
}

func TestMemberAdded(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()

	require.NoError(t, f.engine.MemberAdded(ctx, *f.p, model.ProjectMember{ProjectID: f.p.ID, UserID: "bob", Role: model.RoleMember}, "owner"))
	require.NoError(t, f.engine.MemberAdded(ctx, *f.p, model.ProjectMember{ProjectID: f.p.ID, UserID: "owner", Role: model.RoleAdmin}, "owner"))

	assert.Equal(t, 1, f.count(t, "bob", model.NotificationProjectMemberAdded))
	assert.Zero(t, f.count(t, "owner", model.NotificationProjectMemberAdded))

	page, err := f.svc.List(ctx, "bob", notification.ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, model.RoleMember, page.Notifications[0].Metadata["role"])
}

func TestReviewNotifications(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()
	task := testutil.MustTask(t, f.store, f.m.ID, testutil.WithAssignee("alice"))
	review := model.TaskReview{ID: "r1", TaskID: task.ID, RequesterID: "alice", ReviewerID: "bob", Status: model.ReviewPending}

	require.NoError(t, f.engine.ReviewRequested(ctx, *task, review))
	assert.Equal(t, 1, f.count(t, "bob", model.NotificationTaskReviewRequested))

	review.Status = model.ReviewRejected
	review.Comment = "needs tests"
	require.NoError(t, f.engine.ReviewDecided(ctx, *task, review))
	review.Status = model.ReviewApproved
	review.Comment = ""
	require.NoError(t, f.engine.ReviewDecided(ctx, *task, review))

	assert.Equal(t, 1, f.count(t, "alice", model.NotificationTaskRejected))
	assert.Equal(t, 1, f.count(t, "alice", model.NotificationTaskApproved))

	rejected, err := f.store.FindNotification(ctx, model.NotificationTaskRejected, task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "needs tests", rejected.Metadata["comment"])
	require.NotNil(t, rejected.TaskReviewID)
	assert.Equal(t, "r1", *rejected.TaskReviewID)
}

func TestTaskStartedBy_NotifiesOwnerOnce(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	ctx := context.Background()
	task := testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskInProgress),
		testutil.WithAssignee("alice"),
	)

	require.NoError(t, f.engine.TaskStartedBy(ctx, *task, "bob"))
	assert.Zero(t, f.count(t, "owner", model.NotificationTaskStarted))

	require.NoError(t, f.engine.TaskStartedBy(ctx, *task, "alice"))
	require.NoError(t, f.engine.TaskStartedBy(ctx, *task, "alice"))
	assert.Equal(t, 1, f.count(t, "owner", model.NotificationTaskStarted))
}

func TestTaskTransitioned_AnnouncesOverdueOnce(t *testing.T) {
	f := newFixture(t, trigger.Config{})
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	engine := trigger.New(f.store, f.svc, trigger.Config{}, discard,
		trigger.WithClock(func() time.Time { return now }))
	due := now.AddDate(0, 0, -3)
	task := testutil.MustTask(t, f.store, f.m.ID,
		testutil.WithStatus(model.TaskOverdue),
		testutil.WithAssignee("alice"),
		testutil.WithDates(nil, &due),
	)

	tr := cascade.TaskTransition{Task: *task, From: model.TaskInProgress}
	engine.TaskTransitioned(context.Background(), tr)
	engine.TaskTransitioned(context.Background(), tr)

	assert.Equal(t, 1, f.count(t, "alice", model.NotificationTaskOverdue))
	n, err := f.store.FindNotification(context.Background(), model.NotificationTaskOverdue, task.ID, "alice")
	require.NoError(t, err)
	days, _ := n.Metadata.Int("daysPastDue")
	assert.Equal(t, 3, days)
}
