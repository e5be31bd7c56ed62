package trigger

import (
	"fmt"
	"time"

	"github.com/nhle/project-tracker/internal/model"
)

const dateLayout = "2006-01-02"

// Each draft function decides whether an event is worth announcing and
// builds the notification. A nil result means nothing is sent.

func memberAddedDraft(project model.Project, member model.ProjectMember, actorID string) *model.Notification {
	if member.UserID == "" || member.UserID == actorID {
		return nil
	}
	return &model.Notification{
		Type:      model.NotificationProjectMemberAdded,
		Title:     "Added to project",
		Message:   fmt.Sprintf("You were added to %q as %s", project.Name, member.Role),
		UserID:    member.UserID,
		ProjectID: &project.ID,
		Metadata:  model.Metadata{"role": member.Role},
	}
}

func reviewRequestedDraft(task model.Task, projectID string, review model.TaskReview) *model.Notification {
	if review.ReviewerID == "" || review.ReviewerID == review.RequesterID {
		return nil
	}
	return &model.Notification{
		Type:         model.NotificationTaskReviewRequested,
		Title:        "Review requested",
		Message:      fmt.Sprintf("Your review was requested on %q", task.Title),
		UserID:       review.ReviewerID,
		ProjectID:    &projectID,
		TaskID:       &task.ID,
		TaskReviewID: &review.ID,
		Metadata:     model.Metadata{"reviewId": review.ID},
	}
}

func reviewOutcomeDraft(task model.Task, projectID string, review model.TaskReview) *model.Notification {
	if review.RequesterID == "" || review.RequesterID == review.ReviewerID {
		return nil
	}
	n := &model.Notification{
		UserID:       review.RequesterID,
		ProjectID:    &projectID,
		TaskID:       &task.ID,
		TaskReviewID: &review.ID,
		Metadata:     model.Metadata{"reviewId": review.ID},
	}
	if review.Comment != "" {
		n.Metadata["comment"] = review.Comment
	}
	switch review.Status {
	case model.ReviewApproved:
		n.Type = model.NotificationTaskApproved
		n.Title = "Task approved"
		n.Message = fmt.Sprintf("%q was approved", task.Title)
	case model.ReviewRejected:
		n.Type = model.NotificationTaskRejected
		n.Title = "Task rejected"
		n.Message = fmt.Sprintf("%q was sent back for changes", task.Title)
	default:
		return nil
	}
	return n
}

// startedDraft announces a started task to recipient.
func startedDraft(task model.Task, projectID, recipient string) *model.Notification {
	if recipient == "" {
		return nil
	}
	n := &model.Notification{
		Type:      model.NotificationTaskStarted,
		Title:     "Task started",
		Message:   fmt.Sprintf("%q is now in progress", task.Title),
		UserID:    recipient,
		ProjectID: &projectID,
		TaskID:    &task.ID,
	}
	if task.StartDate != nil {
		n.Metadata = model.Metadata{"startDate": task.StartDate.UTC().Format(time.RFC3339)}
	}
	return withDedup(n)
}

func overdueDraft(task model.Task, projectID string, now time.Time, loc *time.Location) *model.Notification {
	if !task.HasAssignee() || task.DueDate == nil || !task.DueDate.Before(now) {
		return nil
	}
	days := max(calendarDays(*task.DueDate, now, loc), 1)
	return withDedup(&model.Notification{
		Type:      model.NotificationTaskOverdue,
		Title:     "Task overdue",
		Message:   fmt.Sprintf("%q is %s overdue", task.Title, plural(days, "day")),
		UserID:    *task.AssigneeID,
		ProjectID: &projectID,
		TaskID:    &task.ID,
		Metadata: model.Metadata{
			"daysPastDue": days,
			"dueDate":     task.DueDate.In(loc).Format(dateLayout),
		},
	})
}

func dueReminderDraft(task model.Task, projectID string, now time.Time, loc *time.Location) *model.Notification {
	if !task.HasAssignee() || task.DueDate == nil || !task.DueDate.After(now) {
		return nil
	}
	days := calendarDays(now, *task.DueDate, loc)
	msg := fmt.Sprintf("%q is due in %s", task.Title, plural(days, "day"))
	if days == 0 {
		msg = fmt.Sprintf("%q is due today", task.Title)
	}
	return withDedup(&model.Notification{
		Type:      model.NotificationTaskDueReminder,
		Title:     "Task due soon",
		Message:   msg,
		UserID:    *task.AssigneeID,
		ProjectID: &projectID,
		TaskID:    &task.ID,
		Metadata: model.Metadata{
			"daysUntilDue": days,
			"dueDate":      task.DueDate.In(loc).Format(dateLayout),
		},
	})
}

func withDedup(n *model.Notification) *model.Notification {
	key := model.DedupKey(n.Type, *n.TaskID, n.UserID)
	n.DedupKey = &key
	return n
}

// startOfDay returns local midnight of t's calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// calendarDays counts calendar-day boundaries in loc between from and to.
func calendarDays(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
