// Package status derives task, milestone and project statuses from
// dates and child statuses. Every function is pure.
package status

import (
	"time"

	"github.com/nhle/project-tracker/internal/model"
)

// DeriveTaskTimeStatus applies the date rules to a task. UPCOMING
// becomes IN_PROGRESS once the start date is reached, and any task that
// is still open past its due date becomes OVERDUE. COMPLETED, OVERDUE
// and IN_REVIEW are never changed by time.
//
// Both rules are applied in one call so the result is a fixed point.
func DeriveTaskTimeStatus(task model.Task, now time.Time) model.TaskStatus {
	s := task.Status
	if s == model.TaskUpcoming && task.StartDate != nil && !task.StartDate.After(now) {
		s = model.TaskInProgress
	}
	switch s {
	case model.TaskCompleted, model.TaskOverdue, model.TaskInReview:
		return s
	}
	if task.DueDate != nil && task.DueDate.Before(now) {
		return model.TaskOverdue
	}
	return s
}

// DeriveMilestoneStatus applies the date rules to a milestone and then
// lets its tasks override the result. Completed work is never reported
// as overdue. With no tasks only the date rules apply.
func DeriveMilestoneStatus(m model.Milestone, tasks []model.TaskStatus, now time.Time) model.MilestoneStatus {
	s := m.Status
	if s == model.MilestonePlanned && m.StartDate != nil && !m.StartDate.After(now) {
		s = model.MilestoneInProgress
	}
	if s != model.MilestoneCompleted && s != model.MilestoneOverdue &&
		m.EndDate != nil && m.EndDate.Before(now) {
		s = model.MilestoneOverdue
	}

	if len(tasks) == 0 {
		return s
	}
	switch {
	case allTasks(tasks, model.TaskCompleted):
		return model.MilestoneCompleted
	case anyTask(tasks, model.TaskInProgress):
		return model.MilestoneInProgress
	case anyTask(tasks, model.TaskOverdue):
		return model.MilestoneOverdue
	}
	return s
}

// DeriveProjectStatus rolls milestone statuses up into a project
// status. A project never regresses on its own: without a completion or
// activity signal it keeps its current status. Archived projects are
// frozen.
func DeriveProjectStatus(p model.Project, milestones []model.MilestoneStatus) model.ProjectStatus {
	if p.Status == model.ProjectArchived || len(milestones) == 0 {
		return p.Status
	}

	completed := 0
	for _, ms := range milestones {
		switch ms {
		case model.MilestoneCompleted:
			completed++
		case model.MilestoneInProgress:
			return model.ProjectActive
		}
	}
	if completed == len(milestones) {
		return model.ProjectCompleted
	}
	return p.Status
}

func allTasks(statuses []model.TaskStatus, want model.TaskStatus) bool {
	for _, s := range statuses {
		if s != want {
			return false
		}
	}
	return true
}

func anyTask(statuses []model.TaskStatus, want model.TaskStatus) bool {
	for _, s := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
