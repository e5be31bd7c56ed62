package model

import "time"

// ReviewStatus is the outcome state of a task review.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewApproved ReviewStatus = "APPROVED"
	ReviewRejected ReviewStatus = "REJECTED"
)

// TaskReview is a request for a reviewer to sign off on a task.
type TaskReview struct {
	ID          string       `json:"id" db:"id"`
	TaskID      string       `json:"task_id" db:"task_id"`
	RequesterID string       `json:"requester_id" db:"requester_id"`
	ReviewerID  string       `json:"reviewer_id" db:"reviewer_id"`
	Status      ReviewStatus `json:"status" db:"status"`
	Comment     string       `json:"comment" db:"comment"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}
