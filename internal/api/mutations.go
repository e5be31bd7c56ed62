package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nhle/project-tracker/internal/model"
)

type taskStatusRequest struct {
	Status model.TaskStatus `json:"status"`
}

// HandleUpdateTaskStatus sets a task's status and cascades.
func (h *Handler) HandleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req taskStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.mutations.UpdateTaskStatus(r.Context(), userID(r), r.PathValue("id"), req.Status)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type milestoneDatesRequest struct {
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// HandleUpdateMilestoneDates reschedules a milestone. A null date clears it.
func (h *Handler) HandleUpdateMilestoneDates(w http.ResponseWriter, r *http.Request) {
	var req milestoneDatesRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.mutations.UpdateMilestoneDates(r.Context(), r.PathValue("id"), req.StartDate, req.EndDate)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type memberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// HandleAddProjectMember adds a member to a project.
func (h *Handler) HandleAddProjectMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.mutations.AddProjectMember(r.Context(), userID(r), r.PathValue("id"), req.UserID, req.Role)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, member)
}

type reviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

// HandleRequestReview puts a task into review.
func (h *Handler) HandleRequestReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	review, err := h.mutations.RequestReview(r.Context(), userID(r), r.PathValue("id"), req.ReviewerID)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, review)
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

// HandleApproveReview approves a pending review.
func (h *Handler) HandleApproveReview(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.mutations.ApproveReview)
}

// HandleRejectReview rejects a pending review.
func (h *Handler) HandleRejectReview(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.mutations.RejectReview)
}

type decideFunc func(ctx context.Context, actorID, reviewID, comment string) (*model.TaskReview, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	var req decisionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	review, err := fn(r.Context(), userID(r), r.PathValue("id"), req.Comment)
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, review)
}
