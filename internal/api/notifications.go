package api

import (
	"net/http"
	"strconv"

	"github.com/nhle/project-tracker/internal/notification"
	"github.com/nhle/project-tracker/internal/store"
)

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &store.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

// HandleListNotifications returns a page of the caller's notifications.
// Query: page, limit, unread.
func (h *Handler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	var unread bool
	if raw := r.URL.Query().Get("unread"); raw != "" {
		unread, err = strconv.ParseBool(raw)
		if err != nil {
			h.sendStoreError(w, r, &store.ValidationError{Field: "unread", Message: "must be a boolean"})
			return
		}
	}

	res, err := h.notifications.List(r.Context(), userID(r), notification.ListQuery{
		Page:       page,
		Limit:      limit,
		UnreadOnly: unread,
	})
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleNotificationStats returns the caller's notification counts.
func (h *Handler) HandleNotificationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.notifications.Stats(r.Context(), userID(r))
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HandleMarkRead marks one notification read.
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), userID(r), r.PathValue("id")); err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkAllRead marks all of the caller's notifications read.
func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkAllRead(r.Context(), userID(r))
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// HandleDeleteNotification deletes one notification.
func (h *Handler) HandleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.Delete(r.Context(), userID(r), r.PathValue("id")); err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
