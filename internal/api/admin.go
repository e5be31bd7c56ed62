package api

import (
	"net/http"
)

// HandleTick runs a scheduler tick now and returns its report. A tick
// that is already running yields 409.
func (h *Handler) HandleTick(w http.ResponseWriter, r *http.Request) {
	rep, err := h.ticker.RunTick(r.Context(), h.now())
	if err != nil {
		h.sendStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// HandleSchedulerStatus reports the scheduler's last tick.
func (h *Handler) HandleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ticker.Status())
}
