package api

import (
	"net/http"

	"github.com/nhle/project-tracker/internal/stream"
)

// HandleStream opens the caller's server-sent event stream. A newer
// stream for the same user replaces this one.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	flusher, err := stream.PrepareSSE(w)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	sink := stream.NewChannelSink(h.streamBuffer)
	h.streams.Connect(user, sink)
	defer func() {
		h.streams.Disconnect(user, sink)
		sink.Close()
	}()

	if err := stream.Pump(r.Context().Done(), w, flusher, sink); err != nil {
		h.logger.Debug("stream write failed", "user_id", user, "error", err)
	}
}

// HandleCloseStream closes the caller's open stream, if any.
func (h *Handler) HandleCloseStream(w http.ResponseWriter, r *http.Request) {
	h.streams.Close(userID(r))
	w.WriteHeader(http.StatusNoContent)
}

// HandleStreamStats reports the open streams.
func (h *Handler) HandleStreamStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.streams.Stats())
}
