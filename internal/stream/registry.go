// Package stream keeps at most one live push channel per user and
// delivers notification payloads to it.
package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhle/project-tracker/internal/lock"
	"github.com/nhle/project-tracker/internal/model"
)

// Stats describes the registry's current connections.
type Stats struct {
	ConnectedUsers int      `json:"connectedUsers"`
	UserIDs        []string `json:"userIds"`
	Delivered      int64    `json:"delivered"`
	Dropped        int64    `json:"dropped"`
}

// Registry maps user IDs to their single open sink. Connecting a user
// that already has a sink closes the old one.
type Registry struct {
	keys *lock.MutexMap

	mu    sync.RWMutex
	slots map[string]Sink

	delivered atomic.Int64
	dropped   atomic.Int64

	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		keys:   lock.NewMutexMap(),
		slots:  make(map[string]Sink),
		logger: logger.With("component", "stream"),
		now:    time.Now,
	}
}

// Connect installs sink as userID's slot, closing any previous sink,
// and sends the connection handshake. If the handshake cannot be
// written the slot is dropped again.
func (r *Registry) Connect(userID string, sink Sink) {
	r.keys.Lock(userID)
	r.mu.Lock()
	old := r.slots[userID]
	r.slots[userID] = sink
	r.mu.Unlock()
	r.keys.Unlock(userID)

	if old != nil && old != sink {
		old.Close()
		r.logger.Info("stream replaced", "user_id", userID)
	}
	r.send(userID, sink, model.NewConnectionPayload(userID, r.now()))
}

// Disconnect removes userID's slot if it still holds sink. A sink that
// was already superseded by a newer connection is left alone.
func (r *Registry) Disconnect(userID string, sink Sink) {
	if r.remove(userID, sink) {
		r.logger.Debug("stream disconnected", "user_id", userID)
	}
}

// Close removes and closes whatever sink userID has open.
func (r *Registry) Close(userID string) {
	r.keys.Lock(userID)
	r.mu.Lock()
	sink := r.slots[userID]
	delete(r.slots, userID)
	r.mu.Unlock()
	r.keys.Unlock(userID)

	if sink != nil {
		sink.Close()
	}
}

// SendToUser delivers n to userID if connected. It reports whether the
// payload was handed to the sink. A failed write drops the slot; the
// error is logged and never returned.
func (r *Registry) SendToUser(userID string, n model.Notification) bool {
	r.mu.RLock()
	sink := r.slots[userID]
	r.mu.RUnlock()
	if sink == nil {
		return false
	}
	return r.send(userID, sink, model.NewNotificationPayload(n, r.now()))
}

// PingAll writes a keep-alive to every open slot and drops the ones
// that fail. It returns the number of slots dropped.
func (r *Registry) PingAll() int {
	r.mu.RLock()
	snapshot := make(map[string]Sink, len(r.slots))
	for id, s := range r.slots {
		snapshot[id] = s
	}
	r.mu.RUnlock()

	ping := model.NewPingPayload(r.now())
	dropped := 0
	for id, s := range snapshot {
		if !r.send(id, s, ping) {
			dropped++
		}
	}
	return dropped
}

// Run pings every slot each interval until ctx is cancelled, then
// closes every remaining sink.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			if n := r.PingAll(); n > 0 {
				r.logger.Info("dropped dead streams", "count", n)
			}
		}
	}
}

// IsConnected reports whether userID has an open slot.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slots[userID]
	return ok
}

// Stats returns the connected users in sorted order and delivery counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	ids := make([]string, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	return Stats{
		ConnectedUsers: len(ids),
		UserIDs:        ids,
		Delivered:      r.delivered.Load(),
		Dropped:        r.dropped.Load(),
	}
}

func (r *Registry) send(userID string, sink Sink, p model.Payload) bool {
	if err := sink.Send(p); err != nil {
		terr := &TransportError{UserID: userID, Err: err}
		r.dropped.Add(1)
		r.logger.Warn("stream write failed, dropping slot", "user_id", userID, "payload", p.Type, "error", terr)
		r.remove(userID, sink)
		sink.Close()
		return false
	}
	if p.Type != model.PayloadPing {
		r.delivered.Add(1)
	}
	return true
}

func (r *Registry) remove(userID string, sink Sink) bool {
	r.keys.Lock(userID)
	defer r.keys.Unlock(userID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.slots[userID]; ok && cur == sink {
		delete(r.slots, userID)
		return true
	}
	return false
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]Sink)
	r.mu.Unlock()

	for _, s := range slots {
		s.Close()
	}
}
