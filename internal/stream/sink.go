package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/nhle/project-tracker/internal/model"
)

var (
	// ErrSinkClosed is returned when sending to a sink that was closed.
	ErrSinkClosed = errors.New("sink closed")

	// ErrBufferFull is returned when a sink's consumer has fallen behind.
	ErrBufferFull = errors.New("sink buffer full")
)

// TransportError reports a failed write to a user's push channel.
type TransportError struct {
	UserID string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream to %s: %v", e.UserID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err (or any error in its chain) is a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// Sink is the outbound half of a push channel. Send must not block.
type Sink interface {
	Send(p model.Payload) error
	Close()
}

// ChannelSink buffers payloads for a single consumer goroutine, usually
// an SSE response loop. Send never blocks: a full buffer is reported as
// a dead connection.
type ChannelSink struct {
	ch   chan model.Payload
	done chan struct{}
	once sync.Once
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a sink holding up to buffer undelivered payloads.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		ch:   make(chan model.Payload, buffer),
		done: make(chan struct{}),
	}
}

func (s *ChannelSink) Send(p model.Payload) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- p:
		return nil
	case <-s.done:
		return ErrSinkClosed
	default:
		return ErrBufferFull
	}
}

// Close signals the consumer to stop. It is safe to call more than once.
func (s *ChannelSink) Close() {
	s.once.Do(func() { close(s.done) })
}

// Payloads delivers buffered payloads to the consumer.
func (s *ChannelSink) Payloads() <-chan model.Payload { return s.ch }

// Done is closed when the sink is closed.
func (s *ChannelSink) Done() <-chan struct{} { return s.done }

// WriteEvent writes p as a single server-sent event.
func WriteEvent(w io.Writer, p model.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", p.Type, data); err != nil {
		return err
	}
	return nil
}

// PrepareSSE sets the event-stream headers and flushes them. It fails
// when the response writer cannot flush.
func PrepareSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, nil
}

// Pump copies payloads from sink to w until the sink is closed, done is
// closed (client went away) or a write fails.
func Pump(done <-chan struct{}, w io.Writer, flusher http.Flusher, sink *ChannelSink) error {
	for {
		select {
		case <-done:
			return nil
		case <-sink.Done():
			return nil
		case p := <-sink.Payloads():
			if err := WriteEvent(w, p); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
