package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"

	"github.com/jmerrifield20/agentkit/internal/entrypoint"
)

var (
	// ErrStreamingUnsupported is returned when the response writer cannot flush.
	ErrStreamingUnsupported = errors.New("response writer does not support flushing")
	// ErrStreamClosed is returned by Emit after a failed write.
	ErrStreamClosed = errors.New("event stream closed")
)

// EventStream writes server-sent events. Emit is safe for concurrent use.
type EventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewEventStream writes the event-stream response headers and returns a
// stream over w.
func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &EventStream{w: w, flusher: f}, nil
}

// Emit writes e as one event named after its kind with its data as JSON.
// After the first write error every later call fails.
func (s *EventStream) Emit(e entrypoint.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	// sse.Encode drops write errors, so frame into a buffer first.
	var buf bytes.Buffer
	if err := sse.Encode(&buf, sse.Event{Event: e.Kind, Data: data}); err != nil {
		return fmt.Errorf("encode %s event: %w", e.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

// LazyEventStream opens the event stream on the first Emit. Until then the
// response is untouched, so errors raised before any event can still be
// written as JSON.
type LazyEventStream struct {
	mu sync.Mutex
	w  http.ResponseWriter
	s  *EventStream
}

func NewLazyEventStream(w http.ResponseWriter) *LazyEventStream {
	return &LazyEventStream{w: w}
}

func (l *LazyEventStream) Emit(e entrypoint.Event) error {
	l.mu.Lock()
	if l.s == nil {
		s, err := NewEventStream(l.w)
		if err != nil {
			l.mu.Unlock()
			return err
		}
		l.s = s
	}
	s := l.s
	l.mu.Unlock()
	return s.Emit(e)
}

// Started reports whether any event has been written.
func (l *LazyEventStream) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s != nil
}
