package hooks

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/hookflow/internal/logging"
	"github.com/stellarlinkco/hookflow/pkg/core/events"
)

// DefaultSinkCapacity bounds the queue of undelivered async fragments per
// session. Beyond it the oldest entries are dropped so recent context wins.
const DefaultSinkCapacity = 64

// Delivery is one async handler contribution waiting for its session's next
// turn.
type Delivery struct {
	SessionID     string
	OccurrenceID  string
	Kind          events.Kind
	HandlerID     string
	Context       string
	SystemMessage string
	CompletedAt   time.Time
}

// Sink queues async fragments per session until the host drains them at a
// turn boundary. All methods are safe for concurrent use and none panic; a
// sink whose session is already torn down reports DeliveryFailure instead.
type Sink struct {
	mu       sync.Mutex
	queues   map[string][]Delivery
	closed   map[string]struct{}
	capacity int
	logger   zerolog.Logger
}

// NewSink builds a sink. capacity <= 0 applies DefaultSinkCapacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}
	return &Sink{
		queues:   make(map[string][]Delivery),
		closed:   make(map[string]struct{}),
		capacity: capacity,
		logger:   logging.Component("hooks.sink"),
	}
}

// Enqueue queues one delivery for its session's next turn. A session that
// was already closed yields a DeliveryFailure; the caller logs and moves on.
func (s *Sink) Enqueue(d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, torn := s.closed[d.SessionID]; torn {
		s.logger.Warn().
			Str("session_id", d.SessionID).
			Str("handler_id", d.HandlerID).
			Msg("async delivery dropped, session torn down")
		return &DeliveryFailure{SessionID: d.SessionID, HandlerID: d.HandlerID, Reason: "session torn down"}
	}

	q := s.queues[d.SessionID]
	if len(q) >= s.capacity {
		drop := len(q) - s.capacity + 1
		s.logger.Warn().
			Str("session_id", d.SessionID).
			Int("dropped", drop).
			Msg("delivery queue over capacity")
		q = append(q[:0], q[drop:]...)
	}
	s.queues[d.SessionID] = append(q, d)
	return nil
}

// Drain removes and returns every pending delivery for the session, oldest
// first. Draining an unknown or empty session returns nil.
func (s *Sink) Drain(sessionID string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[sessionID]
	if len(q) == 0 {
		return nil
	}
	delete(s.queues, sessionID)
	return q
}

// Pending reports how many deliveries are queued for the session.
func (s *Sink) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[sessionID])
}

// OpenSession clears any teardown mark left by a previous session with the
// same id, so a fresh session starts with a working queue.
func (s *Sink) OpenSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.closed, sessionID)
}

// CloseSession marks the session torn down. Pending deliveries are dropped
// and later enqueues fail with DeliveryFailure.
func (s *Sink) CloseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.queues[sessionID]); n > 0 {
		s.logger.Debug().
			Str("session_id", sessionID).
			Int("dropped", n).
			Msg("session closed with pending deliveries")
	}
	delete(s.queues, sessionID)
	s.closed[sessionID] = struct{}{}
}
