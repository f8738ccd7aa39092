// ABOUTME: Session represents one live client connection bound to a user
// ABOUTME: Carries a bounded event buffer so slow consumers never block fan-out

package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionClosed indicates the session has been closed and can no longer
// receive events.
var ErrSessionClosed = errors.New("session closed")

// ErrSessionBusy indicates the session's event buffer is full. The event is
// dropped for this session only (at-most-once live push).
var ErrSessionBusy = errors.New("session buffer full")

// Event is a single live-channel event pushed to a session.
type Event struct {
	Name string // wire event name, e.g. "receive-direct"
	Data any
}

// Session is one live connection for a user. A user may hold any number of
// concurrent sessions (multi-device presence).
type Session struct {
	ID     string
	UserID string

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// New creates a session for the given user with the given event buffer size.
func New(userID string, buffer int) *Session {
	return &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the channel the transport layer drains to deliver events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the session closes, releasing any pending drainer.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send enqueues an event without blocking. Returns ErrSessionBusy when the
// buffer is full and ErrSessionClosed after Close.
func (s *Session) Send(evt Event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.events <- evt:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSessionBusy
	}
}

// Close marks the session dead. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}
