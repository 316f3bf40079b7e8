// Package fanout implements the real-time delivery core: connection
// sessions, the room registry, and the message broadcaster.
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SessionState tracks a connection through its lifecycle.
type SessionState int32

// Session lifecycle states, in transition order.
const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateSubscribed
	StateClosing
	StateClosed
)

// String returns a readable state name for logging.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sendQueueSize bounds the per-session outbound queue. A session whose
// queue is full misses deliveries instead of blocking the broadcaster.
const sendQueueSize = 256

// Session represents one live client connection. It owns its authentication
// state, its subscribed room, and its outbound queue. The transport layer
// creates it on socket open and closes it on socket close.
type Session struct {
	id        string
	userID    atomic.Uint64
	roomKey   atomic.Value // string
	state     atomic.Int32
	send      chan []byte
	closeOnce sync.Once
}

// NewSession creates a session in the Connecting state.
func NewSession() *Session {
	s := &Session{
		id:   uuid.New().String(),
		send: make(chan []byte, sendQueueSize),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// UserID returns the authenticated user, or zero before authentication.
func (s *Session) UserID() uint {
	return uint(s.userID.Load())
}

// RoomKey returns the subscribed room key, or empty before subscription.
func (s *Session) RoomKey() string {
	if v := s.roomKey.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Authenticate transitions Connecting -> Authenticated. It reports false if
// the session is in any other state.
func (s *Session) Authenticate(userID uint) bool {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return false
	}
	s.userID.Store(uint64(userID))
	return true
}

// subscribe transitions Authenticated -> Subscribed. Called by the registry
// while it holds the room lock, so a session cannot end up subscribed
// without a registry entry.
func (s *Session) subscribe(roomKey string) bool {
	if !s.state.CompareAndSwap(int32(StateAuthenticated), int32(StateSubscribed)) {
		return false
	}
	s.roomKey.Store(roomKey)
	return true
}

// Enqueue attempts a non-blocking delivery to the session's outbound queue.
// It reports false for sessions that are not subscribed, have a full queue,
// or are concurrently closing; the caller treats all of those as a skipped
// delivery, never as a fault.
func (s *Session) Enqueue(payload []byte) (delivered bool) {
	if s.State() != StateSubscribed {
		return false
	}

	// The send channel may be closed by a concurrent Close between the
	// state check and the send.
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound returns the channel drained by the transport's write pump. The
// channel is closed when the session closes.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Close transitions the session to Closing and closes the outbound queue.
// Safe to call multiple times and concurrently with in-flight broadcasts.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.send)
	})
}

// MarkClosed records that the transport has released the socket.
func (s *Session) MarkClosed() {
	s.state.Store(int32(StateClosed))
}
