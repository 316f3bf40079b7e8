package fanout

import (
	"testing"
)

func TestSession_Lifecycle(t *testing.T) {
	s := NewSession()

	if s.State() != StateConnecting {
		t.Fatalf("new session state = %v, want %v", s.State(), StateConnecting)
	}
	if s.ID() == "" {
		t.Error("new session has empty ID")
	}
	if s.UserID() != 0 {
		t.Errorf("unauthenticated session UserID = %d, want 0", s.UserID())
	}

	if !s.Authenticate(42) {
		t.Fatal("Authenticate() failed on connecting session")
	}
	if s.State() != StateAuthenticated {
		t.Errorf("state after Authenticate = %v, want %v", s.State(), StateAuthenticated)
	}
	if s.UserID() != 42 {
		t.Errorf("UserID = %d, want 42", s.UserID())
	}

	// Double authentication must fail without clobbering the user.
	if s.Authenticate(99) {
		t.Error("Authenticate() succeeded twice")
	}
	if s.UserID() != 42 {
		t.Errorf("UserID after failed re-auth = %d, want 42", s.UserID())
	}

	if !s.subscribe("chat_1") {
		t.Fatal("subscribe() failed on authenticated session")
	}
	if s.State() != StateSubscribed {
		t.Errorf("state after subscribe = %v, want %v", s.State(), StateSubscribed)
	}
	if s.RoomKey() != "chat_1" {
		t.Errorf("RoomKey = %q, want %q", s.RoomKey(), "chat_1")
	}

	s.Close()
	if s.State() != StateClosing {
		t.Errorf("state after Close = %v, want %v", s.State(), StateClosing)
	}
	s.MarkClosed()
	if s.State() != StateClosed {
		t.Errorf("state after MarkClosed = %v, want %v", s.State(), StateClosed)
	}
}

func TestSession_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func() *Session
		check func(t *testing.T, s *Session)
	}{
		{
			name:  "subscribe before authenticate",
			setup: NewSession,
			check: func(t *testing.T, s *Session) {
				if s.subscribe("chat_1") {
					t.Error("subscribe() succeeded on connecting session")
				}
			},
		},
		{
			name: "authenticate after close",
			setup: func() *Session {
				s := NewSession()
				s.Close()
				return s
			},
			check: func(t *testing.T, s *Session) {
				if s.Authenticate(1) {
					t.Error("Authenticate() succeeded on closing session")
				}
			},
		},
		{
			name: "double subscribe",
			setup: func() *Session {
				s := NewSession()
				s.Authenticate(1)
				s.subscribe("chat_1")
				return s
			},
			check: func(t *testing.T, s *Session) {
				if s.subscribe("chat_2") {
					t.Error("subscribe() succeeded twice")
				}
				if s.RoomKey() != "chat_1" {
					t.Errorf("RoomKey = %q, want %q", s.RoomKey(), "chat_1")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.setup())
		})
	}
}

func TestSession_EnqueueStates(t *testing.T) {
	s := NewSession()

	if s.Enqueue([]byte("x")) {
		t.Error("Enqueue() delivered to connecting session")
	}

	s.Authenticate(1)
	if s.Enqueue([]byte("x")) {
		t.Error("Enqueue() delivered to authenticated but unsubscribed session")
	}

	s.subscribe("chat_1")
	if !s.Enqueue([]byte("x")) {
		t.Error("Enqueue() failed on subscribed session")
	}

	s.Close()
	if s.Enqueue([]byte("x")) {
		t.Error("Enqueue() delivered to closing session")
	}
}

func TestSession_EnqueueFullQueue(t *testing.T) {
	s := NewSession()
	s.Authenticate(1)
	s.subscribe("chat_1")

	for i := 0; i < sendQueueSize; i++ {
		if !s.Enqueue([]byte("x")) {
			t.Fatalf("Enqueue() failed at %d, queue should hold %d", i, sendQueueSize)
		}
	}
	if s.Enqueue([]byte("overflow")) {
		t.Error("Enqueue() delivered past the queue bound")
	}
}

// Closing a session while another goroutine is enqueuing must never panic
// out of Enqueue.
func TestSession_EnqueueCloseRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := NewSession()
		s.Authenticate(1)
		s.subscribe("chat_1")

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 50; j++ {
				s.Enqueue([]byte("payload"))
			}
		}()
		s.Close()
		<-done
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	s := NewSession()
	s.Authenticate(1)
	s.subscribe("chat_1")
	s.Close()
	s.Close() // must not panic on the already-closed channel

	if _, open := <-s.Outbound(); open {
		t.Error("Outbound() still open after Close")
	}
}
