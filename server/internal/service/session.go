package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	StateConnecting    SessionState = "connecting"
	StateAuthenticated SessionState = "authenticated"
	StateActive        SessionState = "active"
	StateClosed        SessionState = "closed"
)

// Session is the server-side view of one realtime connection. The user id is
// bound once, from the verified credential, and never changes afterwards.
type Session struct {
	ConnectionID string
	TraceID      string
	CreatedAt    time.Time

	mu     sync.RWMutex
	userID string
	state  SessionState
}

func NewSession(traceID string) *Session {
	return &Session{
		ConnectionID: uuid.NewString(),
		TraceID:      traceID,
		CreatedAt:    time.Now(),
		state:        StateConnecting,
	}
}

// Authenticate binds the verified identity: connecting -> authenticated.
func (s *Session) Authenticate(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("session %s: cannot authenticate from %s", s.ConnectionID, s.state)
	}
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrAuthentication)
	}
	s.userID = userID
	s.state = StateAuthenticated
	return nil
}

// Activate opens the ask loop: authenticated -> active.
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return fmt.Errorf("session %s: cannot activate from %s", s.ConnectionID, s.state)
	}
	s.state = StateActive
	return nil
}

// Close is valid from any state and idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Active() bool {
	return s.State() == StateActive
}
