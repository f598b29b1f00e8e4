package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusTerminated SessionStatus = "terminated"
)

// DefaultIdleTimeout is how long a session may go without activity before it is reaped
const DefaultIdleTimeout = 30 * time.Minute

// SessionInfo is the lifecycle record of one conversation session
type SessionInfo struct {
	ID           string        `json:"id" bson:"_id"`
	CreatedAt    time.Time     `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time     `json:"last_active_at" bson:"last_active_at"`
	Status       SessionStatus `json:"status" bson:"status"`
}

// NewSessionInfo creates an active session record with a fresh id
func NewSessionInfo() SessionInfo {
	now := time.Now()
	return SessionInfo{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       SessionStatusActive,
	}
}

// Touch records activity at now
func (s *SessionInfo) Touch(now time.Time) {
	s.LastActiveAt = now
}

// IsIdle reports whether the session has been inactive for longer than timeout
func (s SessionInfo) IsIdle(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return now.Sub(s.LastActiveAt) > timeout
}

// IsActive reports whether the session still accepts commands
func (s SessionInfo) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Terminate marks the session as ended by the user
func (s *SessionInfo) Terminate() {
	s.Status = SessionStatusTerminated
}

// Expire marks the session as ended by the idle reaper
func (s *SessionInfo) Expire() {
	s.Status = SessionStatusExpired
}

// Validate validates the session data
func (s SessionInfo) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}

	switch s.Status {
	case SessionStatusActive, SessionStatusExpired, SessionStatusTerminated:
		return nil
	}
	return errors.New("invalid session status")
}
