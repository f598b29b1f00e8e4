package entities

import (
	"testing"
	"time"
)

func TestSessionCreation(t *testing.T) {
	session := NewSessionInfo()

	if session.ID == "" {
		t.Error("Expected session ID to be set")
	}

	if session.Status != SessionStatusActive {
		t.Errorf("Expected status %s, got %s", SessionStatusActive, session.Status)
	}

	if !session.IsActive() {
		t.Error("New session should be active")
	}

	if err := session.Validate(); err != nil {
		t.Errorf("New session should be valid, got %v", err)
	}
}

func TestSessionIdle(t *testing.T) {
	session := NewSessionInfo()
	now := time.Now()

	if session.IsIdle(now, 30*time.Minute) {
		t.Error("Session should not be idle right after creation")
	}

	session.LastActiveAt = now.Add(-31 * time.Minute)
	if !session.IsIdle(now, 30*time.Minute) {
		t.Error("Session should be idle after 31 minutes without activity")
	}

	session.Touch(now)
	if session.IsIdle(now, 30*time.Minute) {
		t.Error("Touch should reset idleness")
	}

	// Zero timeout falls back to the default
	session.LastActiveAt = now.Add(-DefaultIdleTimeout - time.Second)
	if !session.IsIdle(now, 0) {
		t.Error("Session should be idle with default timeout")
	}
}

func TestSessionTermination(t *testing.T) {
	session := NewSessionInfo()
	session.Terminate()

	if session.Status != SessionStatusTerminated {
		t.Errorf("Expected status %s, got %s", SessionStatusTerminated, session.Status)
	}

	if session.IsActive() {
		t.Error("Terminated session should not be active")
	}

	session = NewSessionInfo()
	session.Expire()
	if session.Status != SessionStatusExpired {
		t.Errorf("Expected status %s, got %s", SessionStatusExpired, session.Status)
	}
}

func TestSessionValidation(t *testing.T) {
	tests := []struct {
		name    string
		session SessionInfo
		wantErr bool
	}{
		{
			name:    "valid session",
			session: NewSessionInfo(),
			wantErr: false,
		},
		{
			name:    "missing id",
			session: SessionInfo{Status: SessionStatusActive},
			wantErr: true,
		},
		{
			name:    "invalid status",
			session: SessionInfo{ID: "s-1", Status: "paused"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
