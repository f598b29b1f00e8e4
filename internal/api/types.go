package api

import (
	"time"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

// CreateSessionResponse is returned when a session starts
type CreateSessionResponse struct {
	SessionID string            `json:"session_id"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expires_at"`
	Snapshot  entities.Snapshot `json:"snapshot"`
}

// AppendMessageRequest represents typed text from the active speaker
type AppendMessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse wraps an appended message
type MessageResponse struct {
	Message entities.Message `json:"message"`
}

// SetLanguageRequest represents the request payload for a language change
type SetLanguageRequest struct {
	Code string `json:"code"`
}

// SaveKeyRequest represents the request payload for saving the API key
type SaveKeyRequest struct {
	Key string `json:"key"`
}

// KeyStatusResponse reports whether an API key is available
type KeyStatusResponse struct {
	Configured bool `json:"configured"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
