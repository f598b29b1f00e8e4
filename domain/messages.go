package domain

import (
	"time"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

// EventType names a change published by a session
type EventType string

const (
	EventMessageAppended     EventType = "message_appended"
	EventTranslationRecorded EventType = "translation_recorded"
	EventLanguageChanged     EventType = "language_changed"
	EventRepliesLoading      EventType = "replies_loading"
	EventRepliesUpdated      EventType = "replies_updated"
	EventSummaryLoading      EventType = "summary_loading"
	EventSummaryReady        EventType = "summary_ready"
	EventGatewayError        EventType = "gateway_error"
	EventKeyRequired         EventType = "key_required"
	EventSessionReset        EventType = "session_reset"
	EventSessionClosed       EventType = "session_closed"
)

// ErrorPayload is the client-facing description of a classified failure
type ErrorPayload struct {
	Op      string    `json:"op"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Event is one change notification. Exactly one of the payload fields is set,
// depending on Type.
type Event struct {
	Type        EventType                    `json:"type"`
	SessionID   string                       `json:"session_id"`
	Version     uint64                       `json:"version"`
	Message     *entities.Message            `json:"message,omitempty"`
	Translation *entities.Translation        `json:"translation,omitempty"`
	Preferences *entities.LanguagePreference `json:"preferences,omitempty"`
	Replies     *entities.SmartReplySet      `json:"replies,omitempty"`
	Summary     string                       `json:"summary,omitempty"`
	Error       *ErrorPayload                `json:"error,omitempty"`
	Timestamp   time.Time                    `json:"timestamp"`
}

// NewErrorPayload describes err for clients
func NewErrorPayload(op string, err error) *ErrorPayload {
	return &ErrorPayload{Op: op, Kind: KindOf(err), Message: err.Error()}
}
