package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Client to server message types
const (
	MessageTypeSendText       MessageType = "send_text"
	MessageTypeSelectReply    MessageType = "select_reply"
	MessageTypeSetLanguage    MessageType = "set_language"
	MessageTypeSummarize      MessageType = "summarize"
	MessageTypeReset          MessageType = "reset"
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypeSpeak          MessageType = "speak"
	MessageTypeStopSpeaking   MessageType = "stop_speaking"
	MessageTypeSetGain        MessageType = "set_gain"
	MessageTypeSetAutoSpeak   MessageType = "set_auto_speak"
	MessageTypePing           MessageType = "ping"
)

// Server to client message types. Session events are sent with their own
// event type.
const (
	MessageTypeSnapshot         MessageType = "snapshot"
	MessageTypeListeningStarted MessageType = "listening_started"
	MessageTypeListeningEnded   MessageType = "listening_ended"
	MessageTypeSpeechError      MessageType = "speech_error"
	MessageTypeSpeakingStart    MessageType = "speaking_start"
	MessageTypeSpeakingEnd      MessageType = "speaking_end"
	MessageTypePong             MessageType = "pong"
	MessageTypeError            MessageType = "error"
)

// Error codes carried by ErrorMessage
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeValidation     = "validation_error"
	ErrorCodeSessionClosed  = "session_closed"
	ErrorCodeInternal       = "internal_error"
)

const (
	defaultSampleRate = 16000
	defaultEncoding   = "LINEAR16"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
}

// ControlMessage is a command without a payload: summarize, reset,
// listening_end and stop_speaking
type ControlMessage struct {
	BaseMessage
}

// SendTextMessage appends typed text on the active speaker's turn
type SendTextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// SelectReplyMessage appends the smart reply at Index
type SelectReplyMessage struct {
	BaseMessage
	Index int `json:"index"`
}

// SetLanguageMessage changes the language of one speaker
type SetLanguageMessage struct {
	BaseMessage
	Speaker string `json:"speaker"`
	Code    string `json:"code"`

	speaker entities.Speaker
}

// ParsedSpeaker returns the validated speaker
func (m *SetLanguageMessage) ParsedSpeaker() entities.Speaker {
	return m.speaker
}

// ListeningStartMessage opens a recognition. Binary frames that follow carry
// the microphone audio.
type ListeningStartMessage struct {
	BaseMessage
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

// SpeakMessage asks the server to synthesize Text. An empty Language speaks
// in the active speaker's language.
type SpeakMessage struct {
	BaseMessage
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// SetGainMessage sets the loudness gain of synthesized audio
type SetGainMessage struct {
	BaseMessage
	GainDB int `json:"gain_db"`
}

// SetAutoSpeakMessage turns automatic speaking of translations on or off
type SetAutoSpeakMessage struct {
	BaseMessage
	Enabled bool `json:"enabled"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SnapshotMessage carries the full conversation state, sent on connect
type SnapshotMessage struct {
	BaseMessage
	SessionID string            `json:"session_id"`
	Snapshot  entities.Snapshot `json:"snapshot"`
}

// ListeningMessage reports the start or end of a recognition
type ListeningMessage struct {
	BaseMessage
	Language string `json:"language,omitempty"`
	Text     string `json:"text,omitempty"`
}

// SpeakingMessage brackets the binary frames of one synthesized utterance
type SpeakingMessage struct {
	BaseMessage
	Text       string `json:"text,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Stopped    bool   `json:"stopped,omitempty"`
}

// SpeechErrorMessage reports a recognition or synthesis failure
type SpeechErrorMessage struct {
	BaseMessage
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming text frame into its typed message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	if base.Timestamp == "" {
		base.Timestamp = time.Now().Format(time.RFC3339)
	}

	switch base.Type {
	case MessageTypeSendText:
		var msg SendTextMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid send_text message: %w", err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		return &msg, nil

	case MessageTypeSelectReply:
		var msg SelectReplyMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid select_reply message: %w", err)
		}
		if msg.Index < 0 || msg.Index >= entities.MaxSmartReplies {
			return nil, fmt.Errorf("index must be between 0 and %d", entities.MaxSmartReplies-1)
		}
		return &msg, nil

	case MessageTypeSetLanguage:
		var msg SetLanguageMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid set_language message: %w", err)
		}
		if err := v.validateSetLanguage(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening_start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeSpeak:
		var msg SpeakMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid speak message: %w", err)
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, fmt.Errorf("text is required")
		}
		if msg.Language != "" && !entities.IsSupportedLanguage(msg.Language) {
			return nil, fmt.Errorf("unsupported language: %s", msg.Language)
		}
		return &msg, nil

	case MessageTypeSetGain:
		var msg SetGainMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid set_gain message: %w", err)
		}
		return &msg, nil

	case MessageTypeSetAutoSpeak:
		var msg SetAutoSpeakMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid set_auto_speak message: %w", err)
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case MessageTypeSummarize, MessageTypeReset, MessageTypeListeningEnd, MessageTypeStopSpeaking:
		return &ControlMessage{BaseMessage: base}, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateSetLanguage(msg *SetLanguageMessage) error {
	speaker, err := entities.ParseSpeaker(msg.Speaker)
	if err != nil {
		return err
	}
	if !entities.IsSupportedLanguage(msg.Code) {
		return fmt.Errorf("unsupported language: %s", msg.Code)
	}
	msg.speaker = speaker
	return nil
}

func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	if msg.SampleRate == 0 {
		msg.SampleRate = defaultSampleRate
	}
	if msg.SampleRate < 8000 || msg.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000")
	}
	if msg.Encoding == "" {
		msg.Encoding = defaultEncoding
	}
	return nil
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong), Data: data}
}

// CreateSnapshotMessage wraps the state of sessionID
func CreateSnapshotMessage(sessionID string, snapshot entities.Snapshot) *SnapshotMessage {
	return &SnapshotMessage{
		BaseMessage: newBase(MessageTypeSnapshot),
		SessionID:   sessionID,
		Snapshot:    snapshot,
	}
}

// CreateSpeechErrorMessage reports a failure of stage, "recognition" or "synthesis"
func CreateSpeechErrorMessage(stage string, err error) *SpeechErrorMessage {
	return &SpeechErrorMessage{
		BaseMessage: newBase(MessageTypeSpeechError),
		Stage:       stage,
		Message:     err.Error(),
	}
}
