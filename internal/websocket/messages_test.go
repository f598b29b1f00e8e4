package websocket

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{"send text", `{"type":"send_text","text":"Hello"}`, false},
		{"blank text", `{"type":"send_text","text":"   "}`, true},
		{"select reply", `{"type":"select_reply","index":2}`, false},
		{"reply index out of range", `{"type":"select_reply","index":3}`, true},
		{"negative reply index", `{"type":"select_reply","index":-1}`, true},
		{"set language", `{"type":"set_language","speaker":"user_b","code":"bho"}`, false},
		{"invalid speaker", `{"type":"set_language","speaker":"C","code":"hi"}`, true},
		{"unsupported language", `{"type":"set_language","speaker":"A","code":"fr"}`, true},
		{"listening start defaults", `{"type":"listening_start"}`, false},
		{"invalid sample rate", `{"type":"listening_start","sample_rate":100000}`, true},
		{"speak", `{"type":"speak","text":"hi there","language":"ta"}`, false},
		{"speak unsupported language", `{"type":"speak","text":"hi","language":"xx"}`, true},
		{"speak empty", `{"type":"speak","text":""}`, true},
		{"set gain", `{"type":"set_gain","gain_db":12}`, false},
		{"auto speak", `{"type":"set_auto_speak","enabled":true}`, false},
		{"summarize", `{"type":"summarize"}`, false},
		{"reset", `{"type":"reset"}`, false},
		{"listening end", `{"type":"listening_end"}`, false},
		{"stop speaking", `{"type":"stop_speaking"}`, false},
		{"ping", `{"type":"ping","data":"x"}`, false},
		{"unknown type", `{"type":"audio_chunk"}`, true},
		{"invalid JSON", `{"type":`, true},
		{"wrong field type", `{"type":"select_reply","index":"one"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidator_ParsedTypes(t *testing.T) {
	validator := NewMessageValidator()

	parsed, err := validator.ValidateMessage([]byte(`{"type":"set_language","speaker":"b","code":"HI"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	setLanguage, ok := parsed.(*SetLanguageMessage)
	if !ok {
		t.Fatalf("Expected *SetLanguageMessage, got %T", parsed)
	}
	if setLanguage.ParsedSpeaker() != entities.SpeakerB {
		t.Errorf("Expected speaker B, got %s", setLanguage.ParsedSpeaker())
	}

	parsed, err = validator.ValidateMessage([]byte(`{"type":"listening_start"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	start := parsed.(*ListeningStartMessage)
	if start.SampleRate != defaultSampleRate {
		t.Errorf("Expected default sample rate %d, got %d", defaultSampleRate, start.SampleRate)
	}
	if start.Encoding != defaultEncoding {
		t.Errorf("Expected default encoding %s, got %s", defaultEncoding, start.Encoding)
	}

	parsed, err = validator.ValidateMessage([]byte(`{"type":"reset"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if control := parsed.(*ControlMessage); control.Type != MessageTypeReset {
		t.Errorf("Expected reset control message, got %s", control.Type)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage(ErrorCodeValidation, "text must not be empty", "")

	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded map[string]interface{}
	json.Unmarshal(payload, &decoded)

	if decoded["type"] != string(MessageTypeError) {
		t.Errorf("Expected type error, got %v", decoded["type"])
	}
	if decoded["error_code"] != ErrorCodeValidation {
		t.Errorf("Expected error_code %s, got %v", ErrorCodeValidation, decoded["error_code"])
	}
	if _, ok := decoded["details"]; ok {
		t.Error("Empty details should be omitted")
	}
	if decoded["timestamp"] == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestCreatePongMessage(t *testing.T) {
	msg := CreatePongMessage("abc")
	if msg.Type != MessageTypePong {
		t.Errorf("Expected type pong, got %s", msg.Type)
	}
	if msg.Data != "abc" {
		t.Errorf("Expected data abc, got %s", msg.Data)
	}
}

func TestCreateSnapshotMessage(t *testing.T) {
	state := entities.NewConversationState(entities.LanguagePreference{SpeakerA: "en", SpeakerB: "hi"})
	state.Append(entities.SpeakerA, "Hello", nil)

	payload, err := json.Marshal(CreateSnapshotMessage("session-1", state.Snapshot()))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded struct {
		Type      string            `json:"type"`
		SessionID string            `json:"session_id"`
		Snapshot  entities.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if decoded.Type != string(MessageTypeSnapshot) {
		t.Errorf("Expected type snapshot, got %s", decoded.Type)
	}
	if len(decoded.Snapshot.Messages) != 1 || decoded.Snapshot.Messages[0].Text != "Hello" {
		t.Errorf("Unexpected snapshot messages: %+v", decoded.Snapshot.Messages)
	}
	if decoded.Snapshot.Turn != entities.BTurn {
		t.Errorf("Expected B_TURN, got %s", decoded.Snapshot.Turn)
	}
}

func TestCreateSpeechErrorMessage(t *testing.T) {
	msg := CreateSpeechErrorMessage("synthesis", errors.New("quota exceeded"))
	if msg.Type != MessageTypeSpeechError || msg.Stage != "synthesis" || msg.Message != "quota exceeded" {
		t.Errorf("Unexpected speech error message: %+v", msg)
	}
}
