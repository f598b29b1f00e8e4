package entities

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies one of the two participants sharing the device
type Speaker string

const (
	SpeakerA Speaker = "A"
	SpeakerB Speaker = "B"
)

// Other returns the participant who is not s
func (s Speaker) Other() Speaker {
	if s == SpeakerA {
		return SpeakerB
	}
	return SpeakerA
}

// Valid reports whether s is one of the two known speakers
func (s Speaker) Valid() bool {
	return s == SpeakerA || s == SpeakerB
}

// ParseSpeaker accepts "A", "B", "a", "b", "user_a" and "user_b"
func ParseSpeaker(raw string) (Speaker, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A", "USER_A", "USERA":
		return SpeakerA, nil
	case "B", "USER_B", "USERB":
		return SpeakerB, nil
	}
	return "", errors.New("speaker must be A or B")
}

// EmotionLabel is one of the fixed emotion categories
type EmotionLabel string

const (
	EmotionHappy     EmotionLabel = "Happy"
	EmotionSad       EmotionLabel = "Sad"
	EmotionAngry     EmotionLabel = "Angry"
	EmotionSurprised EmotionLabel = "Surprised"
	EmotionFear      EmotionLabel = "Fear"
	EmotionDisgust   EmotionLabel = "Disgust"
	EmotionNeutral   EmotionLabel = "Neutral"
	EmotionExcited   EmotionLabel = "Excited"
)

var emotionEmojis = map[EmotionLabel]string{
	EmotionHappy:     "😊",
	EmotionSad:       "😢",
	EmotionAngry:     "😠",
	EmotionSurprised: "😲",
	EmotionFear:      "😨",
	EmotionDisgust:   "🤢",
	EmotionNeutral:   "😐",
	EmotionExcited:   "🤩",
}

// EmotionLabels lists every category in prompt order
var EmotionLabels = []EmotionLabel{
	EmotionHappy, EmotionSad, EmotionAngry, EmotionSurprised,
	EmotionFear, EmotionDisgust, EmotionNeutral, EmotionExcited,
}

// ParseEmotionLabel matches raw case-insensitively against the fixed set
func ParseEmotionLabel(raw string) (EmotionLabel, bool) {
	raw = strings.TrimSpace(raw)
	for _, label := range EmotionLabels {
		if strings.EqualFold(raw, string(label)) {
			return label, true
		}
	}
	return "", false
}

// Emoji returns the emoji shown next to the label
func (l EmotionLabel) Emoji() string {
	return emotionEmojis[l]
}

// Emotion is the result of classifying an utterance
type Emotion struct {
	Label      EmotionLabel `json:"label" bson:"label"`
	Emoji      string       `json:"emoji" bson:"emoji"`
	Confidence float64      `json:"confidence" bson:"confidence"`
}

// NeutralEmotion is the fallback used whenever classification cannot complete
func NeutralEmotion() Emotion {
	return Emotion{Label: EmotionNeutral, Emoji: EmotionNeutral.Emoji(), Confidence: 0.5}
}

// Message is one utterance in the conversation log. Messages are immutable once appended.
type Message struct {
	ID        string    `json:"id" bson:"id"`
	Speaker   Speaker   `json:"speaker" bson:"speaker"`
	Text      string    `json:"text" bson:"text"`
	Emotion   *Emotion  `json:"emotion,omitempty" bson:"emotion,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Clone returns a copy that shares no memory with m
func (m Message) Clone() Message {
	if m.Emotion != nil {
		e := *m.Emotion
		m.Emotion = &e
	}
	return m
}

// NewMessage trims text and assigns a fresh id. Empty or whitespace-only text is rejected.
func NewMessage(speaker Speaker, text string, emotion *Emotion) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyText
	}
	if !speaker.Valid() {
		return Message{}, ErrInvalidSpeaker
	}

	var tag *Emotion
	if emotion != nil {
		e := *emotion
		tag = &e
	}

	return Message{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		Emotion:   tag,
		CreatedAt: time.Now(),
	}, nil
}

// Validation failures raised by entity constructors and the conversation aggregate
var (
	ErrEmptyText           = errors.New("text must not be empty")
	ErrInvalidSpeaker      = errors.New("speaker must be A or B")
	ErrUnsupportedLanguage = errors.New("unsupported language code")
	ErrReplyIndex          = errors.New("smart reply index out of range")
	ErrEmptyConversation   = errors.New("conversation has no messages")
)
