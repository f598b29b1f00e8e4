package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
)

// MockLanguageModel is an offline stand-in for the Gemini gateway, used for
// local development without an API key
type MockLanguageModel struct{}

// NewMockLanguageModel creates a new mock language model
func NewMockLanguageModel() repositories.LanguageModel {
	return &MockLanguageModel{}
}

// Translate tags text with the target language instead of translating it
func (m *MockLanguageModel) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &domain.GatewayError{Op: opTranslate, Kind: domain.KindUnknown, Err: err}
	}
	return fmt.Sprintf("[%s] %s", targetLanguage, text), nil
}

// SuggestReplies returns three canned replies
func (m *MockLanguageModel) SuggestReplies(ctx context.Context, history []entities.Message, language string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.GatewayError{Op: opSuggestReplies, Kind: domain.KindUnknown, Err: err}
	}
	prefix := ""
	if language != entities.DefaultLanguage {
		prefix = fmt.Sprintf("[%s] ", language)
	}
	return []string{
		prefix + "That sounds wonderful, please tell me more.",
		prefix + "Thank you so much for sharing that with me.",
		prefix + "I understand, what would you like to do next?",
	}, nil
}

// Summarize lists who said what
func (m *MockLanguageModel) Summarize(ctx context.Context, history []entities.Message) (string, error) {
	if len(history) == 0 {
		return "", domain.NewValidationError("history", entities.ErrEmptyConversation)
	}
	return fmt.Sprintf("A conversation of %d messages.\n%s", len(history), strings.TrimSpace(FormatHistory(history))), nil
}

// ClassifyEmotion always returns the neutral fallback
func (m *MockLanguageModel) ClassifyEmotion(ctx context.Context, audio []byte, mimeType string) entities.Emotion {
	return entities.NeutralEmotion()
}

// CheckKey accepts any non-empty key
func (m *MockLanguageModel) CheckKey(ctx context.Context, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return &domain.GatewayError{Op: opCheckKey, Kind: domain.KindAuth, Err: domain.ErrNoAPIKey}
	}
	return nil
}
