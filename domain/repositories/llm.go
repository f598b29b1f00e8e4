package repositories

import (
	"context"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

// LanguageModel is the single boundary to the generative-language service.
// Translate, SuggestReplies and Summarize return a *domain.GatewayError on failure.
type LanguageModel interface {
	// Translate returns only the translated text
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
	// SuggestReplies returns up to three replies for the next speaker, written in language
	SuggestReplies(ctx context.Context, history []entities.Message, language string) ([]string, error)
	// Summarize returns a free-text summary of history
	Summarize(ctx context.Context, history []entities.Message) (string, error)
	// ClassifyEmotion never fails; it falls back to entities.NeutralEmotion
	ClassifyEmotion(ctx context.Context, audio []byte, mimeType string) entities.Emotion
	// CheckKey performs a minimal live request authenticated with apiKey
	CheckKey(ctx context.Context, apiKey string) error
}

// APIKeySource supplies the key the gateway authenticates with on each call
type APIKeySource interface {
	APIKey(ctx context.Context) (string, error)
}
