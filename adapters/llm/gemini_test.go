package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
)

type fakeResult struct {
	text string
	err  error
}

type fakeCall struct {
	model    string
	contents []*genai.Content
}

// fakeGenerator replays scripted results in order; the last one repeats
type fakeGenerator struct {
	mu      sync.Mutex
	results []fakeResult
	calls   []fakeCall
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fakeCall{model: model, contents: contents})

	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	if result.err != nil {
		return nil, result.err
	}
	return textResponse(result.text), nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls[len(f.calls)-1]
	return call.contents[0].Parts[0].Text
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

type staticKey struct {
	mu  sync.Mutex
	key string
}

func (k *staticKey) APIKey(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key, nil
}

func (k *staticKey) set(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = key
}

type gatewayFixture struct {
	gateway   *GeminiGateway
	generator *fakeGenerator
	keys      *staticKey
	factoryMu sync.Mutex
	builtFor  []string
}

func newFixture(t *testing.T, config GeminiConfig, results ...fakeResult) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{
		generator: &fakeGenerator{results: results},
		keys:      &staticKey{key: "AIzaTestKey0000000000000"},
	}
	factory := func(ctx context.Context, apiKey string) (contentGenerator, error) {
		f.factoryMu.Lock()
		defer f.factoryMu.Unlock()
		f.builtFor = append(f.builtFor, apiKey)
		return f.generator, nil
	}

	gateway, err := newGeminiGateway(config, f.keys, factory, zap.NewNop())
	require.NoError(t, err)
	f.gateway = gateway
	return f
}

func TestGeminiGateway_Translate(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "\"नमस्ते, आप कैसे हैं?\"\n"})

	got, err := f.gateway.Translate(context.Background(), "Hello, how are you?", "en", "hi")
	require.NoError(t, err)
	assert.Equal(t, "नमस्ते, आप कैसे हैं?", got)

	prompt := f.generator.lastPrompt()
	assert.Contains(t, prompt, "from English (en) to Hindi (hi)")
	assert.Contains(t, prompt, `"Hello, how are you?"`)
	assert.Contains(t, prompt, "Respond with ONLY the translation")
	assert.Equal(t, defaultModel, f.generator.calls[0].model)
}

func TestGeminiGateway_TranslateEmptyResponseIsParseFailure(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "   "})

	_, err := f.gateway.Translate(context.Background(), "hello", "en", "hi")
	require.Error(t, err)
	assert.Equal(t, domain.KindParse, domain.KindOf(err))
}

func TestGeminiGateway_TranslateClassifiesFailure(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{err: genai.APIError{
		Code:    429,
		Message: "Resource has been exhausted (e.g. check quota).",
		Status:  "RESOURCE_EXHAUSTED",
	}})

	_, err := f.gateway.Translate(context.Background(), "hello", "en", "hi")
	require.Error(t, err)

	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, domain.KindQuota, gwErr.Kind)
	assert.Equal(t, opTranslate, gwErr.Op)
}

func TestGeminiGateway_NoKeyIsAuth(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "unused"})
	f.keys.set("")

	_, err := f.gateway.SuggestReplies(context.Background(), nil, "en")
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	assert.Equal(t, 0, f.generator.callCount())
}

func TestGeminiGateway_SuggestReplies(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "```json\n[\"Good, thanks!\", \"I'm fine.\", \"Doing great!\"]\n```"})

	history := []entities.Message{
		{ID: "1", Speaker: entities.SpeakerA, Text: "Hello, how are you?"},
	}
	replies, err := f.gateway.SuggestReplies(context.Background(), history, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"Good, thanks!", "I'm fine.", "Doing great!"}, replies)

	prompt := f.generator.lastPrompt()
	assert.Contains(t, prompt, "UserA: Hello, how are you?")
	assert.Contains(t, prompt, "Hindi (hi)")
	assert.Contains(t, prompt, "JSON array of 3 strings")
}

func TestGeminiGateway_SuggestRepliesParseFailure(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "Sure! Here are three ideas."})

	_, err := f.gateway.SuggestReplies(context.Background(), nil, "en")
	require.Error(t, err)
	assert.Equal(t, domain.KindParse, domain.KindOf(err))
}

func TestGeminiGateway_Summarize(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "They greeted each other."})

	_, err := f.gateway.Summarize(context.Background(), nil)
	assert.True(t, domain.IsValidation(err), "empty history is a validation error")

	emotion := entities.NeutralEmotion()
	history := []entities.Message{
		{ID: "1", Speaker: entities.SpeakerA, Text: "Hi", Emotion: &emotion},
		{ID: "2", Speaker: entities.SpeakerB, Text: "Hello"},
	}
	summary, err := f.gateway.Summarize(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "They greeted each other.", summary)

	prompt := f.generator.lastPrompt()
	assert.Contains(t, prompt, "UserA: Hi [Neutral 😐]")
	assert.Contains(t, prompt, "UserB: Hello")
}

func TestGeminiGateway_ClassifyEmotion(t *testing.T) {
	f := newFixture(t, GeminiConfig{EmotionRequestsPerMinute: 600},
		fakeResult{text: `{"emotion": "Happy", "emoji": "😊", "confidence": 0.9}`})

	emotion := f.gateway.ClassifyEmotion(context.Background(), []byte("RIFF"), "")
	assert.Equal(t, entities.EmotionHappy, emotion.Label)
	assert.Equal(t, defaultEmotionModel, f.generator.calls[0].model)

	parts := f.generator.calls[0].contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, defaultEmotionMIMEType, parts[1].InlineData.MIMEType)
}

func TestGeminiGateway_ClassifyEmotionFallback(t *testing.T) {
	neutral := entities.Emotion{Label: entities.EmotionNeutral, Emoji: "😐", Confidence: 0.5}

	t.Run("request failure", func(t *testing.T) {
		f := newFixture(t, GeminiConfig{}, fakeResult{err: errors.New("boom")})
		assert.Equal(t, neutral, f.gateway.ClassifyEmotion(context.Background(), []byte("audio"), "audio/wav"))
	})

	t.Run("garbage response", func(t *testing.T) {
		f := newFixture(t, GeminiConfig{}, fakeResult{text: "I think they sound happy"})
		assert.Equal(t, neutral, f.gateway.ClassifyEmotion(context.Background(), []byte("audio"), "audio/wav"))
	})

	t.Run("empty audio", func(t *testing.T) {
		f := newFixture(t, GeminiConfig{}, fakeResult{text: "unused"})
		assert.Equal(t, neutral, f.gateway.ClassifyEmotion(context.Background(), nil, ""))
		assert.Equal(t, 0, f.generator.callCount())
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newFixture(t, GeminiConfig{EmotionRequestsPerMinute: 1},
			fakeResult{text: `{"emotion": "Sad", "emoji": "😢", "confidence": 0.7}`})

		first := f.gateway.ClassifyEmotion(context.Background(), []byte("audio"), "")
		second := f.gateway.ClassifyEmotion(context.Background(), []byte("audio"), "")

		assert.Equal(t, entities.EmotionSad, first.Label)
		assert.Equal(t, neutral, second)
		assert.Equal(t, 1, f.generator.callCount())
	})
}

func TestGeminiGateway_CheckKeyUsesCandidate(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "pong"})

	err := f.gateway.CheckKey(context.Background(), "  AIzaCandidateKey00000000  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"AIzaCandidateKey00000000"}, f.builtFor)
	assert.Equal(t, pingPrompt, f.generator.lastPrompt())

	err = f.gateway.CheckKey(context.Background(), "")
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}

func TestGeminiGateway_CheckKeyClassifiesFailure(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{err: genai.APIError{
		Code:    400,
		Message: "API key not valid. Please pass a valid API key.",
		Status:  "INVALID_ARGUMENT",
	}})

	err := f.gateway.CheckKey(context.Background(), "AIzaBadKey000000000000000")
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}

func TestGeminiGateway_ReusesClientUntilKeyChanges(t *testing.T) {
	f := newFixture(t, GeminiConfig{}, fakeResult{text: "ok"})
	ctx := context.Background()

	_, _ = f.gateway.Translate(ctx, "a", "en", "hi")
	_, _ = f.gateway.Translate(ctx, "b", "en", "hi")
	assert.Len(t, f.builtFor, 1)

	f.keys.set("AIzaRotatedKey00000000000")
	_, _ = f.gateway.Translate(ctx, "c", "en", "hi")
	assert.Len(t, f.builtFor, 2)
	assert.Equal(t, "AIzaRotatedKey00000000000", f.builtFor[1])
}

func TestGeminiGateway_RetriesUnknownFailures(t *testing.T) {
	f := newFixture(t, GeminiConfig{MaxRetries: 1},
		fakeResult{err: errors.New("connection reset")},
		fakeResult{text: "hola"})

	got, err := f.gateway.Translate(context.Background(), "hello", "en", "es")
	require.NoError(t, err)
	assert.Equal(t, "hola", got)
	assert.Equal(t, 2, f.generator.callCount())
}

func TestGeminiGateway_DoesNotRetryClassifiedFailures(t *testing.T) {
	f := newFixture(t, GeminiConfig{MaxRetries: 2},
		fakeResult{err: errors.New("quota exceeded")})

	_, err := f.gateway.Translate(context.Background(), "hello", "en", "hi")
	assert.Equal(t, domain.KindQuota, domain.KindOf(err))
	assert.Equal(t, 1, f.generator.callCount())
}

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{"defaults", GeminiConfig{}, false},
		{"temperature too high", GeminiConfig{Temperature: 3}, true},
		{"negative topP", GeminiConfig{TopP: -0.1}, true},
		{"negative timeout", GeminiConfig{TimeoutSeconds: -1}, true},
		{"negative retries", GeminiConfig{MaxRetries: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGeminiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatHistory(t *testing.T) {
	history := []entities.Message{
		{Speaker: entities.SpeakerA, Text: "one"},
		{Speaker: entities.SpeakerB, Text: "two"},
	}
	got := FormatHistory(history)
	assert.Equal(t, "UserA: one\nUserB: two\n", got)
	assert.True(t, strings.HasSuffix(emotionPrompt(), `"confidence": 0.85}`))
}
