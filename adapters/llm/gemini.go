package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
	"github.com/satriahrh/omnichat/server/internal/metrics"
)

const (
	opTranslate       = "translate"
	opSuggestReplies  = "suggest_replies"
	opSummarize       = "summarize"
	opClassifyEmotion = "classify_emotion"
	opCheckKey        = "check_key"
)

// contentGenerator is the part of genai.Models the gateway uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type generatorFactory func(ctx context.Context, apiKey string) (contentGenerator, error)

func newGenaiGenerator(ctx context.Context, apiKey string) (contentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client.Models, nil
}

// GeminiGateway implements the LanguageModel interface using Google's Gemini API.
// The API key is read from keys on every call, and the client is rebuilt when it changes.
type GeminiGateway struct {
	config         GeminiConfig
	keys           repositories.APIKeySource
	newGenerator   generatorFactory
	emotionLimiter *rate.Limiter
	logger         *zap.Logger

	mu        sync.Mutex
	cachedKey string
	generator contentGenerator
}

var _ repositories.LanguageModel = (*GeminiGateway)(nil)

// NewGeminiGateway creates a gateway that authenticates with keys
func NewGeminiGateway(config GeminiConfig, keys repositories.APIKeySource, logger *zap.Logger) (*GeminiGateway, error) {
	return newGeminiGateway(config, keys, newGenaiGenerator, logger)
}

func newGeminiGateway(config GeminiConfig, keys repositories.APIKeySource, factory generatorFactory, logger *zap.Logger) (*GeminiGateway, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, errors.New("API key source is required")
	}

	config = config.withDefaults(logger)
	interval := time.Minute / time.Duration(config.EmotionRequestsPerMinute)

	return &GeminiGateway{
		config:         config,
		keys:           keys,
		newGenerator:   factory,
		emotionLimiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:         logger,
	}, nil
}

// Translate implements repositories.LanguageModel
func (g *GeminiGateway) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	gen, err := g.currentGenerator(ctx)
	if err != nil {
		return "", g.fail(gatewayError(opTranslate, err))
	}

	contents := []*genai.Content{
		genai.NewContentFromText(translatePrompt(text, sourceLanguage, targetLanguage), genai.RoleUser),
	}

	response, err := g.generate(ctx, opTranslate, gen, g.config.Model, contents, g.config.generationConfig())
	if errors.Is(err, errEmptyResponse) {
		return "", g.fail(parseError(opTranslate, err))
	}
	if err != nil {
		return "", g.fail(gatewayError(opTranslate, err))
	}

	translation := unquote(response)
	if translation == "" {
		return "", g.fail(parseError(opTranslate, errEmptyResponse))
	}

	g.succeed(opTranslate)
	return translation, nil
}

// SuggestReplies implements repositories.LanguageModel
func (g *GeminiGateway) SuggestReplies(ctx context.Context, history []entities.Message, language string) ([]string, error) {
	gen, err := g.currentGenerator(ctx)
	if err != nil {
		return nil, g.fail(gatewayError(opSuggestReplies, err))
	}

	contents := []*genai.Content{
		genai.NewContentFromText(smartRepliesPrompt(history, language), genai.RoleUser),
	}

	response, err := g.generate(ctx, opSuggestReplies, gen, g.config.Model, contents, g.config.generationConfig())
	if errors.Is(err, errEmptyResponse) {
		return nil, g.fail(parseError(opSuggestReplies, err))
	}
	if err != nil {
		return nil, g.fail(gatewayError(opSuggestReplies, err))
	}

	replies, err := ParseReplies(response)
	if err != nil {
		g.logger.Debug("Unparseable smart replies", zap.String("response", response))
		return nil, g.fail(parseError(opSuggestReplies, err))
	}

	g.succeed(opSuggestReplies)
	return replies, nil
}

// Summarize implements repositories.LanguageModel
func (g *GeminiGateway) Summarize(ctx context.Context, history []entities.Message) (string, error) {
	if len(history) == 0 {
		return "", domain.NewValidationError("history", entities.ErrEmptyConversation)
	}

	gen, err := g.currentGenerator(ctx)
	if err != nil {
		return "", g.fail(gatewayError(opSummarize, err))
	}

	contents := []*genai.Content{
		genai.NewContentFromText(summaryPrompt(history), genai.RoleUser),
	}

	summary, err := g.generate(ctx, opSummarize, gen, g.config.Model, contents, g.config.generationConfig())
	if errors.Is(err, errEmptyResponse) {
		return "", g.fail(parseError(opSummarize, err))
	}
	if err != nil {
		return "", g.fail(gatewayError(opSummarize, err))
	}

	g.succeed(opSummarize)
	return summary, nil
}

// ClassifyEmotion implements repositories.LanguageModel. It never returns an error.
func (g *GeminiGateway) ClassifyEmotion(ctx context.Context, audio []byte, mimeType string) entities.Emotion {
	if len(audio) == 0 {
		return g.emotionFallback("empty_audio", nil)
	}
	if !g.emotionLimiter.Allow() {
		return g.emotionFallback("rate_limited", nil)
	}

	gen, err := g.currentGenerator(ctx)
	if err != nil {
		return g.emotionFallback("no_client", err)
	}

	if mimeType == "" {
		mimeType = defaultEmotionMIMEType
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(emotionPrompt()),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.2),
		MaxOutputTokens: 128,
	}

	response, err := g.generate(ctx, opClassifyEmotion, gen, g.config.EmotionModel, contents, config)
	if err != nil {
		return g.emotionFallback("request", err)
	}

	emotion, err := ParseEmotion(response)
	if err != nil {
		return g.emotionFallback("parse", err)
	}

	g.succeed(opClassifyEmotion)
	return emotion
}

// CheckKey implements repositories.LanguageModel by sending a minimal prompt with apiKey
func (g *GeminiGateway) CheckKey(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return g.fail(gatewayError(opCheckKey, domain.ErrNoAPIKey))
	}

	gen, err := g.newGenerator(context.WithoutCancel(ctx), apiKey)
	if err != nil {
		return g.fail(gatewayError(opCheckKey, err))
	}

	contents := []*genai.Content{genai.NewContentFromText(pingPrompt, genai.RoleUser)}
	_, err = g.generate(ctx, opCheckKey, gen, g.config.Model, contents, &genai.GenerateContentConfig{MaxOutputTokens: 8})
	if err != nil && !errors.Is(err, errEmptyResponse) {
		return g.fail(gatewayError(opCheckKey, err))
	}

	g.succeed(opCheckKey)
	return nil
}

// currentGenerator returns a client for the configured key, creating one when the key changed
func (g *GeminiGateway) currentGenerator(ctx context.Context) (contentGenerator, error) {
	key, err := g.keys.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, domain.ErrNoAPIKey
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.generator != nil && g.cachedKey == key {
		return g.generator, nil
	}

	gen, err := g.newGenerator(context.WithoutCancel(ctx), key)
	if err != nil {
		return nil, err
	}

	g.generator = gen
	g.cachedKey = key
	g.logger.Info("Created Gemini client for new API key")
	return gen, nil
}

// generate sends one request, retrying UNKNOWN failures up to MaxRetries times
func (g *GeminiGateway) generate(ctx context.Context, op string, gen contentGenerator, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	if g.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var response *genai.GenerateContentResponse
	var err error

retry:
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		response, err = gen.GenerateContent(ctx, model, contents, config)
		if err == nil || Classify(err) != domain.KindUnknown || attempt == g.config.MaxRetries {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}

	if err != nil {
		return "", err
	}

	text := responseText(response)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

func (g *GeminiGateway) succeed(op string) {
	metrics.GatewayRequests.WithLabelValues(op, metrics.OutcomeSuccess).Inc()
}

func (g *GeminiGateway) fail(err *domain.GatewayError) error {
	metrics.GatewayRequests.WithLabelValues(err.Op, string(err.Kind)).Inc()
	g.logger.Warn("Language model request failed",
		zap.String("operation", err.Op),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err))
	return err
}

func (g *GeminiGateway) emotionFallback(reason string, err error) entities.Emotion {
	metrics.EmotionFallbacks.WithLabelValues(reason).Inc()
	if err != nil {
		g.logger.Warn("Emotion classification failed, using neutral",
			zap.String("reason", reason),
			zap.Error(err))
	}
	return entities.NeutralEmotion()
}

// unquote trims whitespace and one pair of wrapping quotes
func unquote(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"`, "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(s) >= len(q)+len(closing) && strings.HasPrefix(s, q) && strings.HasSuffix(s, closing) {
			return strings.TrimSpace(s[len(q) : len(s)-len(closing)])
		}
	}
	return s
}
