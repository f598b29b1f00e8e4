package llm

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel           = "gemini-2.0-flash"
	defaultEmotionModel    = "gemini-1.5-flash"
	defaultTemperature     = 0.7
	defaultTopP            = 0.95
	defaultTopK            = 40
	defaultMaxTokens       = 1024
	defaultEmotionsPerMin  = 12
	defaultEmotionMIMEType = "audio/wav"
)

// GeminiConfig configures the Gemini gateway. Zero values select defaults.
type GeminiConfig struct {
	Model           string
	EmotionModel    string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	// TimeoutSeconds bounds each request; 0 leaves only the caller's context
	TimeoutSeconds int
	// MaxRetries is the number of extra attempts after an UNKNOWN failure
	MaxRetries int
	// EmotionRequestsPerMinute limits audio classification requests
	EmotionRequestsPerMinute int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}

	if config.TopP != 0 && (config.TopP < 0 || config.TopP > 1) {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries must be positive, got %d", config.MaxRetries)
	}

	if config.EmotionRequestsPerMinute < 0 {
		return fmt.Errorf("emotion requests per minute must be positive, got %d", config.EmotionRequestsPerMinute)
	}

	return nil
}

// withDefaults fills unset fields, logging each default it applies
func (c GeminiConfig) withDefaults(logger *zap.Logger) GeminiConfig {
	if c.Model == "" {
		c.Model = defaultModel
		logger.Info("Using default model", zap.String("model", c.Model))
	}

	if c.EmotionModel == "" {
		c.EmotionModel = defaultEmotionModel
		logger.Info("Using default emotion model", zap.String("emotionModel", c.EmotionModel))
	}

	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
		logger.Info("Using default temperature", zap.Float32("temperature", c.Temperature))
	}

	if c.TopP == 0 {
		c.TopP = defaultTopP
		logger.Info("Using default topP", zap.Float32("topP", c.TopP))
	}

	if c.TopK == 0 {
		c.TopK = defaultTopK
		logger.Info("Using default topK", zap.Float32("topK", c.TopK))
	}

	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxTokens
		logger.Info("Using default maxOutputTokens", zap.Int("maxOutputTokens", c.MaxOutputTokens))
	}

	if c.EmotionRequestsPerMinute == 0 {
		c.EmotionRequestsPerMinute = defaultEmotionsPerMin
		logger.Info("Using default emotion rate", zap.Int("emotionRequestsPerMinute", c.EmotionRequestsPerMinute))
	}

	return c
}

// generationConfig builds the request settings shared by text operations
func (c GeminiConfig) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SafetySettings:  safetySettings,
		Temperature:     genai.Ptr(c.Temperature),
		TopP:            genai.Ptr(c.TopP),
		TopK:            genai.Ptr(c.TopK),
		MaxOutputTokens: int32(c.MaxOutputTokens),
	}
}

// Only high-probability harms are blocked
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
}

// NewGeminiConfigFromEnv reads GEMINI_* variables. Unparseable numbers are ignored.
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		Model:        os.Getenv("GEMINI_MODEL"),
		EmotionModel: os.Getenv("GEMINI_EMOTION_MODEL"),
	}

	if v, err := strconv.ParseFloat(os.Getenv("GEMINI_TEMPERATURE"), 32); err == nil {
		config.Temperature = float32(v)
	}
	if v, err := strconv.Atoi(os.Getenv("GEMINI_MAX_OUTPUT_TOKENS")); err == nil && v > 0 {
		config.MaxOutputTokens = v
	}
	if v, err := strconv.Atoi(os.Getenv("GEMINI_TIMEOUT_SECONDS")); err == nil && v >= 0 {
		config.TimeoutSeconds = v
	}
	if v, err := strconv.Atoi(os.Getenv("GEMINI_MAX_RETRIES")); err == nil && v >= 0 {
		config.MaxRetries = v
	}
	if v, err := strconv.Atoi(os.Getenv("EMOTION_REQUESTS_PER_MINUTE")); err == nil && v > 0 {
		config.EmotionRequestsPerMinute = v
	}

	return config
}
