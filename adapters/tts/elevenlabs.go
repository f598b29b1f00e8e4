package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultChunkSize    = 1024
	defaultOutputFormat = "pcm_24000"
	defaultModelID      = "eleven_flash_v2_5"
	defaultStability    = 0.5
	defaultClarity      = 0.75
	defaultTimeout      = 60 * time.Second
)

// ErrEmptyText is returned when there is nothing to speak
var ErrEmptyText = errors.New("text cannot be empty")

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter.
// Only APIKey is required.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string // pcm_<rate> streams raw PCM16LE
	ChunkSize    int
	Stability    float64 // 0..1
	Clarity      float64 // 0..1
}

// ElevenLabsTTS implements TextToSpeech using the Eleven Labs streaming API
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	chunkSize    int
	stability    float64
	clarity      float64
	httpClient   *http.Client
	logger       *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.OutputFormat != "" && SampleRate(config.OutputFormat) == 0 {
		return fmt.Errorf("output format must be pcm_<rate>, got %s", config.OutputFormat)
	}
	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", outputFormat))
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
		logger.Info("Using default chunk size", zap.Int("chunkSize", chunkSize))
	}

	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
		logger.Info("Using default stability", zap.Float64("stability", stability))
	}

	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
		logger.Info("Using default clarity", zap.Float64("clarity", clarity))
	}

	return &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: outputFormat,
		chunkSize:    chunkSize,
		stability:    stability,
		clarity:      clarity,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		logger:       logger,
	}, nil
}

// ConvertTextToSpeech requests synthesis of text in language and streams the
// PCM body in chunks. Request and status failures are returned directly; the
// channel only ever carries audio.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text, language string) (<-chan []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	language = entities.NormalizeLanguage(language)
	e.logger.Info("Converting text to speech",
		zap.Int("textLength", len(text)),
		zap.String("language", language),
		zap.String("voiceID", e.voiceID),
		zap.String("modelID", e.modelID))

	requestBody, err := json.Marshal(e.newRequest(text, language))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.apiBaseURL, e.voiceID, e.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("eleven labs API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody)))
	}

	audioChan := make(chan []byte, 10)
	go e.streamBody(ctx, resp.Body, audioChan)
	return audioChan, nil
}

// newRequest builds the payload. Only the v2.5 models accept a language code.
func (e *ElevenLabsTTS) newRequest(text, language string) ElevenLabsRequest {
	request := ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.modelID,
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.stability,
			SimilarityBoost: e.clarity,
			UseSpeakerBoost: true,
		},
	}
	if strings.Contains(e.modelID, "v2_5") && language != "bho" {
		request.LanguageCode = language
	}
	return request
}

func (e *ElevenLabsTTS) streamBody(ctx context.Context, body io.ReadCloser, audioChan chan<- []byte) {
	defer close(audioChan)
	defer body.Close()

	buffer := make([]byte, e.chunkSize)
	totalBytes := 0
	chunkCount := 0

	for {
		n, err := body.Read(buffer)
		if n > 0 {
			totalBytes += n
			chunkCount++

			chunk := make([]byte, n)
			copy(chunk, buffer[:n])

			select {
			case audioChan <- chunk:
			case <-ctx.Done():
				e.logger.Debug("Context cancelled while sending audio chunk")
				return
			}
		}

		if err == io.EOF {
			e.logger.Info("Finished streaming audio data",
				zap.Int("totalChunks", chunkCount),
				zap.Int("totalBytes", totalBytes))
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("Error reading response body", zap.Error(err))
			}
			return
		}
	}
}

// SampleRate is the PCM rate the adapter streams at
func (e *ElevenLabsTTS) SampleRate() int {
	return SampleRate(e.outputFormat)
}

// SetVoiceSettings allows customization of voice parameters
func (e *ElevenLabsTTS) SetVoiceSettings(stability, clarity float64) {
	e.stability = stability
	e.clarity = clarity
	e.logger.Info("Updated voice settings",
		zap.Float64("stability", stability),
		zap.Float64("clarity", clarity))
}

// SetVoiceID allows changing the voice used for TTS
func (e *ElevenLabsTTS) SetVoiceID(voiceID string) {
	e.voiceID = voiceID
	e.logger.Info("Updated voice ID", zap.String("voiceID", voiceID))
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if chunkSizeStr := os.Getenv("ELEVEN_LABS_CHUNK_SIZE"); chunkSizeStr != "" {
		if chunkSize, err := strconv.Atoi(chunkSizeStr); err == nil && chunkSize > 0 {
			config.ChunkSize = chunkSize
		}
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}

// Voice is one entry of the Eleven Labs voice library
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// GetAvailableVoices retrieves available voices from Eleven Labs API
func (e *ElevenLabsTTS) GetAvailableVoices(ctx context.Context) ([]Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBaseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API returned error %d: %s", resp.StatusCode, string(errorBody))
	}

	var voicesResponse struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&voicesResponse); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	e.logger.Info("Retrieved available voices", zap.Int("count", len(voicesResponse.Voices)))
	return voicesResponse.Voices, nil
}

// SampleRate parses the rate out of a pcm_<rate> output format, or returns 0
func SampleRate(outputFormat string) int {
	rate, ok := strings.CutPrefix(outputFormat, "pcm_")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
