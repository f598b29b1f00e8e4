package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/adapters/llm"
	"github.com/satriahrh/omnichat/server/adapters/storage"
	"github.com/satriahrh/omnichat/server/adapters/stt"
	"github.com/satriahrh/omnichat/server/adapters/tts"
	"github.com/satriahrh/omnichat/server/domain/repositories"
	"github.com/satriahrh/omnichat/server/internal/config"
	"github.com/satriahrh/omnichat/server/usecase"
)

const storeCloseTimeout = 5 * time.Second

// services are the pieces shared by every command that touches the
// conversation core
type services struct {
	store       repositories.KeyValueStore
	keys        *usecase.KeyService
	preferences *usecase.PreferenceService
	llm         repositories.LanguageModel

	closers []func() error
	logger  *zap.Logger
}

func newServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services, error) {
	s := &services{logger: logger}

	store, err := s.openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.store = store

	var keyStore repositories.KeyValueStore = store
	if cfg.Storage.Keyring {
		keyStore = storage.NewKeyringStore(storage.DefaultKeyringService)
		logger.Info("API key kept in the OS keyring", zap.String("service", storage.DefaultKeyringService))
	}

	s.keys = usecase.NewKeyService(keyStore, cfg.Gemini.SeedKey, logger)
	s.preferences = usecase.NewPreferenceService(store, logger)

	if cfg.Gemini.Mock {
		logger.Warn("Using the offline mock language model")
		s.llm = llm.NewMockLanguageModel()
	} else {
		gateway, err := llm.NewGeminiGateway(cfg.Gemini.Gateway, s.keys, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create Gemini gateway: %w", err)
		}
		s.llm = gateway
	}
	s.keys.SetVerifier(s.llm)

	return s, nil
}

// openStore opens the preference store selected by cfg.Backend
func (s *services) openStore(ctx context.Context, cfg config.StorageConfig) (repositories.KeyValueStore, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		s.logger.Warn("Using in-memory store, preferences will not survive a restart")
		return storage.NewMemoryStore(), nil

	case config.StoreSQLite:
		store, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.logger.Info("Using sqlite store", zap.String("path", cfg.SQLitePath))
		return store, nil

	case config.StoreRedis:
		store, err := storage.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, store.Close)
		s.logger.Info("Using redis store", zap.String("addr", cfg.Redis.Addr))
		return store, nil

	case config.StoreMongo:
		store, err := storage.NewMongoStore(cfg.Mongo, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
			defer cancel()
			return store.Close(ctx)
		})
		return store, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// Close releases the stores in reverse order of opening
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	s.closers = nil
}

func newSpeechToText(cfg config.SpeechConfig, logger *zap.Logger) repositories.SpeechToText {
	if cfg.Provider == config.SpeechMock {
		return stt.NewMockSpeechToText(logger)
	}
	return stt.NewGoogleSpeechToText(logger)
}

// newTextToSpeech uses Eleven Labs when it has a key and the mock tone
// synthesizer otherwise
func newTextToSpeech(cfg config.SpeechConfig, logger *zap.Logger) (repositories.TextToSpeech, error) {
	if cfg.Provider == config.SpeechMock {
		return tts.NewMockTextToSpeech(logger), nil
	}
	if cfg.ElevenLabs.APIKey == "" {
		logger.Warn("ELEVEN_LABS_API_KEY not set, using mock speech synthesis")
		return tts.NewMockTextToSpeech(logger), nil
	}

	synth, err := tts.NewElevenLabsTTS(cfg.ElevenLabs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Eleven Labs TTS: %w", err)
	}
	return synth, nil
}
