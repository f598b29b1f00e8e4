package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/repositories"
)

// KeyGeminiAPIKey is the store key of the persisted API key
const KeyGeminiAPIKey = "@gemini_api_key"

const (
	apiKeyPrefix    = "AIza"
	apiKeyMinLength = 20
)

// ErrInvalidKeyFormat is returned for keys that cannot be Gemini API keys
var ErrInvalidKeyFormat = errors.New("API key must start with AIza and be at least 20 characters")

// KeyVerifier performs a live request with a candidate key
type KeyVerifier interface {
	CheckKey(ctx context.Context, apiKey string) error
}

// KeyService owns the lifecycle of the language-model API key. It is the
// gateway's APIKeySource.
type KeyService struct {
	store    repositories.KeyValueStore
	seed     string
	logger   *zap.Logger
	verifier KeyVerifier

	mu     sync.RWMutex
	cached string
	loaded bool
}

var _ repositories.APIKeySource = (*KeyService)(nil)

// NewKeyService creates a key service. seed is used while no key is stored.
func NewKeyService(store repositories.KeyValueStore, seed string, logger *zap.Logger) *KeyService {
	return &KeyService{
		store:  store,
		seed:   strings.TrimSpace(seed),
		logger: logger,
	}
}

// SetVerifier sets the gateway used by SaveKey. The gateway itself reads keys
// from this service, so it can only be attached after construction.
func (k *KeyService) SetVerifier(verifier KeyVerifier) {
	k.verifier = verifier
}

// ValidateKeyFormat checks the shape of key without any network call
func ValidateKeyFormat(key string) error {
	key = strings.TrimSpace(key)
	if len(key) < apiKeyMinLength || !strings.HasPrefix(key, apiKeyPrefix) {
		return domain.NewValidationError("key", ErrInvalidKeyFormat)
	}
	return nil
}

// SaveKey verifies key with a live request and persists it on success
func (k *KeyService) SaveKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if err := ValidateKeyFormat(key); err != nil {
		return err
	}
	if k.verifier == nil {
		return errors.New("no key verifier configured")
	}

	if err := k.verifier.CheckKey(ctx, key); err != nil {
		k.logger.Warn("API key rejected", zap.String("kind", string(domain.KindOf(err))))
		return err
	}

	if err := k.store.Set(ctx, KeyGeminiAPIKey, key); err != nil {
		return fmt.Errorf("failed to save API key: %w", err)
	}

	k.mu.Lock()
	k.cached = key
	k.loaded = true
	k.mu.Unlock()

	k.logger.Info("API key saved")
	return nil
}

// LoadKey reads the stored key, falling back to the seed. It returns "" when neither exists.
func (k *KeyService) LoadKey(ctx context.Context) (string, error) {
	key, ok, err := k.store.Get(ctx, KeyGeminiAPIKey)
	if err != nil {
		return "", fmt.Errorf("failed to load API key: %w", err)
	}
	if !ok || strings.TrimSpace(key) == "" {
		key = k.seed
	}

	k.mu.Lock()
	k.cached = key
	k.loaded = true
	k.mu.Unlock()

	return key, nil
}

// RemoveKey deletes the stored key. The seed, if any, applies again.
func (k *KeyService) RemoveKey(ctx context.Context) error {
	if err := k.store.Remove(ctx, KeyGeminiAPIKey); err != nil {
		return fmt.Errorf("failed to remove API key: %w", err)
	}

	k.mu.Lock()
	k.cached = k.seed
	k.loaded = true
	k.mu.Unlock()

	k.logger.Info("API key removed")
	return nil
}

// APIKey implements repositories.APIKeySource
func (k *KeyService) APIKey(ctx context.Context) (string, error) {
	k.mu.RLock()
	key, loaded := k.cached, k.loaded
	k.mu.RUnlock()

	if loaded {
		return key, nil
	}
	return k.LoadKey(ctx)
}

// Configured reports whether any key is available
func (k *KeyService) Configured(ctx context.Context) (bool, error) {
	key, err := k.APIKey(ctx)
	if err != nil {
		return false, err
	}
	return key != "", nil
}
