package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/satriahrh/omnichat/server/domain/repositories"
)

// DefaultKeyringService is the OS credential store service name
const DefaultKeyringService = "omnichat"

// KeyringStore keeps values in the OS credential store (Keychain, Secret
// Service, Windows Credential Manager), one account per key
type KeyringStore struct {
	service string
}

var _ repositories.KeyValueStore = (*KeyringStore)(nil)

// NewKeyringStore creates a store under service
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

func (k *KeyringStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	value, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyring get %s: %w", key, err)
	}
	return value, true, nil
}

func (k *KeyringStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, err)
	}
	return nil
}

func (k *KeyringStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %s: %w", key, err)
	}
	return nil
}
