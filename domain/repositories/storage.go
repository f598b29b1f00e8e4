package repositories

import "context"

// KeyValueStore persists small string values across restarts.
// Only single-key atomicity is assumed.
type KeyValueStore interface {
	// Get returns ok=false when key has no value
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Remove is a no-op for a missing key
	Remove(ctx context.Context, key string) error
}
