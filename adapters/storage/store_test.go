package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/repositories"
)

// exerciseStore runs the behaviour every KeyValueStore must share
func exerciseStore(t *testing.T, store repositories.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "@user_a_language")
	require.NoError(t, err)
	assert.False(t, ok, "missing key reports ok=false")

	require.NoError(t, store.Set(ctx, "@user_a_language", "hi"))
	value, ok, err := store.Get(ctx, "@user_a_language")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hi", value)

	require.NoError(t, store.Set(ctx, "@user_a_language", "ta"))
	value, _, err = store.Get(ctx, "@user_a_language")
	require.NoError(t, err)
	assert.Equal(t, "ta", value, "set overwrites")

	require.NoError(t, store.Set(ctx, "@user_b_language", ""))
	value, ok, err = store.Get(ctx, "@user_b_language")
	require.NoError(t, err)
	assert.True(t, ok, "empty value is still a value")
	assert.Equal(t, "", value)

	require.NoError(t, store.Remove(ctx, "@user_a_language"))
	_, ok, err = store.Get(ctx, "@user_a_language")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, store.Remove(ctx, "@never_set"), "removing a missing key is a no-op")

	assert.ErrorIs(t, store.Set(ctx, "", "x"), ErrEmptyKey)
	_, _, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "omnichat.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	exerciseStore(t, store)

	require.NoError(t, store.Set(context.Background(), "@gemini_api_key", "AIzaPersisted000000000"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get(context.Background(), "@gemini_api_key")
	require.NoError(t, err)
	assert.True(t, ok, "values survive reopening")
	assert.Equal(t, "AIzaPersisted000000000", value)
}

func TestSQLiteStoreInMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	exerciseStore(t, NewKeyringStore(""))
}

// Integration test - only runs if REDIS_ADDR is set
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test - REDIS_ADDR not set")
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))

	store, err := NewRedisStore(RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Prefix:   "omnichat_test:",
	})
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
	store.Remove(context.Background(), "@user_b_language")
}

// Integration test - only runs if MONGODB_URI is set
func TestMongoStore_Integration(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	store, err := NewMongoStore(MongoConfig{URI: uri, Database: "omnichat_test"}, zap.NewNop())
	require.NoError(t, err)
	defer func() {
		store.collection.Database().Drop(ctx)
		store.Close(ctx)
	}()

	exerciseStore(t, store)
}
