package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/internal/testutil"
)

func TestRedisCacheRepo_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client)
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		key := "jobdef:doc:optics-health"
		doc := []byte(`{"id":"optics-health","enabled":true}`)

		require.NoError(t, repo.Set(ctx, key, doc, 5*time.Minute))

		got, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, doc, got)

		ttl := client.TTL(ctx, key).Val()
		assert.True(t, ttl > 0 && ttl <= 5*time.Minute, "expected bounded TTL, got %v", ttl)
	})

	t.Run("set overwrites previous value", func(t *testing.T) {
		key := "jobdef:doc:bgp-peers"

		require.NoError(t, repo.Set(ctx, key, []byte(`{"rev":1}`), time.Minute))
		require.NoError(t, repo.Set(ctx, key, []byte(`{"rev":2}`), time.Minute))

		got, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"rev":2}`), got)
	})

	t.Run("zero ttl stores without expiry", func(t *testing.T) {
		key := "jobdef:doc:pinned"

		require.NoError(t, repo.Set(ctx, key, []byte("pinned"), 0))
		t.Cleanup(func() { client.Del(context.Background(), key) })

		// Redis reports -1 for keys with no expiry.
		assert.Equal(t, time.Duration(-1), client.TTL(ctx, key).Val())
	})

	t.Run("miss is nil not error", func(t *testing.T) {
		got, err := repo.Get(ctx, "jobdef:doc:never-written")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		key := "jobdef:doc:retired"
		require.NoError(t, repo.Set(ctx, key, []byte("old"), time.Minute))

		removed, err := repo.Delete(ctx, key)
		require.NoError(t, err)
		assert.True(t, removed)

		got, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got)

		removed, err = repo.Delete(ctx, key)
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestRedisCacheRepo_RejectsEmptyKey(t *testing.T) {
	// Empty keys fail before any Redis round trip, so no server is needed.
	repo := NewRedisCacheRepo(nil)
	ctx := context.Background()

	err := repo.Set(ctx, "", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, errEmptyCacheKey)

	_, err = repo.Get(ctx, "")
	assert.ErrorIs(t, err, errEmptyCacheKey)

	_, err = repo.Delete(ctx, "")
	assert.ErrorIs(t, err, errEmptyCacheKey)
}
