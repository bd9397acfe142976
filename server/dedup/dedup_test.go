package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teilomillet/relay/config"
)

func TestMemoryStore_Seen(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	seen, err := store.Seen(ctx, 42)
	require.NoError(t, err)
	assert.False(t, seen, "first delivery")

	seen, err = store.Seen(ctx, 42)
	require.NoError(t, err)
	assert.True(t, seen, "redelivery")

	seen, _ = store.Seen(ctx, 43)
	assert.False(t, seen)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	seen, _ := store.Seen(ctx, 1)
	assert.False(t, seen)

	now = now.Add(59 * time.Second)
	seen, _ = store.Seen(ctx, 1)
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	seen, _ = store.Seen(ctx, 1)
	assert.False(t, seen, "expired IDs are accepted again")
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore(time.Second)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for id := int64(0); id < sweepEvery-1; id++ {
		_, _ = store.Seen(ctx, id)
	}
	assert.Equal(t, sweepEvery-1, store.Len())

	now = now.Add(time.Minute)
	_, _ = store.Seen(ctx, 10_000)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ConcurrentSeenReportsOnce(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if seen, _ := store.Seen(context.Background(), 7); !seen {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())
}

func TestNew(t *testing.T) {
	logger := zaptest.NewLogger(t)

	store, err := New(config.DedupConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = New(config.DedupConfig{Enabled: true, Backend: "memory", TTL: time.Minute}, logger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = New(config.DedupConfig{Enabled: true, Backend: "redis", TTL: time.Minute, RedisURL: "redis://localhost:6379/0"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, store)
	require.NoError(t, store.Close())

	_, err = New(config.DedupConfig{Enabled: true, Backend: "redis", TTL: time.Minute, RedisURL: "not a url"}, logger)
	assert.Error(t, err)

	_, err = New(config.DedupConfig{Enabled: true, Backend: "etcd", TTL: time.Minute}, logger)
	assert.Error(t, err)
}

func TestRedisStore_UnreachableServerErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStoreWithClient(rdb, time.Minute)
	defer store.Close()

	seen, err := store.Seen(context.Background(), 1)
	assert.Error(t, err)
	assert.False(t, seen)
}
