package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"eventnet/internal/microservices/tcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	store, err := NewRedisStore(ctx, url, "", ttl, nil)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}

	require.NoError(t, store.Clear(context.Background()))
	t.Cleanup(func() {
		store.Clear(context.Background())
		store.Close()
	})
	return store
}

func TestNilStoreIsNoop(t *testing.T) {
	var store *RedisStore
	ctx := context.Background()

	assert.NoError(t, store.Track(ctx, tcp.Client{ID: "c1"}))
	assert.NoError(t, store.Untrack(ctx, "c1"))
	assert.NoError(t, store.Clear(ctx))
	assert.NoError(t, store.Close())

	clients, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, clients)
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url", "", time.Hour, nil)
	assert.Error(t, err)
}

func TestTrackAndList(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := tcp.Client{ID: "a", IP: "127.0.0.1", Port: 5000, ConnectedAt: now}
	second := tcp.Client{ID: "b", IP: "10.0.0.2", Port: 6000, ConnectedAt: now.Add(time.Second)}

	require.NoError(t, store.Track(ctx, second))
	require.NoError(t, store.Track(ctx, first))

	clients, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "a", clients[0].ID)
	assert.Equal(t, 5000, clients[0].Port)
	assert.True(t, now.Equal(clients[0].ConnectedAt))
	assert.Equal(t, "b", clients[1].ID)

	require.NoError(t, store.Untrack(ctx, "a"))
	clients, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "b", clients[0].ID)
}

func TestTrackSetsTTL(t *testing.T) {
	store := newTestStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Track(ctx, tcp.Client{ID: "ttl", IP: "127.0.0.1", Port: 1, ConnectedAt: time.Now()}))

	ttl, err := store.client.TTL(ctx, clientKey("ttl")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestListPrunesExpiredClients(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Track(ctx, tcp.Client{ID: "gone", IP: "127.0.0.1", Port: 1, ConnectedAt: time.Now()}))
	require.NoError(t, store.client.Del(ctx, clientKey("gone")).Err())

	clients, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	member, err := store.client.SIsMember(ctx, clientSetKey, "gone").Result()
	require.NoError(t, err)
	assert.False(t, member)
}

func TestHooksFollowConnectionLifecycle(t *testing.T) {
	store := newTestStore(t, time.Hour)
	onConnect, onDisconnect := store.Hooks()

	c := tcp.Client{ID: "hooked", IP: "127.0.0.1", Port: 7000, ConnectedAt: time.Now()}
	onConnect(c)

	clients, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "hooked", clients[0].ID)

	onDisconnect(c)
	clients, err = store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clients)
}
