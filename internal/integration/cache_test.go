package integration

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnectionListIsCachedUntilInvalidated(t *testing.T) {
	client := newRedis(t)
	repo := newMemoryRepo()
	counting := &countingRepo{memoryRepo: repo}
	svc := NewConnectionService(counting, testSealer(t), NewCache(client, time.Minute), nil, nil)
	ctx := context.Background()

	seedConnection(repo, 1, TypeXero, ConnectionConnected, time.Now())

	first, err := svc.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	_, err = svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), counting.lists.Load())

	_, err = svc.Connect(ctx, ConnectInput{TenantID: 1, Type: TypeCustomAPI})
	require.NoError(t, err)

	after, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, after, 2)
	assert.Equal(t, int32(2), counting.lists.Load())
}

func TestCachedConnectionsOmitCredentials(t *testing.T) {
	client := newRedis(t)
	repo := newMemoryRepo()
	cache := NewCache(client, time.Minute)
	svc := NewConnectionService(repo, testSealer(t), cache, nil, nil)
	ctx := context.Background()

	_, err := svc.Connect(ctx, ConnectInput{TenantID: 1, Type: TypeXero, Credentials: &Credentials{AccessToken: "secret-token"}})
	require.NoError(t, err)
	_, err = svc.List(ctx, 1)
	require.NoError(t, err)

	key, err := cache.Key(ctx, 1, EntityIntegrations, "list")
	require.NoError(t, err)
	raw, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, "credentials"))
}

func TestInvalidatePublishesEvents(t *testing.T) {
	client := newRedis(t)
	cache := NewCache(client, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan InvalidationEvent, 4)
	require.NoError(t, cache.Subscribe(ctx, func(evt InvalidationEvent) { events <- evt }))

	require.NoError(t, cache.Invalidate(ctx, 9, EntityPostingQueue))

	select {
	case evt := <-events:
		assert.Equal(t, int64(9), evt.TenantID)
		assert.Equal(t, EntityPostingQueue, evt.Entity)
		assert.Equal(t, int64(1), evt.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation event not received")
	}
}

func TestNilCacheIsPassthrough(t *testing.T) {
	var cache *Cache
	var out []string
	err := cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out)
	assert.NoError(t, cache.Invalidate(context.Background(), 1, EntityIntegrations))
}

type countingRepo struct {
	*memoryRepo
	lists atomic.Int32
}

func (c *countingRepo) ListConnections(ctx context.Context, tenantID int64) ([]Connection, error) {
	c.lists.Add(1)
	return c.memoryRepo.ListConnections(ctx, tenantID)
}
