package apicache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-task-platform/internal/cache/redis"
	"ai-task-platform/internal/cache/ristretto"
	"ai-task-platform/internal/cache/tiered"
	"ai-task-platform/internal/logger"
)

func newTestCache(t *testing.T) *Cache {
	backend, err := ristretto.New(1 << 20)
	require.NoError(t, err)
	t.Cleanup(backend.Close)
	return New(backend, "test_", time.Hour, logger.NewNop())
}

func TestKey_StableAcrossMapOrder(t *testing.T) {
	c := newTestCache(t)

	k1, err := c.Key("openai", "chat", map[string]any{"model": "gpt-4o", "max_tokens": 10, "temperature": 0.2})
	require.NoError(t, err)
	k2, err := c.Key("openai", "chat", map[string]any{"temperature": 0.2, "max_tokens": 10, "model": "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "test_openai_chat_"))
	assert.Len(t, strings.TrimPrefix(k1, "test_openai_chat_"), 32)

	k3, err := c.Key("openai", "chat", map[string]any{"model": "gpt-4o", "max_tokens": 11})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	params := map[string]any{"keywords": []string{"go"}}

	_, found, err := c.Get(ctx, "dataforseo", "search_volume", params)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "dataforseo", "search_volume", params, []byte(`{"ok":true}`), 0))
	val, found, err := c.Get(ctx, "dataforseo", "search_volume", params)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"ok":true}`, string(val))

	require.NoError(t, c.Delete(ctx, "dataforseo", "search_volume", params))
	_, found, err = c.Get(ctx, "dataforseo", "search_volume", params)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_GroupInvalidation(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	p1 := map[string]any{"q": 1}
	p2 := map[string]any{"q": 2}

	require.NoError(t, c.Set(ctx, "openai", "chat", p1, []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "openai", "chat", p2, []byte("b"), 0))
	require.NoError(t, c.Set(ctx, "openai", "embeddings", p1, []byte("c"), 0))
	require.NoError(t, c.Set(ctx, "dataforseo", "search_volume", p1, []byte("d"), 0))

	removed, err := c.ClearEndpoint(ctx, "openai", "chat")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	_, found, _ := c.Get(ctx, "openai", "chat", p1)
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "openai", "embeddings", p1)
	assert.True(t, found)

	removed, err = c.ClearService(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, _ = c.Get(ctx, "dataforseo", "search_volume", p1)
	assert.True(t, found)

	removed, err = c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, _ = c.Get(ctx, "dataforseo", "search_volume", p1)
	assert.False(t, found)

	removed, err = c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCache_LastWriterWins(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	params := map[string]any{"x": "y"}

	require.NoError(t, c.Set(ctx, "svc", "ep", params, []byte("first"), 0))
	require.NoError(t, c.Set(ctx, "svc", "ep", params, []byte("second"), 0))
	val, found, err := c.Get(ctx, "svc", "ep", params)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", string(val))

	removed, err := c.ClearService(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestCache_EndpointGroupsDoNotCollide(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a_b", "c", map[string]any{"q": 1}, []byte("x"), 0))
	require.NoError(t, c.Set(ctx, "a", "b_c", map[string]any{"q": 2}, []byte("y"), 0))
	require.NoError(t, c.Set(ctx, "a", "b", map[string]any{"q": 3}, []byte("z"), 0))

	removed, err := c.ClearEndpoint(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, _ := c.Get(ctx, "a_b", "c", map[string]any{"q": 1})
	assert.True(t, found)
	_, found, _ = c.Get(ctx, "a", "b_c", map[string]any{"q": 2})
	assert.True(t, found)

	removed, err = c.ClearService(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, _ = c.Get(ctx, "a_b", "c", map[string]any{"q": 1})
	assert.True(t, found)
}

func newSharedRedis(t *testing.T) (*miniredis.Miniredis, func() *redis.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, func() *redis.Cache {
		rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return redis.New(rdb)
	}
}

func TestCache_GroupsSharedThroughRedis(t *testing.T) {
	mr, connect := newSharedRedis(t)
	ctx := context.Background()
	worker := New(connect(), "test_", time.Hour, logger.NewNop())
	manager := New(connect(), "test_", time.Hour, logger.NewNop())
	p1 := map[string]any{"q": 1}
	p2 := map[string]any{"q": 2}

	require.NoError(t, worker.Set(ctx, "openai", "chat", p1, []byte("a"), 0))
	require.NoError(t, worker.Set(ctx, "openai", "embeddings", p1, []byte("b"), 0))
	require.NoError(t, worker.Set(ctx, "dataforseo", "search_volume", p2, []byte("c"), 0))
	assert.True(t, mr.Exists("test_group:service:openai"))

	removed, err := manager.ClearEndpoint(ctx, "openai", "chat")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, err := worker.Get(ctx, "openai", "chat", p1)
	require.NoError(t, err)
	assert.False(t, found)

	removed, err = manager.ClearService(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, _ = worker.Get(ctx, "openai", "embeddings", p1)
	assert.False(t, found)

	// a fresh process sees groups written before it started
	restarted := New(connect(), "test_", time.Hour, logger.NewNop())
	removed, err = restarted.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, found, _ = worker.Get(ctx, "dataforseo", "search_volume", p2)
	assert.False(t, found)
}

func TestCache_TieredGroupsClearAcrossProcesses(t *testing.T) {
	_, connect := newSharedRedis(t)
	ctx := context.Background()
	local := func() *ristretto.Cache {
		l1, err := ristretto.New(1 << 20)
		require.NoError(t, err)
		t.Cleanup(l1.Close)
		return l1
	}
	worker := New(tiered.New(local(), connect(), time.Minute), "test_", time.Hour, logger.NewNop())
	manager := New(tiered.New(local(), connect(), time.Minute), "test_", time.Hour, logger.NewNop())
	params := map[string]any{"q": 1}

	require.NoError(t, worker.Set(ctx, "openai", "chat", params, []byte("a"), 0))
	removed, err := manager.ClearService(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err := manager.Get(ctx, "openai", "chat", params)
	require.NoError(t, err)
	assert.False(t, found)
}
