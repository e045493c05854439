package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewRedisCache(nil, nil)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewRedisCache(nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDeletePattern(t *testing.T) {
	c := NewRedisCache(nil, nil)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, AgentListKey(1, "all"), []int{1, 2}, 0))
	require.NoError(t, c.SetJSON(ctx, AgentListKey(1, "owned"), []int{1}, 0))
	require.NoError(t, c.SetJSON(ctx, AgentListKey(2, "all"), []int{3}, 0))

	require.NoError(t, c.DeletePattern(ctx, UserAgentsPattern(1)))

	var ids []int
	assert.ErrorIs(t, c.GetJSON(ctx, AgentListKey(1, "all"), &ids), ErrCacheMiss)
	assert.ErrorIs(t, c.GetJSON(ctx, AgentListKey(1, "owned"), &ids), ErrCacheMiss)
	require.NoError(t, c.GetJSON(ctx, AgentListKey(2, "all"), &ids))
	assert.Equal(t, []int{3}, ids)
}

func TestEvictionKeepsSizeBounded(t *testing.T) {
	c := NewRedisCache(nil, &CacheConfig{DefaultTTL: time.Minute, MaxMemoryItems: 10})
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Set(ctx, AccessKey(uint(i), "agent", 1), []byte("1"), 0))
	}
	assert.LessOrEqual(t, c.Stats().MemorySize, 10)
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("access:agent:1:*", "access:agent:1:user:5"))
	assert.False(t, matchPattern("access:agent:1:*", "access:agent:12:user:5"))
	assert.True(t, matchPattern("exact", "exact"))
	assert.False(t, matchPattern("exact", "exactly"))
}
