// Package cache provides a Redis-backed cache with an in-memory fallback.
// Used for agent listings and sharing access decisions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// RedisClient is the subset of Redis operations the cache needs
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

type cacheEntry struct {
	Value     []byte
	ExpiresAt time.Time
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	DefaultTTL     time.Duration
	MaxMemoryItems int
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DefaultTTL:     30 * time.Second,
		MaxMemoryItems: 10000,
	}
}

// RedisCache reads and writes Redis when a client is configured and
// falls back to process memory otherwise (or when Redis errors).
type RedisCache struct {
	memCache map[string]*cacheEntry
	memMu    sync.RWMutex

	redisClient RedisClient

	defaultTTL time.Duration
	maxMemSize int

	hits    int64
	misses  int64
	statsMu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRedisCache creates a cache. client may be nil for memory-only operation.
func NewRedisCache(client RedisClient, config *CacheConfig) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	c := &RedisCache{
		memCache:    make(map[string]*cacheEntry),
		redisClient: client,
		defaultTTL:  config.DefaultTTL,
		maxMemSize:  config.MaxMemoryItems,
		stop:        make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.redisClient != nil {
		val, err := c.redisClient.Get(ctx, key)
		if err == nil {
			c.record(true)
			return []byte(val), nil
		}
	}

	c.memMu.RLock()
	entry, exists := c.memCache[key]
	c.memMu.RUnlock()

	if !exists || time.Now().After(entry.ExpiresAt) {
		c.record(false)
		return nil, ErrCacheMiss
	}

	c.record(true)
	return entry.Value, nil
}

// Set stores a value with ttl (0 means the default TTL)
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if c.redisClient != nil {
		if err := c.redisClient.Set(ctx, key, string(value), ttl); err == nil {
			return nil
		}
	}

	c.memMu.Lock()
	defer c.memMu.Unlock()

	if len(c.memCache) >= c.maxMemSize {
		c.evict()
	}
	c.memCache[key] = &cacheEntry{Value: value, ExpiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if c.redisClient != nil {
		_ = c.redisClient.Del(ctx, key)
	}

	c.memMu.Lock()
	delete(c.memCache, key)
	c.memMu.Unlock()
	return nil
}

// DeletePattern removes all keys matching a trailing-* pattern
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	if c.redisClient != nil {
		keys, err := c.redisClient.Keys(ctx, pattern)
		if err == nil && len(keys) > 0 {
			_ = c.redisClient.Del(ctx, keys...)
		}
	}

	c.memMu.Lock()
	defer c.memMu.Unlock()
	for key := range c.memCache {
		if matchPattern(pattern, key) {
			delete(c.memCache, key)
		}
	}
	return nil
}

// GetJSON retrieves and unmarshals a JSON value
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals and stores a JSON value
func (c *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// CacheStats holds cache statistics
type CacheStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRatio   float64 `json:"hit_ratio"`
	MemorySize int     `json:"memory_size"`
}

// Stats returns cache statistics
func (c *RedisCache) Stats() CacheStats {
	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	c.memMu.RLock()
	memSize := len(c.memCache)
	c.memMu.RUnlock()

	ratio := float64(0)
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return CacheStats{Hits: hits, Misses: misses, HitRatio: ratio, MemorySize: memSize}
}

// Close stops the cleanup loop and closes the Redis client
func (c *RedisCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

func (c *RedisCache) record(hit bool) {
	c.statsMu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.statsMu.Unlock()
}

// evict drops expired entries first, then arbitrary ones, until 10% is freed.
// Caller holds memMu.
func (c *RedisCache) evict() {
	toEvict := c.maxMemSize / 10
	if toEvict < 1 {
		toEvict = 1
	}

	now := time.Now()
	evicted := 0
	for key, entry := range c.memCache {
		if evicted >= toEvict {
			return
		}
		if now.After(entry.ExpiresAt) {
			delete(c.memCache, key)
			evicted++
		}
	}
	for key := range c.memCache {
		if evicted >= toEvict {
			return
		}
		delete(c.memCache, key)
		evicted++
	}
}

func (c *RedisCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *RedisCache) cleanup() {
	c.memMu.Lock()
	defer c.memMu.Unlock()

	now := time.Now()
	for key, entry := range c.memCache {
		if now.After(entry.ExpiresAt) {
			delete(c.memCache, key)
		}
	}
}

// matchPattern supports exact keys and a single trailing *
func matchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

// Cache key builders

// AgentListKey caches the agents visible to a user for a given scope
func AgentListKey(userID uint, scope string) string {
	return fmt.Sprintf("agents:user:%d:%s", userID, scope)
}

// UserAgentsPattern matches every agent listing cached for a user
func UserAgentsPattern(userID uint) string {
	return fmt.Sprintf("agents:user:%d:*", userID)
}

// AccessKey caches a sharing access decision
func AccessKey(userID uint, resourceType string, resourceID uint) string {
	return fmt.Sprintf("access:%s:%d:user:%d", resourceType, resourceID, userID)
}

// ResourceAccessPattern matches every cached decision for one resource
func ResourceAccessPattern(resourceType string, resourceID uint) string {
	return fmt.Sprintf("access:%s:%d:*", resourceType, resourceID)
}

// DashboardKey caches a user's dashboard summary
func DashboardKey(userID uint) string {
	return fmt.Sprintf("dashboard:user:%d", userID)
}
