package resolver

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores lookup results per normalized token.
// A cached empty slice is a remembered miss.
type Cache interface {
	Get(ctx context.Context, token string) ([]string, bool)
	Set(ctx context.Context, token string, urls []string)
}

// MemoryCache keeps results for the lifetime of the process
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]string)}
}

func (c *MemoryCache) Get(_ context.Context, token string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	urls, ok := c.entries[token]
	return urls, ok
}

func (c *MemoryCache) Set(_ context.Context, token string, urls []string) {
	stored := make([]string, len(urls))
	copy(stored, urls)
	c.mu.Lock()
	c.entries[token] = stored
	c.mu.Unlock()
}

// Len reports the number of cached tokens
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares lookup results between processes and restarts
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisCache(redisClient *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: redisClient, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, token string) ([]string, bool) {
	data, err := c.redis.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[resolver] redis cache read failed: %v", err)
		}
		return nil, false
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, false
	}
	return urls, true
}

func (c *RedisCache) Set(ctx context.Context, token string, urls []string) {
	if urls == nil {
		urls = []string{}
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cacheKey(token), data, c.ttl).Err(); err != nil {
		log.Printf("[resolver] redis cache write failed: %v", err)
	}
}

func cacheKey(token string) string {
	return "lookup:" + token
}

// TieredCache reads the in-process cache first and back-fills it from the
// shared layer on a hit there.
type TieredCache struct {
	local  *MemoryCache
	shared Cache
}

func NewTieredCache(local *MemoryCache, shared Cache) *TieredCache {
	return &TieredCache{local: local, shared: shared}
}

func (c *TieredCache) Get(ctx context.Context, token string) ([]string, bool) {
	if urls, ok := c.local.Get(ctx, token); ok {
		return urls, true
	}
	urls, ok := c.shared.Get(ctx, token)
	if ok {
		c.local.Set(ctx, token, urls)
	}
	return urls, ok
}

func (c *TieredCache) Set(ctx context.Context, token string, urls []string) {
	c.local.Set(ctx, token, urls)
	c.shared.Set(ctx, token, urls)
}
