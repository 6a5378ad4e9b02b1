package intent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/convoflow/internal/pkg/logger"
)

const cacheKeyPrefixRunes = 100

// CacheKey builds the (user, message prefix) key.
func CacheKey(userID, message string) string {
	r := []rune(message)
	if len(r) > cacheKeyPrefixRunes {
		r = r[:cacheKeyPrefixRunes]
	}
	return userID + "|" + string(r)
}

// Cache stores recent classifications.
type Cache interface {
	Get(ctx context.Context, key string) (*Intent, bool)
	Set(ctx context.Context, key string, in *Intent, ttl time.Duration)
}

type memoryEntry struct {
	intent  *Intent
	expires time.Time
}

// MemoryCache is an in-process TTL cache. Hits return the stored pointer.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.intent, true
}

func (c *MemoryCache) Set(_ context.Context, key string, in *Intent, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	// Sweep expired entries once the map grows.
	if len(c.entries) > 1024 {
		for k, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[key] = memoryEntry{intent: in, expires: now.Add(ttl)}
}

// RedisCache shares classifications across processes as JSON values.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache under the "intent:" key prefix.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "intent:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Intent, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("intent cache get failed", "error", err.Error())
		}
		return nil, false
	}
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, false
	}
	return &in, true
}

func (c *RedisCache) Set(ctx context.Context, key string, in *Intent, ttl time.Duration) {
	data, err := json.Marshal(in)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		logger.Warn("intent cache set failed", "error", err.Error())
	}
}
