package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "interactions:"

// Counter counts interactions in a window that starts at the first hit.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter keeps counters in redis so every replica shares them.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Increment bumps the counter; the first hit of a window starts its expiry.
func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	key = counterKeyPrefix + key
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// MemoryCounter keeps counters in process memory.
type MemoryCounter struct {
	mu    sync.Mutex
	store *cache.Cache
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{store: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (c *MemoryCounter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	key = counterKeyPrefix + key
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Add(key, int64(1), window); err == nil {
		return 1, nil
	}
	count, err := c.store.IncrementInt64(key, 1)
	if err != nil {
		return 0, errors.Join(errors.New("access: increment counter"), err)
	}
	return count, nil
}
