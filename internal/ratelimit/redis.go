package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a fixed-window Counter backed by a shared Redis instance,
// making the window consistent across multiple server processes.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps an existing Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Allow implements Counter. INCR and EXPIRE NX run in one pipeline: the
// atomic increment decides admission, and the TTL is set only when the key
// has none, so the window is anchored to its first hit and is never extended
// by later traffic.
func (c *RedisCounter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := "ratelimit:" + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("bump rate limit counter: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}
