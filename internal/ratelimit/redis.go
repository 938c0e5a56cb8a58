package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements a fixed-window counter in Redis, so several
// processes sharing one Redis instance can hold a common budget rather than
// each an independent in-memory bucket. cmd/server and cmd/worker do not
// construct one; both use ShardedLimiter.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter builds a limiter against client, namespacing its keys
// under prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "mindia:ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow increments the counter for key within the current window and
// reports whether the caller stayed within limit. A window is a fixed
// wall-clock bucket identified by its start time, so all processes sharing
// a Redis instance agree on its boundaries without coordination.
func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	windowStart := time.Now().Truncate(window)
	redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, windowStart.Unix())

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}
	if int(count) > limit {
		retryAfter := windowStart.Add(window).Sub(time.Now())
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	return true, 0, nil
}
