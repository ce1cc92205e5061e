package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore implements ratelimit.CounterStore on Redis so rate-limit
// windows are shared across service instances. INCR and EXPIRE run in a
// pipeline; the expiry is set only on the first increment of a window.
type CounterStore struct {
	client *redis.Client
}

// NewCounterStore creates a Redis-backed rate-limit counter store.
func NewCounterStore(client *redis.Client) *CounterStore {
	return &CounterStore{client: client}
}

// Incr increments the window-scoped counter for the key.
func (s *CounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	windowStart := time.Now().Truncate(window).Unix()
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val(), nil
}
