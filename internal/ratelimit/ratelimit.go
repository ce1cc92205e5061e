// Package ratelimit implements a fixed-window request limiter keyed by an
// arbitrary string (the task creation endpoint keys it by owner). Counts
// live in a CounterStore so multi-instance deployments can share a Redis
// backend while tests and dev mode use the in-memory one.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CounterStore increments a counter scoped to the current fixed window
// and returns its new value. Implementations must expire counters once
// the window passes.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter enforces a per-key request budget per fixed window.
type Limiter struct {
	store  CounterStore
	limit  int64
	window time.Duration
}

// NewLimiter creates a limiter allowing limit requests per key per window.
func NewLimiter(store CounterStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: int64(limit), window: window}
}

// Allow reports whether the key has budget left in the current window.
// Store errors fail open: rejecting traffic because the counter backend
// hiccuped would hurt more than briefly overshooting the budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return true, fmt.Errorf("rate limit counter failed: %w", err)
	}
	return count <= l.limit, nil
}

// MemoryCounterStore is the in-process CounterStore used in dev mode and
// tests. Windows are aligned to wall-clock boundaries like the Redis
// implementation so behavior matches across backends.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	windowStart time.Time
	count       int64
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*windowCounter)}
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	windowStart := now.Truncate(window)

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || counter.windowStart.Before(windowStart) {
		counter = &windowCounter{windowStart: windowStart}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, nil
}
