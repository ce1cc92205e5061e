package task

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Unit is one deferred piece of work the executor runs under its bound.
type Unit func(ctx context.Context) error

// UnitResult records the outcome of one unit. Every submitted unit produces
// exactly one result regardless of how its siblings fare.
type UnitResult struct {
	Index int
	Err   error
}

// Executor runs units with at most limit in flight at once. As soon as one
// unit finishes the next queued unit starts; completion order is not
// guaranteed. A failing or panicking unit never aborts its siblings.
type Executor struct {
	limit  int
	jitter time.Duration
	logger *slog.Logger
}

// NewExecutor creates an executor with the given in-flight bound. A limit
// below 1 is raised to 1. jitter, when positive, delays each unit's start by
// a uniformly random duration in [0, jitter) to avoid bursting downstream
// services.
func NewExecutor(limit int, jitter time.Duration, logger *slog.Logger) *Executor {
	if limit < 1 {
		logger.Warn("invalid executor limit, using 1", "specified_limit", limit)
		limit = 1
	}
	return &Executor{
		limit:  limit,
		jitter: jitter,
		logger: logger,
	}
}

// Run executes all units and blocks until every one has finished or the
// context is cancelled. The returned slice has one entry per unit, indexed
// like the input.
func (e *Executor) Run(ctx context.Context, units []Unit) []UnitResult {
	results := make([]UnitResult, len(units))
	sem := make(chan struct{}, e.limit)
	var wg sync.WaitGroup

	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit Unit) {
			defer wg.Done()

			if e.jitter > 0 {
				delay := time.Duration(rand.Int63n(int64(e.jitter)))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					results[i] = UnitResult{Index: i, Err: ctx.Err()}
					return
				}
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = UnitResult{Index: i, Err: ctx.Err()}
				return
			}

			results[i] = UnitResult{Index: i, Err: e.runUnit(ctx, unit)}
		}(i, unit)
	}

	wg.Wait()
	return results
}

// runUnit invokes one unit, converting a panic into a captured error so a
// misbehaving unit cannot take down the executor.
func (e *Executor) runUnit(ctx context.Context, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("unit panicked", "panic", r)
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return unit(ctx)
}
