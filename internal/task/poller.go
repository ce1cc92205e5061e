package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgelight/imageforge/internal/store"
)

// PollerConfig holds the polling fallback settings.
type PollerConfig struct {
	// Interval is how often the sweep pulls pending tasks.
	Interval time.Duration

	// BatchSize caps how many pending tasks one sweep pulls.
	BatchSize int

	// Concurrency bounds the sweep's executor.
	Concurrency int
}

// Poller is the delivery path when no broker is configured: a periodic
// sweep that pulls pending tasks and runs them through a bounded executor
// with startup jitter. The processor's compare-and-set keeps overlapping
// sweeps (or a poller racing a broker consumer) from double-executing a
// task.
type Poller struct {
	store   store.TaskStore
	process ProcessFunc
	config  PollerConfig
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller creates a polling dispatcher.
func NewPoller(taskStore store.TaskStore, process ProcessFunc, config PollerConfig, logger *slog.Logger) *Poller {
	return &Poller{
		store:   taskStore,
		process: process,
		config:  config,
		logger:  logger.With("component", "poller"),
	}
}

// Start launches the sweep loop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx)
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	pending, err := p.store.GetPending(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("failed to fetch pending tasks", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	p.logger.Debug("sweeping pending tasks", "count", len(pending))

	executor := NewExecutor(p.config.Concurrency, BatchStartJitter, p.logger)
	units := make([]Unit, len(pending))
	for i, t := range pending {
		id := t.ID
		units[i] = func(ctx context.Context) error {
			return p.process(ctx, id)
		}
	}

	for _, res := range executor.Run(ctx, units) {
		if res.Err != nil {
			p.logger.Error("polled task execution failed",
				"task_id", pending[res.Index].ID,
				"error", res.Err)
		}
	}
}
