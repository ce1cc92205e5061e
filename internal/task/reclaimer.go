package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forgelight/imageforge/internal/store"
)

// ReclaimerConfig holds the maintenance sweep schedule.
type ReclaimerConfig struct {
	// Interval is how often the stuck-task sweep runs.
	Interval time.Duration

	// StuckAge is the liveness threshold: a processing task whose
	// started_at is older than this is presumed abandoned.
	StuckAge time.Duration

	// CleanupInterval is how often the retention sweep runs.
	// If zero, defaults to 12 hours.
	CleanupInterval time.Duration

	// Retention is how long terminal tasks are kept before deletion.
	Retention time.Duration
}

// Reclaimer periodically resets abandoned processing tasks back to pending
// and deletes terminal tasks past retention. It runs on a fixed schedule,
// independent of per-task triggers.
//
// Reclamation assumes generation is safe to retry; that contract lives with
// the generation and storage collaborators, not here.
type Reclaimer struct {
	store  store.TaskStore
	config ReclaimerConfig
	logger *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReclaimer creates a reclaimer with the given schedule.
func NewReclaimer(taskStore store.TaskStore, config ReclaimerConfig, logger *slog.Logger) *Reclaimer {
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 12 * time.Hour
	}
	return &Reclaimer{
		store:  taskStore,
		config: config,
		logger: logger.With("component", "reclaimer"),
	}
}

// Start launches the maintenance loop.
func (r *Reclaimer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop terminates the loop and waits for it to exit.
func (r *Reclaimer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reclaimer) run(ctx context.Context) {
	defer r.wg.Done()

	reclaimTicker := time.NewTicker(r.config.Interval)
	defer reclaimTicker.Stop()
	cleanupTicker := time.NewTicker(r.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-reclaimTicker.C:
			count, err := r.store.ResetStuckTasks(ctx, r.config.StuckAge)
			if err != nil {
				r.logger.Error("failed to reset stuck tasks", "error", err)
				continue
			}
			if count > 0 {
				tasksReclaimedTotal.Add(float64(count))
				r.logger.Info("reclaimed stuck tasks",
					"count", count,
					"stuck_age", r.config.StuckAge)
			}

		case <-cleanupTicker.C:
			count, err := r.store.Cleanup(ctx, r.config.Retention)
			if err != nil {
				r.logger.Error("retention cleanup failed", "error", err)
				continue
			}
			if count > 0 {
				tasksCleanedTotal.Add(float64(count))
				r.logger.Info("deleted expired terminal tasks",
					"count", count,
					"retention", r.config.Retention)
			}
		}
	}
}
