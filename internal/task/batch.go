package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/google/uuid"
)

// Concurrency bounds for batch execution. The cap exists to protect the
// rate-limited, paid generation API.
const (
	MinConcurrency = 1
	MaxConcurrency = 5
)

// BatchStartJitter is the per-sibling randomized startup delay, uniform in
// [0, BatchStartJitter), applied so a batch does not burst the external API.
const BatchStartJitter = 800 * time.Millisecond

// Common coordinator errors.
var (
	ErrNoVariants = errors.New("batch must request at least one variant")
	ErrNoAngles   = errors.New("product shot must request at least one angle")
)

// ProcessFunc executes one task by ID. The coordinator drives siblings
// through it without depending on the processor type directly.
type ProcessFunc func(ctx context.Context, taskID uuid.UUID) error

// ClampConcurrency bounds a requested concurrency to [MinConcurrency,
// MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Coordinator expands one logical batch request into sibling task records
// sharing a batch ID and drives their execution under a concurrency bound.
type Coordinator struct {
	store  store.TaskStore
	logger *slog.Logger
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(taskStore store.TaskStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  taskStore,
		logger: logger.With("component", "batch_coordinator"),
	}
}

// ExpandBatch creates one single-type sibling per requested variant, all
// sharing a fresh batch ID. The siblings are inserted atomically and
// returned in creation order.
func (c *Coordinator) ExpandBatch(ctx context.Context, parent *domain.Task, input BatchInput) ([]*domain.Task, uuid.UUID, error) {
	if input.Variants < 1 {
		return nil, uuid.Nil, ErrNoVariants
	}

	batchID := uuid.New()
	siblings := make([]*domain.Task, 0, input.Variants)
	for i := 0; i < input.Variants; i++ {
		payload, err := json.Marshal(SingleInput{
			Prompt:         input.Prompt,
			Template:       input.Template,
			Variables:      input.Variables,
			NegativePrompt: input.NegativePrompt,
			AspectRatio:    input.AspectRatio,
		})
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to marshal sibling payload: %w", err)
		}

		sibling, err := domain.NewTask(parent.OwnerID, domain.TaskTypeSingle, payload, &batchID)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to build sibling task: %w", err)
		}
		siblings = append(siblings, sibling)
	}

	if err := c.store.CreateBatch(ctx, siblings); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to create batch siblings: %w", err)
	}

	c.logger.Info("batch expanded",
		"parent_id", parent.ID,
		"batch_id", batchID,
		"siblings", len(siblings))

	return siblings, batchID, nil
}

// ExpandProductShot creates one product-shot sibling per requested angle,
// sharing a fresh batch ID. No parent wrapper record is created; the
// returned siblings are the batch.
func (c *Coordinator) ExpandProductShot(ctx context.Context, ownerID uuid.UUID, input ProductShotInput) ([]*domain.Task, uuid.UUID, error) {
	if len(input.Angles) == 0 {
		return nil, uuid.Nil, ErrNoAngles
	}

	batchID := uuid.New()
	siblings := make([]*domain.Task, 0, len(input.Angles))
	for _, angle := range input.Angles {
		payload, err := json.Marshal(SingleInput{
			Prompt:         input.Prompt,
			Template:       input.Template,
			Variables:      input.Variables,
			NegativePrompt: input.NegativePrompt,
			AspectRatio:    input.AspectRatio,
			Angle:          angle,
		})
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to marshal sibling payload: %w", err)
		}

		sibling, err := domain.NewTask(ownerID, domain.TaskTypeProductShot, payload, &batchID)
		if err != nil {
			return nil, uuid.Nil, fmt.Errorf("failed to build sibling task: %w", err)
		}
		siblings = append(siblings, sibling)
	}

	if err := c.store.CreateBatch(ctx, siblings); err != nil {
		return nil, uuid.Nil, fmt.Errorf("failed to create product shot siblings: %w", err)
	}

	c.logger.Info("product shot expanded",
		"batch_id", batchID,
		"angles", len(siblings))

	return siblings, batchID, nil
}

// RunSiblings drives the siblings through a bounded executor with startup
// jitter. Each sibling's outcome is written to its own task record by the
// process function; one sibling's failure never aborts the others.
func (c *Coordinator) RunSiblings(ctx context.Context, siblings []*domain.Task, concurrency int, process ProcessFunc) []UnitResult {
	limit := ClampConcurrency(concurrency)
	executor := NewExecutor(limit, BatchStartJitter, c.logger)

	units := make([]Unit, len(siblings))
	for i, sibling := range siblings {
		id := sibling.ID
		units[i] = func(ctx context.Context) error {
			return process(ctx, id)
		}
	}

	results := executor.Run(ctx, units)
	for _, res := range results {
		if res.Err != nil {
			c.logger.Error("sibling execution failed",
				"task_id", siblings[res.Index].ID,
				"error", res.Err)
		}
	}
	return results
}
