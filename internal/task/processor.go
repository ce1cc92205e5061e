package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/events"
	"github.com/forgelight/imageforge/internal/generation"
	"github.com/forgelight/imageforge/internal/platform/logger"
	"github.com/forgelight/imageforge/internal/storage"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/google/uuid"
)

// errStoreOp marks task store failures. They are transport-level: the
// processor lets them propagate to the dispatcher for redelivery instead of
// converting them into a failed task record.
var errStoreOp = errors.New("task store operation failed")

// Common processor construction errors.
var (
	ErrNilStore     = errors.New("task store cannot be nil")
	ErrNilGenerator = errors.New("generator cannot be nil")
	ErrNilArtifacts = errors.New("artifact store cannot be nil")
	ErrNilLogger    = errors.New("logger cannot be nil")
)

// Processor executes one task at a time by ID: it claims the task with the
// store's compare-and-set, dispatches on the task type, and converts every
// business failure into a failed task record. Invocations for distinct task
// IDs are independent and may run concurrently.
type Processor struct {
	store       store.TaskStore
	generator   generation.Generator
	artifacts   storage.ArtifactStore
	resolver    TemplateResolver
	coordinator *Coordinator
	emitter     events.Emitter
	logger      *slog.Logger
}

// NewProcessor creates a task processor. resolver may be nil, in which case
// the inline {{var}} resolver is used. emitter may be nil when no observers
// are wired (tests).
func NewProcessor(
	taskStore store.TaskStore,
	generator generation.Generator,
	artifacts storage.ArtifactStore,
	resolver TemplateResolver,
	emitter events.Emitter,
	log *slog.Logger,
) (*Processor, error) {
	if taskStore == nil {
		return nil, ErrNilStore
	}
	if generator == nil {
		return nil, ErrNilGenerator
	}
	if artifacts == nil {
		return nil, ErrNilArtifacts
	}
	if log == nil {
		return nil, ErrNilLogger
	}
	if resolver == nil {
		resolver = InlineResolver{}
	}

	return &Processor{
		store:       taskStore,
		generator:   generator,
		artifacts:   artifacts,
		resolver:    resolver,
		coordinator: NewCoordinator(taskStore, log),
		emitter:     emitter,
		logger:      log,
	}, nil
}

// Coordinator exposes the processor's batch coordinator so the API layer can
// expand product-shot fan-outs directly.
func (p *Processor) Coordinator() *Coordinator {
	return p.coordinator
}

// Process executes the task with the given ID.
//
// Duplicate invocations are safe: a task that is already terminal is a
// no-op, and a pending task is claimed through the store's compare-and-set,
// so under at-least-once delivery exactly one worker executes it. Only task
// store errors are returned; generation and storage failures end up on the
// task record.
func (p *Processor) Process(ctx context.Context, taskID uuid.UUID) error {
	task, err := p.store.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("%w: load %s: %v", errStoreOp, taskID, err)
	}

	log := p.logger.With("task_id", task.ID, "task_type", task.Type)
	ctx = logger.WithContext(ctx, log)

	switch task.Status {
	case domain.TaskStatusPending:
		won, err := p.store.StartProcessing(ctx, taskID)
		if err != nil {
			return fmt.Errorf("%w: claim %s: %v", errStoreOp, taskID, err)
		}
		if !won {
			log.Debug("lost claim race, skipping")
			return nil
		}
		now := time.Now().UTC()
		task.Status = domain.TaskStatusProcessing
		task.StartedAt = &now
		task.Progress = 10
		p.emit(ctx, task)

	case domain.TaskStatusProcessing:
		// Already claimed; a redelivered message resumes execution. The
		// reclaimer covers claims whose worker died.
		log.Info("resuming claimed task")

	default:
		log.Debug("task already terminal, skipping", "status", task.Status)
		return nil
	}

	tasksInFlight.Inc()
	start := time.Now()
	defer func() {
		tasksInFlight.Dec()
		taskDuration.Observe(time.Since(start).Seconds())
	}()

	log.Info("processing task")

	var procErr error
	switch task.Type {
	case domain.TaskTypeSingle, domain.TaskTypeProductShot:
		procErr = p.processSingle(ctx, task)
	case domain.TaskTypeBatchParent:
		procErr = p.processBatchParent(ctx, task)
	default:
		procErr = fmt.Errorf("unknown task type %q", task.Type)
	}

	if procErr != nil {
		if errors.Is(procErr, errStoreOp) {
			return procErr
		}

		// Business failure: terminal, recorded on the task, never
		// retried by the engine itself.
		log.Error("task execution failed", "error", procErr)
		if err := p.store.Fail(ctx, taskID, procErr.Error()); err != nil {
			return fmt.Errorf("%w: fail %s: %v", errStoreOp, taskID, err)
		}
		task.Status = domain.TaskStatusFailed
		task.ErrorMessage = procErr.Error()
		p.emit(ctx, task)
		tasksProcessedTotal.WithLabelValues(string(task.Type), string(domain.TaskStatusFailed)).Inc()
		return nil
	}

	tasksProcessedTotal.WithLabelValues(string(task.Type), string(domain.TaskStatusCompleted)).Inc()
	return nil
}

// processSingle generates one image and persists it. Used for both single
// tasks and product-shot siblings; the latter carry an angle in their
// payload.
func (p *Processor) processSingle(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	var input SingleInput
	if err := json.Unmarshal(task.Payload, &input); err != nil {
		return fmt.Errorf("invalid task payload: %v", err)
	}

	prompt := input.Prompt
	if input.Template != "" {
		resolved, err := p.resolver.Resolve(ctx, input.Template, input.Variables)
		if err != nil {
			return fmt.Errorf("template resolution failed: %v", err)
		}
		prompt = resolved
	}

	p.progress(ctx, task, 25)

	artifact, err := p.generator.Generate(ctx, generation.Request{
		Prompt:         prompt,
		NegativePrompt: input.NegativePrompt,
		Angle:          input.Angle,
		AspectRatio:    input.AspectRatio,
	})
	if err != nil {
		return err
	}

	p.progress(ctx, task, 70)

	ref, err := p.artifacts.Persist(ctx, task.ID, artifact)
	if err != nil {
		return fmt.Errorf("failed to persist artifact: %v", err)
	}

	output, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact reference: %v", err)
	}

	if err := p.store.Complete(ctx, task.ID, output); err != nil {
		return fmt.Errorf("%w: complete %s: %v", errStoreOp, task.ID, err)
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusCompleted
	task.Output = output
	task.Progress = 100
	task.CompletedAt = &now
	p.emit(ctx, task)

	log.Info("task completed")
	return nil
}

// processBatchParent expands the batch into siblings, completes the parent
// as a planning record, and drives the siblings under the batch's clamped
// concurrency. Sibling outcomes are independent of the parent and of each
// other.
func (p *Processor) processBatchParent(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	var input BatchInput
	if err := json.Unmarshal(task.Payload, &input); err != nil {
		return fmt.Errorf("invalid batch payload: %v", err)
	}

	siblings, batchID, err := p.coordinator.ExpandBatch(ctx, task, input)
	if err != nil {
		if errors.Is(err, ErrNoVariants) {
			return err
		}
		return fmt.Errorf("%w: expand batch %s: %v", errStoreOp, task.ID, err)
	}

	concurrency := ClampConcurrency(input.Concurrency)
	siblingIDs := make([]uuid.UUID, len(siblings))
	for i, s := range siblings {
		siblingIDs[i] = s.ID
	}

	output, err := json.Marshal(BatchOutput{
		BatchID:     batchID,
		SiblingIDs:  siblingIDs,
		Concurrency: concurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal batch output: %v", err)
	}

	// The parent is done once its siblings exist, regardless of how the
	// siblings fare.
	if err := p.store.Complete(ctx, task.ID, output); err != nil {
		return fmt.Errorf("%w: complete parent %s: %v", errStoreOp, task.ID, err)
	}

	now := time.Now().UTC()
	task.Status = domain.TaskStatusCompleted
	task.Output = output
	task.Progress = 100
	task.CompletedAt = &now
	task.BatchID = &batchID
	p.emit(ctx, task)

	log.Info("batch parent completed, running siblings",
		"batch_id", batchID,
		"siblings", len(siblings),
		"concurrency", concurrency)

	p.coordinator.RunSiblings(ctx, siblings, concurrency, p.Process)
	return nil
}

// progress records a coarse progress update and announces it. Progress
// write failures are logged but do not abort the task: losing a progress
// tick is cheaper than failing a generation that is already paid for.
func (p *Processor) progress(ctx context.Context, task *domain.Task, pct int) {
	if err := p.store.UpdateProgress(ctx, task.ID, pct); err != nil {
		logger.FromContext(ctx).Warn("failed to update progress",
			"progress", pct,
			"error", err)
		return
	}
	task.Progress = pct
	p.emit(ctx, task)
}

func (p *Processor) emit(ctx context.Context, task *domain.Task) {
	if p.emitter == nil {
		return
	}
	if err := p.emitter.Emit(ctx, events.NewTaskStatusEvent(task)); err != nil {
		logger.FromContext(ctx).Warn("failed to emit status event", "error", err)
	}
}
