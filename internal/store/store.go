package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/google/uuid"
)

// DBTX is an interface that abstracts the database access layer.
// It is implemented by both *sql.DB and *sql.Tx, allowing our code
// to work with either a database connection or a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskStore defines the interface for persisting task records and performing
// the engine's atomic state transitions.
//
// The at-least-once delivery model means any operation may be invoked more
// than once for the same task; StartProcessing is the single mechanism that
// prevents duplicate execution, and every other write is last-write-wins.
type TaskStore interface {
	// Create inserts a new pending task with progress 0.
	Create(ctx context.Context, task *domain.Task) error

	// CreateBatch inserts a set of sibling tasks atomically. Either every
	// sibling exists afterwards or none do.
	CreateBatch(ctx context.Context, tasks []*domain.Task) error

	// GetByID retrieves a task by its ID.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// StartProcessing attempts the pending→processing transition with a
	// single-row compare-and-set. On success it sets started_at to now and
	// progress to 10, and returns true. If the task is not currently
	// pending (another worker won the race, or the task is terminal) it
	// changes nothing and returns false.
	StartProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// UpdateProgress unconditionally writes a coarse progress percentage.
	UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error

	// Complete marks the task completed with the given output, sets
	// completed_at and progress 100. The write is unconditional: a late
	// result can land on a task that was cancelled while the generation
	// call was in flight. That overwrite is preserved current behavior,
	// flagged for design review.
	Complete(ctx context.Context, id uuid.UUID, output json.RawMessage) error

	// Fail marks the task failed with the given message and sets
	// completed_at. Unconditional, same caveat as Complete.
	Fail(ctx context.Context, id uuid.UUID, message string) error

	// Cancel performs an owner-checked cancellation. It returns
	// ErrTaskNotFound if the task does not exist, ErrNotOwner if ownerID
	// does not match, and ErrAlreadyTerminal if the task has already
	// completed or failed. Otherwise the task becomes cancelled with
	// completed_at set.
	Cancel(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error

	// GetPending returns up to limit pending tasks, oldest first.
	GetPending(ctx context.Context, limit int) ([]*domain.Task, error)

	// GetActive returns the owner's pending and processing tasks.
	GetActive(ctx context.Context, ownerID uuid.UUID) ([]*domain.Task, error)

	// GetByBatch returns all sibling tasks sharing the given batch ID.
	GetByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Task, error)

	// GetBatchProgress computes the derived per-status aggregate for a batch.
	GetBatchProgress(ctx context.Context, batchID uuid.UUID) (*domain.BatchProgress, error)

	// GetQueueStats returns task counts per status.
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)

	// ResetStuckTasks finds tasks stuck in processing longer than the
	// liveness threshold and resets them to pending with started_at
	// cleared and progress 0. Returns the number of tasks reclaimed.
	ResetStuckTasks(ctx context.Context, olderThan time.Duration) (int64, error)

	// Cleanup deletes completed and failed tasks older than the retention
	// window. Returns the number of tasks deleted.
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}
