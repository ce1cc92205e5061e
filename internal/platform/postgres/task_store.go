package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/platform/logger"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/google/uuid"
)

// taskColumns is the canonical column list used by every SELECT so
// scanTask stays in sync with a single definition.
const taskColumns = `id, owner_id, type, status, progress, payload, output,
	error_message, batch_id, created_at, started_at, completed_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
type PostgresTaskStore struct {
	db *sql.DB
}

// NewPostgresTaskStore creates a PostgresTaskStore backed by the given
// connection pool.
func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// Verify PostgresTaskStore implements store.TaskStore.
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create inserts a new pending task.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	return s.insert(ctx, s.db, task)
}

// CreateBatch inserts the siblings of one batch atomically. Either every
// row exists afterwards or none do.
func (s *PostgresTaskStore) CreateBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		for _, task := range tasks {
			if err := s.insert(ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresTaskStore) insert(ctx context.Context, db store.DBTX, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, owner_id, type, status, progress, payload,
			output, error_message, batch_id, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.Type,
		task.Status,
		task.Progress,
		[]byte(task.Payload),
		nullableJSON(task.Output),
		task.ErrorMessage,
		task.BatchID,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		log.Error("failed to insert task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return mapError(fmt.Errorf("failed to insert task: %w", err))
	}

	return nil
}

// GetByID retrieves a task by ID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get task: %w", err))
	}
	return task, nil
}

// StartProcessing attempts the pending to processing transition with a
// single-row compare-and-set. Exactly one concurrent caller observes true.
func (s *PostgresTaskStore) StartProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = $1, progress = 10, started_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusProcessing,
		time.Now().UTC(),
		id,
		domain.TaskStatusPending,
	)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to claim task: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// UpdateProgress writes a coarse progress percentage.
func (s *PostgresTaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error {
	query := `UPDATE tasks SET progress = $1 WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, pct, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to update progress: %w", err))
	}
	return checkFound(result)
}

// Complete marks the task completed with its output. The write is
// unconditional so a late result lands even on a task cancelled while the
// generation call was in flight.
func (s *PostgresTaskStore) Complete(ctx context.Context, id uuid.UUID, output json.RawMessage) error {
	query := `
		UPDATE tasks
		SET status = $1, progress = 100, output = $2, completed_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusCompleted,
		nullableJSON(output),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to complete task: %w", err))
	}
	return checkFound(result)
}

// Fail marks the task failed with the given message.
func (s *PostgresTaskStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE tasks
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusFailed,
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to mark task failed: %w", err))
	}
	return checkFound(result)
}

// Cancel performs an owner-checked cancellation. The read and the
// conditional update are separate statements; the WHERE clause on the
// update keeps a racing completion from being clobbered in between.
func (s *PostgresTaskStore) Cancel(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.OwnerID != ownerID {
		return store.ErrNotOwner
	}
	if task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed {
		return store.ErrAlreadyTerminal
	}

	query := `
		UPDATE tasks
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusCancelled,
		time.Now().UTC(),
		id,
		domain.TaskStatusPending,
		domain.TaskStatusProcessing,
		domain.TaskStatusCancelled,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to cancel task: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// The task reached completed or failed between the read and the
		// update.
		return store.ErrAlreadyTerminal
	}
	return nil
}

// GetPending returns up to limit pending tasks, oldest first.
func (s *PostgresTaskStore) GetPending(ctx context.Context, limit int) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	return s.queryTasks(ctx, query, domain.TaskStatusPending, limit)
}

// GetActive returns the owner's pending and processing tasks.
func (s *PostgresTaskStore) GetActive(ctx context.Context, ownerID uuid.UUID) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE owner_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC
	`

	return s.queryTasks(ctx, query, ownerID, domain.TaskStatusPending, domain.TaskStatusProcessing)
}

// GetByBatch returns all sibling tasks sharing the batch ID.
func (s *PostgresTaskStore) GetByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE batch_id = $1
		ORDER BY created_at ASC
	`

	return s.queryTasks(ctx, query, batchID)
}

// GetBatchProgress computes the per-status aggregate for a batch.
func (s *PostgresTaskStore) GetBatchProgress(ctx context.Context, batchID uuid.UUID) (*domain.BatchProgress, error) {
	query := `SELECT status, COUNT(*) FROM tasks WHERE batch_id = $1 GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query batch progress: %w", err))
	}
	defer func() { _ = rows.Close() }()

	progress := &domain.BatchProgress{BatchID: batchID}
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan batch progress row: %w", err)
		}
		for i := 0; i < count; i++ {
			progress.Add(status)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch progress rows: %w", err)
	}

	return progress, nil
}

// GetQueueStats returns task counts per status.
func (s *PostgresTaskStore) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM tasks GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query queue stats: %w", err))
	}
	defer func() { _ = rows.Close() }()

	stats := &domain.QueueStats{}
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats row: %w", err)
		}
		switch status {
		case domain.TaskStatusPending:
			stats.Pending = count
		case domain.TaskStatusProcessing:
			stats.Processing = count
		case domain.TaskStatusCompleted:
			stats.Completed = count
		case domain.TaskStatusFailed:
			stats.Failed = count
		case domain.TaskStatusCancelled:
			stats.Cancelled = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue stats rows: %w", err)
	}

	return stats, nil
}

// ResetStuckTasks resets tasks stuck in processing longer than olderThan
// back to pending so the delivery paths pick them up again.
func (s *PostgresTaskStore) ResetStuckTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1, progress = 0, started_at = NULL
		WHERE status = $2 AND started_at < $3
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusPending,
		domain.TaskStatusProcessing,
		cutoff,
	)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to reset stuck tasks: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		log.Info("reset stuck tasks to pending", "count", rows, "cutoff", cutoff)
	}
	return rows, nil
}

// Cleanup deletes terminal completed and failed tasks older than the
// retention window.
func (s *PostgresTaskStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM tasks
		WHERE status IN ($1, $2) AND completed_at < $3
	`

	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.db.ExecContext(ctx, query,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		cutoff,
	)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to clean up tasks: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query tasks: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var payload, output []byte
	var errorMessage sql.NullString

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Type,
		&task.Status,
		&task.Progress,
		&payload,
		&output,
		&errorMessage,
		&task.BatchID,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = json.RawMessage(payload)
	if len(output) > 0 {
		task.Output = json.RawMessage(output)
	}
	if errorMessage.Valid {
		task.ErrorMessage = errorMessage.String
	}
	return &task, nil
}

// checkFound maps a zero-row update to ErrTaskNotFound.
func checkFound(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// nullableJSON maps empty JSON to NULL so the column stays queryable with
// IS NULL.
func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
