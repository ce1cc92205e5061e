package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/google/uuid"
)

// MemoryTaskStore is a mutex-guarded in-memory TaskStore. It backs dev mode
// when no database is configured and is the store used by engine tests.
// All returned tasks are copies; callers never share memory with the store.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

var _ TaskStore = (*MemoryTaskStore)(nil)

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.BatchID != nil {
		id := *t.BatchID
		c.BatchID = &id
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	c.Output = append(json.RawMessage(nil), t.Output...)
	return &c
}

// Create inserts a new pending task.
func (s *MemoryTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

// CreateBatch inserts sibling tasks. The single mutex makes the insert
// atomic with respect to every other store operation.
func (s *MemoryTaskStore) CreateBatch(ctx context.Context, tasks []*domain.Task) error {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = cloneTask(t)
	}
	return nil
}

// GetByID retrieves a task by ID.
func (s *MemoryTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// StartProcessing performs the pending→processing compare-and-set.
func (s *MemoryTaskStore) StartProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return false, nil
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusProcessing
	t.StartedAt = &now
	t.Progress = 10
	return true, nil
}

// UpdateProgress unconditionally writes the progress percentage.
func (s *MemoryTaskStore) UpdateProgress(ctx context.Context, id uuid.UUID, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Progress = pct
	return nil
}

// Complete marks the task completed with the given output.
func (s *MemoryTaskStore) Complete(ctx context.Context, id uuid.UUID, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusCompleted
	t.Output = append(json.RawMessage(nil), output...)
	t.CompletedAt = &now
	t.Progress = 100
	return nil
}

// Fail marks the task failed with the given message.
func (s *MemoryTaskStore) Fail(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusFailed
	t.ErrorMessage = message
	t.CompletedAt = &now
	return nil
}

// Cancel performs an owner-checked cancellation.
func (s *MemoryTaskStore) Cancel(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.OwnerID != ownerID {
		return ErrNotOwner
	}
	if t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed {
		return ErrAlreadyTerminal
	}

	now := time.Now().UTC()
	t.Status = domain.TaskStatusCancelled
	t.CompletedAt = &now
	return nil
}

// GetPending returns up to limit pending tasks, oldest first.
func (s *MemoryTaskStore) GetPending(ctx context.Context, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusPending {
			pending = append(pending, cloneTask(t))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// GetActive returns the owner's pending and processing tasks.
func (s *MemoryTaskStore) GetActive(ctx context.Context, ownerID uuid.UUID) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*domain.Task
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		if t.Status == domain.TaskStatusPending || t.Status == domain.TaskStatusProcessing {
			active = append(active, cloneTask(t))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// GetByBatch returns all sibling tasks sharing the given batch ID.
func (s *MemoryTaskStore) GetByBatch(ctx context.Context, batchID uuid.UUID) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var siblings []*domain.Task
	for _, t := range s.tasks {
		if t.BatchID != nil && *t.BatchID == batchID {
			siblings = append(siblings, cloneTask(t))
		}
	}
	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
	})
	return siblings, nil
}

// GetBatchProgress computes the derived aggregate for a batch.
func (s *MemoryTaskStore) GetBatchProgress(ctx context.Context, batchID uuid.UUID) (*domain.BatchProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress := &domain.BatchProgress{BatchID: batchID}
	for _, t := range s.tasks {
		if t.BatchID != nil && *t.BatchID == batchID {
			progress.Add(t.Status)
		}
	}
	return progress, nil
}

// GetQueueStats returns task counts per status.
func (s *MemoryTaskStore) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.QueueStats{}
	for _, t := range s.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			stats.Pending++
		case domain.TaskStatusProcessing:
			stats.Processing++
		case domain.TaskStatusCompleted:
			stats.Completed++
		case domain.TaskStatusFailed:
			stats.Failed++
		case domain.TaskStatusCancelled:
			stats.Cancelled++
		}
		stats.Total++
	}
	return stats, nil
}

// ResetStuckTasks reclaims processing tasks whose started_at is older than
// the threshold.
func (s *MemoryTaskStore) ResetStuckTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var count int64
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusProcessing {
			continue
		}
		if t.StartedAt == nil || t.StartedAt.After(cutoff) {
			continue
		}
		t.Status = domain.TaskStatusPending
		t.StartedAt = nil
		t.Progress = 0
		count++
	}
	return count, nil
}

// Cleanup deletes completed and failed tasks older than the retention window.
func (s *MemoryTaskStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	var count int64
	for id, t := range s.tasks {
		if t.Status != domain.TaskStatusCompleted && t.Status != domain.TaskStatusFailed {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.tasks, id)
		count++
	}
	return count, nil
}
