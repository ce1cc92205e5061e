package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskType identifies how the processor dispatches a task.
type TaskType string

// Possible task type values. These match the wire format used in queue
// messages, so they must stay stable.
const (
	TaskTypeSingle      TaskType = "single"
	TaskTypeBatchParent TaskType = "batch-parent"
	TaskTypeProductShot TaskType = "product-shot"
)

// Common validation errors for Task.
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID = errors.New("task owner ID cannot be empty")
	ErrEmptyTaskPayload = errors.New("task payload cannot be empty")
	ErrInvalidTaskType  = errors.New("invalid task type")
)

// Task represents one unit of trackable generation work with a persisted
// state-machine record. Instances are created by the API layer or by the
// batch coordinator and mutated only through the task store.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Type         TaskType        `json:"type"`
	Status       TaskStatus      `json:"status"`
	Progress     int             `json:"progress"`
	Payload      json.RawMessage `json:"payload"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	BatchID      *uuid.UUID      `json:"batch_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a new pending Task owned by the given user. batchID may be
// nil for standalone tasks. Returns an error if validation fails.
func NewTask(ownerID uuid.UUID, taskType TaskType, payload json.RawMessage, batchID *uuid.UUID) (*Task, error) {
	task := &Task{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Type:      taskType,
		Status:    TaskStatusPending,
		Progress:  0,
		Payload:   payload,
		BatchID:   batchID,
		CreatedAt: time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.OwnerID == uuid.Nil {
		return ErrEmptyTaskOwnerID
	}
	if len(t.Payload) == 0 {
		return ErrEmptyTaskPayload
	}
	switch t.Type {
	case TaskTypeSingle, TaskTypeBatchParent, TaskTypeProductShot:
	default:
		return ErrInvalidTaskType
	}
	return nil
}

// IsTerminal reports whether the task has reached a final state. Terminal
// tasks never transition again.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine permits moving from the
// task's current status to next. The allowed edges are:
// pending→processing→{completed,failed}, pending→cancelled,
// processing→cancelled, and the reclaim edge processing→pending.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	switch t.Status {
	case TaskStatusPending:
		return next == TaskStatusProcessing || next == TaskStatusCancelled
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusCancelled || next == TaskStatusPending
	}
	return false
}

// BatchProgress is a derived aggregate over the siblings of one batch. It is
// computed on demand and never stored; Pending+Processing+Completed+Failed+
// Cancelled always equals Total.
type BatchProgress struct {
	BatchID    uuid.UUID `json:"batch_id"`
	Total      int       `json:"total"`
	Pending    int       `json:"pending"`
	Processing int       `json:"processing"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
}

// Add counts one sibling's status into the aggregate.
func (p *BatchProgress) Add(status TaskStatus) {
	p.Total++
	switch status {
	case TaskStatusPending:
		p.Pending++
	case TaskStatusProcessing:
		p.Processing++
	case TaskStatusCompleted:
		p.Completed++
	case TaskStatusFailed:
		p.Failed++
	case TaskStatusCancelled:
		p.Cancelled++
	}
}

// Done reports whether every sibling has reached a terminal state.
func (p *BatchProgress) Done() bool {
	return p.Completed+p.Failed+p.Cancelled == p.Total
}

// QueueStats holds per-status task counts for the operational surface.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}
