package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/google/uuid"
)

// TaskStatusEvent is the status snapshot the engine publishes whenever a
// task changes state. Handlers fan it out to websocket subscribers, the
// status cache, and metrics without the processor knowing any of them.
type TaskStatusEvent struct {
	// TaskID identifies the task the snapshot belongs to.
	TaskID uuid.UUID `json:"task_id"`

	// OwnerID is the task owner, carried so cached snapshots can be
	// served without a store round trip for the ownership check.
	OwnerID uuid.UUID `json:"owner_id"`

	// BatchID is set when the task belongs to a batch; batch subscribers
	// receive the same snapshot under this ID.
	BatchID *uuid.UUID `json:"batch_id,omitempty"`

	// Type is the task type ("single", "batch-parent", "product-shot").
	Type domain.TaskType `json:"type"`

	// Status is the task's new status.
	Status domain.TaskStatus `json:"status"`

	// Progress is the coarse progress percentage at event time.
	Progress int `json:"progress"`

	// Output carries the artifact reference on completion events.
	Output json.RawMessage `json:"output,omitempty"`

	// ErrorMessage carries the failure message on failed events.
	ErrorMessage string `json:"error_message,omitempty"`

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
}

// NewTaskStatusEvent builds a snapshot from the task's current state.
func NewTaskStatusEvent(task *domain.Task) *TaskStatusEvent {
	return &TaskStatusEvent{
		TaskID:       task.ID,
		OwnerID:      task.OwnerID,
		BatchID:      task.BatchID,
		Type:         task.Type,
		Status:       task.Status,
		Progress:     task.Progress,
		Output:       task.Output,
		ErrorMessage: task.ErrorMessage,
		Timestamp:    time.Now().UTC(),
	}
}

// Handler defines an interface for components that consume status events.
type Handler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskStatusEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *TaskStatusEvent) error

// HandleEvent calls the wrapped function.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskStatusEvent) error {
	return f(ctx, event)
}

// Emitter defines an interface for components that publish status events.
// This allows the processor to announce state changes without direct
// knowledge of subscribers.
type Emitter interface {
	// Emit publishes the given event to all registered handlers.
	Emit(ctx context.Context, event *TaskStatusEvent) error
}
