// Package queue implements the broker-backed delivery path: a Kafka
// producer for enqueueing task messages and a consumer-group dispatcher
// with bounded redelivery, exponential backoff, and dead-lettering.
package queue

import (
	"encoding/json"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/google/uuid"
)

// TaskMessage is the wire format of one task delivery.
// Attempts counts completed delivery attempts; the dispatcher increments it
// on each redelivery and dead-letters the message once MaxAttempts is
// reached.
type TaskMessage struct {
	TaskID    string `json:"task_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Attempts  int    `json:"attempts"`
}

// NewTaskMessage builds the delivery message for a task.
func NewTaskMessage(task *domain.Task) *TaskMessage {
	return &TaskMessage{
		TaskID:    task.ID.String(),
		Type:      string(task.Type),
		Timestamp: time.Now().Unix(),
	}
}

// taskUUID parses the message's task ID.
func (m *TaskMessage) taskUUID() (uuid.UUID, error) {
	return uuid.Parse(m.TaskID)
}

// Encode serializes the message for the wire.
func (m *TaskMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}
