package api

import (
	"encoding/json"
	"time"

	"github.com/forgelight/imageforge/internal/domain"
)

// CreateTaskRequest is the request body for creating a task. Type selects
// the shape: "single" uses the prompt fields as-is, "batch" adds Variants,
// "product-shot" adds Angles. Concurrency applies to the fan-out types and
// is clamped server-side.
type CreateTaskRequest struct {
	Type           string            `json:"type"            validate:"required,oneof=single batch product-shot"`
	Prompt         string            `json:"prompt"          validate:"required_without=Template"`
	Template       string            `json:"template,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	AspectRatio    string            `json:"aspect_ratio,omitempty"`
	Variants       int               `json:"variants,omitempty"    validate:"omitempty,min=1,max=20"`
	Angles         []string          `json:"angles,omitempty"      validate:"omitempty,min=1,max=12,dive,required"`
	Concurrency    int               `json:"concurrency,omitempty" validate:"omitempty,min=1"`
}

// TaskResponse is the wire representation of one task record.
type TaskResponse struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	BatchID      string          `json:"batch_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// CreateTaskResponse is returned from task creation. For the fan-out types
// it carries the batch ID and the sibling task IDs.
type CreateTaskResponse struct {
	Task     *TaskResponse  `json:"task,omitempty"`
	BatchID  string         `json:"batch_id,omitempty"`
	Siblings []TaskResponse `json:"siblings,omitempty"`
}

// BatchStatusResponse is the response for a batch status query.
type BatchStatusResponse struct {
	Progress *domain.BatchProgress `json:"progress"`
	Tasks    []TaskResponse        `json:"tasks"`
}

// taskToResponse converts a domain.Task to its wire representation.
func taskToResponse(task *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:           task.ID.String(),
		OwnerID:      task.OwnerID.String(),
		Type:         string(task.Type),
		Status:       string(task.Status),
		Progress:     task.Progress,
		Output:       task.Output,
		ErrorMessage: task.ErrorMessage,
		CreatedAt:    task.CreatedAt,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
	}
	if task.BatchID != nil {
		resp.BatchID = task.BatchID.String()
	}
	return resp
}

func tasksToResponses(tasks []*domain.Task) []TaskResponse {
	responses := make([]TaskResponse, len(tasks))
	for i, task := range tasks {
		responses[i] = taskToResponse(task)
	}
	return responses
}
