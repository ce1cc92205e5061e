package task

import (
	"github.com/google/uuid"
)

// SingleInput is the payload of a single or product-shot task.
type SingleInput struct {
	// Prompt is the generation prompt, either literal or a template name
	// plus variables to resolve before dispatch.
	Prompt   string `json:"prompt"`
	Template string `json:"template,omitempty"`

	// Variables are substituted into the template by the resolver.
	Variables map[string]string `json:"variables,omitempty"`

	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`

	// Angle is set on product-shot siblings only.
	Angle string `json:"angle,omitempty"`
}

// BatchInput is the payload of a batch-parent task: N prompt variants
// executed as independent siblings. Concurrency lives here once, at the
// batch level, rather than being copied into every sibling payload.
type BatchInput struct {
	Prompt         string            `json:"prompt"`
	Template       string            `json:"template,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	AspectRatio    string            `json:"aspect_ratio,omitempty"`
	Variants       int               `json:"variants"`
	Concurrency    int               `json:"concurrency"`
}

// ProductShotInput describes a multi-angle fan-out: one sibling per angle,
// no parent wrapper task.
type ProductShotInput struct {
	Prompt         string            `json:"prompt"`
	Template       string            `json:"template,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	AspectRatio    string            `json:"aspect_ratio,omitempty"`
	Angles         []string          `json:"angles"`
	Concurrency    int               `json:"concurrency"`
}

// BatchOutput is written onto a completed batch-parent record. The parent is
// a planning record: it completes as soon as its siblings exist.
type BatchOutput struct {
	BatchID     uuid.UUID   `json:"batch_id"`
	SiblingIDs  []uuid.UUID `json:"sibling_ids"`
	Concurrency int         `json:"concurrency"`
}
