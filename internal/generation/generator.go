package generation

import (
	"context"
)

// Request describes one image to generate. The processor builds it from the
// task payload after template resolution.
type Request struct {
	// Prompt is the fully resolved prompt text.
	Prompt string

	// NegativePrompt lists concepts the model should avoid, if any.
	NegativePrompt string

	// Angle is the camera angle for product-shot tasks ("front",
	// "three-quarter", ...). Empty for plain single tasks.
	Angle string

	// AspectRatio is the requested output ratio, e.g. "1:1" or "16:9".
	AspectRatio string
}

// Artifact is one generated image, still in memory. The storage collaborator
// turns it into an addressable reference.
type Artifact struct {
	Data     []byte
	MimeType string
}

// Generator defines the interface for producing image artifacts from a
// request. It is the boundary between the job engine and the external
// generation API, following the hexagonal architecture pattern.
//
// Implementations must be safe to retry: the engine re-dispatches tasks
// after worker death, so a Generate call may run more than once for the
// same task.
type Generator interface {
	// Generate produces one image artifact for the request.
	// Errors carry a human-readable message; the processor writes that
	// message onto the failed task record.
	Generate(ctx context.Context, req Request) (*Artifact, error)
}
