// Package storage defines the artifact persistence boundary. The engine
// only needs persist(artifact) -> reference; upload mechanics belong to the
// implementation behind the interface.
package storage

import (
	"context"

	"github.com/forgelight/imageforge/internal/generation"
	"github.com/google/uuid"
)

// ArtifactRef is the addressable reference the store hands back for a
// persisted artifact. It is what ends up in the task's output payload.
type ArtifactRef struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ArtifactStore persists generated artifacts and returns their references.
//
// Implementations must tolerate re-persisting the same task's artifact:
// tasks are re-executed after reclamation, so Persist may run twice for one
// task ID and the second write wins.
type ArtifactStore interface {
	Persist(ctx context.Context, taskID uuid.UUID, artifact *generation.Artifact) (*ArtifactRef, error)
}
