package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forgelight/imageforge/internal/config"
	"github.com/forgelight/imageforge/internal/generation"
	"github.com/google/uuid"
)

// LocalStore is a filesystem-backed ArtifactStore for development and
// single-node deployments. Artifacts land under BaseDir and are served from
// BaseURL by whatever fronts the directory.
type LocalStore struct {
	baseDir string
	baseURL string
	logger  *slog.Logger
}

// NewLocalStore creates the base directory if needed and returns the store.
func NewLocalStore(cfg config.StorageConfig, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &LocalStore{
		baseDir: cfg.BaseDir,
		baseURL: cfg.BaseURL,
		logger:  logger,
	}, nil
}

var _ ArtifactStore = (*LocalStore)(nil)

// Persist writes the artifact under a task-derived name. Re-persisting the
// same task overwrites the previous file, which keeps retries idempotent.
func (s *LocalStore) Persist(ctx context.Context, taskID uuid.UUID, artifact *generation.Artifact) (*ArtifactRef, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return nil, errors.New("artifact is empty")
	}

	name := taskID.String() + extensionFor(artifact.MimeType)
	path := filepath.Join(s.baseDir, name)

	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}

	s.logger.DebugContext(ctx, "artifact persisted",
		"task_id", taskID,
		"path", path,
		"bytes", len(artifact.Data))

	return &ArtifactRef{
		URL: s.baseURL + "/" + name,
	}, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
