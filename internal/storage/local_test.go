package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/config"
	"github.com/forgelight/imageforge/internal/generation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalStore(t *testing.T) (*LocalStore, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := NewLocalStore(config.StorageConfig{
		BaseDir: dir,
		BaseURL: "http://localhost:8080/artifacts",
	}, testLogger())
	require.NoError(t, err)
	return store, dir
}

func TestLocalStorePersist(t *testing.T) {
	t.Parallel()

	store, dir := newLocalStore(t)
	taskID := uuid.New()

	ref, err := store.Persist(context.Background(), taskID, &generation.Artifact{
		Data:     []byte("png-bytes"),
		MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/artifacts/"+taskID.String()+".png", ref.URL)

	written, err := os.ReadFile(filepath.Join(dir, taskID.String()+".png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), written)
}

func TestLocalStorePersistOverwrites(t *testing.T) {
	t.Parallel()

	store, dir := newLocalStore(t)
	taskID := uuid.New()
	ctx := context.Background()

	_, err := store.Persist(ctx, taskID, &generation.Artifact{
		Data:     []byte("first"),
		MimeType: "image/png",
	})
	require.NoError(t, err)

	// A re-executed task re-persists; the second write wins.
	_, err = store.Persist(ctx, taskID, &generation.Artifact{
		Data:     []byte("second"),
		MimeType: "image/png",
	})
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(dir, taskID.String()+".png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), written)
}

func TestLocalStoreRejectsEmptyArtifact(t *testing.T) {
	t.Parallel()

	store, _ := newLocalStore(t)

	_, err := store.Persist(context.Background(), uuid.New(), nil)
	assert.Error(t, err)

	_, err = store.Persist(context.Background(), uuid.New(), &generation.Artifact{})
	assert.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".png", extensionFor("image/png"))
	assert.Equal(t, ".jpg", extensionFor("image/jpeg"))
	assert.Equal(t, ".webp", extensionFor("image/webp"))
	assert.Equal(t, ".bin", extensionFor("application/octet-stream"))
}
