package gemini

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/forgelight/imageforge/internal/config"
	"github.com/forgelight/imageforge/internal/generation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewImageGeneratorValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := NewImageGenerator(ctx, nil, config.GenerationConfig{
		GeminiAPIKey: "key",
		ModelName:    "model",
	})
	assert.Error(t, err)

	_, err = NewImageGenerator(ctx, testLogger(), config.GenerationConfig{
		ModelName: "model",
	})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewImageGenerator(ctx, testLogger(), config.GenerationConfig{
		GeminiAPIKey: "key",
	})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func imageResponse(mimeType string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{Text: "here is your image"},
					{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
				},
			},
		}},
	}
}

func TestArtifactFromResponse(t *testing.T) {
	t.Parallel()

	artifact, err := artifactFromResponse(imageResponse("image/png", []byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, "image/png", artifact.MimeType)
	assert.Equal(t, []byte("png-bytes"), artifact.Data)
}

func TestArtifactFromResponseErrors(t *testing.T) {
	t.Parallel()

	t.Run("nil response", func(t *testing.T) {
		_, err := artifactFromResponse(nil)
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, err := artifactFromResponse(&genai.GenerateContentResponse{})
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("safety block", func(t *testing.T) {
		_, err := artifactFromResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		})
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := artifactFromResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{}},
		})
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("text only", func(t *testing.T) {
		_, err := artifactFromResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}},
			}},
		})
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("non-image blob", func(t *testing.T) {
		_, err := artifactFromResponse(imageResponse("application/pdf", []byte("pdf")))
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})
}

func TestComposePrompt(t *testing.T) {
	t.Parallel()

	g := &ImageGenerator{}

	assert.Equal(t, "a red chair",
		g.composePrompt(generation.Request{Prompt: "a red chair"}))

	assert.Equal(t, "a mug, front angle view",
		g.composePrompt(generation.Request{Prompt: "a mug", Angle: "front"}))

	assert.Equal(t, "a mug, aspect ratio 16:9. Avoid: clutter",
		g.composePrompt(generation.Request{
			Prompt:         "a mug",
			AspectRatio:    "16:9",
			NegativePrompt: "clutter",
		}))
}
