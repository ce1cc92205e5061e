// Package gemini implements the generation.Generator interface using
// Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/forgelight/imageforge/internal/config"
	"github.com/forgelight/imageforge/internal/generation"
	"google.golang.org/genai"
)

// ImageGenerator produces image artifacts through the Gemini API.
type ImageGenerator struct {
	// logger is used for structured logging
	logger *slog.Logger

	// config contains generation-specific configuration
	config config.GenerationConfig

	// client is the Gemini API client for making requests
	client *genai.Client

	// model is the name of the Gemini model to use
	model string
}

// baseRetryDelaySeconds is the backoff base for transient API errors.
const baseRetryDelaySeconds = 2

// NewImageGenerator creates a new ImageGenerator with the provided
// dependencies. Returns an error if the configuration is incomplete or the
// client cannot be constructed.
func NewImageGenerator(
	ctx context.Context,
	logger *slog.Logger,
	cfg config.GenerationConfig,
) (*ImageGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return &ImageGenerator{
		logger: logger,
		config: cfg,
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// Generate produces one image artifact for the request, retrying transient
// API errors with exponential backoff and jitter. Permanent errors (safety
// blocks, malformed responses) are returned immediately.
func (g *ImageGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Artifact, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", generation.ErrGenerationFailed)
	}

	prompt := g.composePrompt(req)

	maxRetries := g.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		artifact, transient, err := g.callOnce(ctx, prompt)
		if err == nil {
			g.logger.InfoContext(ctx, "gemini image call successful",
				"attempt", attempt+1)
			return artifact, nil
		}

		g.logger.ErrorContext(ctx, "gemini image call failed",
			"attempt", attempt+1,
			"error", err)

		if !transient || attempt >= maxRetries {
			if transient {
				return nil, fmt.Errorf("%w: exceeded maximum retry attempts (%d)",
					generation.ErrTransientFailure, maxRetries)
			}
			return nil, err
		}

		// delay = base * 2^attempt * (0.5 + rand(0, 0.5))
		backoffSeconds := float64(baseRetryDelaySeconds) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoffSeconds * (0.5 + rng.Float64()*0.5) * float64(time.Second))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
	}
}

// callOnce performs a single API call. transient reports whether the error
// is worth retrying; API transport errors are, malformed or blocked
// responses are not.
func (g *ImageGenerator) callOnce(ctx context.Context, prompt string) (artifact *generation.Artifact, transient bool, err error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	artifact, err = artifactFromResponse(resp)
	if err != nil {
		return nil, false, err
	}
	return artifact, false, nil
}

// artifactFromResponse extracts the first image part from a generation
// response, validating the candidate along the way.
func artifactFromResponse(resp *genai.GenerateContentResponse) (*generation.Artifact, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	for _, part := range candidate.Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if strings.HasPrefix(part.InlineData.MIMEType, "image/") {
			return &generation.Artifact{
				Data:     part.InlineData.Data,
				MimeType: part.InlineData.MIMEType,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: response carried no image part", generation.ErrInvalidResponse)
}

// composePrompt folds the structured request fields into one prompt string.
// Template/variable substitution happens upstream; this only appends the
// generation hints the model expects inline.
func (g *ImageGenerator) composePrompt(req generation.Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.Angle != "" {
		fmt.Fprintf(&b, ", %s angle view", req.Angle)
	}
	if req.AspectRatio != "" {
		fmt.Fprintf(&b, ", aspect ratio %s", req.AspectRatio)
	}
	if req.NegativePrompt != "" {
		fmt.Fprintf(&b, ". Avoid: %s", req.NegativePrompt)
	}
	return b.String()
}
