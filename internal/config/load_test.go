package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/config"
)

// Load reads the process environment, so these tests use t.Setenv and
// cannot run in parallel.

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv("FORGE_GENERATION_GEMINI_API_KEY", "test-key")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Broker.Brokers)
	assert.Equal(t, 3, cfg.Broker.MaxAttempts)
	assert.Equal(t, 10, cfg.Broker.RetryBackoffSecs)
	assert.Equal(t, "imageforge.tasks.dlq", cfg.Broker.DeadLetterTopic)
	assert.Equal(t, "test-key", cfg.Generation.GeminiAPIKey)
	assert.Equal(t, "gemini-2.0-flash-exp", cfg.Generation.ModelName)
	assert.Equal(t, 15, cfg.Engine.PollIntervalSecs)
	assert.Equal(t, 10, cfg.Engine.PollBatchSize)
	assert.Equal(t, 3, cfg.Engine.PollConcurrency)
	assert.Equal(t, 10, cfg.Engine.StuckTaskAgeMinutes)
	assert.Equal(t, 30, cfg.Engine.RetentionDays)
}

func TestLoadRequiresGeminiAPIKey(t *testing.T) {
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_GENERATION_GEMINI_API_KEY", "test-key")
	t.Setenv("FORGE_SERVER_PORT", "9090")
	t.Setenv("FORGE_SERVER_LOG_LEVEL", "debug")
	t.Setenv("FORGE_REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("FORGE_GENERATION_GEMINI_API_KEY", "test-key")
	t.Setenv("FORGE_SERVER_LOG_LEVEL", "verbose")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
