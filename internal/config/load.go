package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables with the FORGE_ prefix.
// Environment variables take precedence over file values.
// Returns a populated, validated Config or an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind the variables AutomaticEnv cannot discover before
	// the key is first requested.
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"server.port", "FORGE_SERVER_PORT"},
		{"server.log_level", "FORGE_SERVER_LOG_LEVEL"},
		{"database.url", "FORGE_DATABASE_URL"},
		{"redis.addr", "FORGE_REDIS_ADDR"},
		{"broker.brokers", "FORGE_BROKER_BROKERS"},
		{"broker.topic", "FORGE_BROKER_TOPIC"},
		{"broker.dead_letter_topic", "FORGE_BROKER_DEAD_LETTER_TOPIC"},
		{"broker.group_id", "FORGE_BROKER_GROUP_ID"},
		{"generation.gemini_api_key", "FORGE_GENERATION_GEMINI_API_KEY"},
		{"generation.model_name", "FORGE_GENERATION_MODEL_NAME"},
		{"storage.base_dir", "FORGE_STORAGE_BASE_DIR"},
		{"storage.base_url", "FORGE_STORAGE_BASE_URL"},
	}
	for _, b := range bindEnvs {
		if err := v.BindEnv(b.key, b.envVar); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", b.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("broker.max_attempts", 3)
	v.SetDefault("broker.retry_backoff_secs", 10)
	v.SetDefault("broker.dead_letter_topic", "imageforge.tasks.dlq")
	v.SetDefault("generation.model_name", "gemini-2.0-flash-exp")
	v.SetDefault("generation.max_retries", 2)
	v.SetDefault("storage.base_dir", "/var/lib/imageforge/artifacts")
	v.SetDefault("storage.base_url", "http://localhost:8080/artifacts")
	v.SetDefault("engine.poll_interval_secs", 15)
	v.SetDefault("engine.poll_batch_size", 10)
	v.SetDefault("engine.poll_concurrency", 3)
	v.SetDefault("engine.stuck_task_age_minutes", 10)
	v.SetDefault("engine.reclaim_interval_minutes", 5)
	v.SetDefault("engine.retention_days", 30)
	v.SetDefault("engine.rate_limit_per_minute", 30)
}
