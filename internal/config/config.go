package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage"    validate:"required"`
	Engine     EngineConfig     `mapstructure:"engine"     validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory task store (dev mode).
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig contains the optional status cache / rate limiter backend.
// An empty address disables redis; the limiter falls back to a per-instance
// counter store and status polls hit the task store directly.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// BrokerConfig contains the Kafka delivery settings. An empty broker list
// disables the consumer and the engine falls back to polling.
type BrokerConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	Topic            string   `mapstructure:"topic"              validate:"required_with=Brokers"`
	DeadLetterTopic  string   `mapstructure:"dead_letter_topic"`
	GroupID          string   `mapstructure:"group_id"           validate:"required_with=Brokers"`
	MaxAttempts      int      `mapstructure:"max_attempts"       validate:"gte=1"`
	RetryBackoffSecs int      `mapstructure:"retry_backoff_secs" validate:"gte=1"`
}

// GenerationConfig contains the image generation collaborator settings.
type GenerationConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name"     validate:"required"`
	MaxRetries   int    `mapstructure:"max_retries"    validate:"gte=0"`
}

// StorageConfig contains the artifact storage collaborator settings.
type StorageConfig struct {
	BaseDir string `mapstructure:"base_dir" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// EngineConfig contains the job engine's tuning knobs.
type EngineConfig struct {
	// PollIntervalSecs is the polling fallback sweep interval.
	PollIntervalSecs int `mapstructure:"poll_interval_secs" validate:"gte=1"`

	// PollBatchSize caps how many pending tasks one sweep pulls.
	PollBatchSize int `mapstructure:"poll_batch_size" validate:"gte=1"`

	// PollConcurrency bounds the polling fallback executor.
	PollConcurrency int `mapstructure:"poll_concurrency" validate:"gte=1,lte=5"`

	// StuckTaskAgeMinutes is the liveness threshold for reclaiming
	// abandoned processing tasks.
	StuckTaskAgeMinutes int `mapstructure:"stuck_task_age_minutes" validate:"gte=1"`

	// ReclaimIntervalMinutes is how often the stuck-task sweep runs.
	ReclaimIntervalMinutes int `mapstructure:"reclaim_interval_minutes" validate:"gte=1"`

	// RetentionDays is how long terminal tasks are kept before cleanup.
	RetentionDays int `mapstructure:"retention_days" validate:"gte=1"`

	// RateLimitPerMinute caps task creation per owner. Zero disables the
	// limiter.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
}
