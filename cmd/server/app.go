package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/forgelight/imageforge/internal/api"
	"github.com/forgelight/imageforge/internal/config"
	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/events"
	"github.com/forgelight/imageforge/internal/hub"
	"github.com/forgelight/imageforge/internal/platform/gemini"
	"github.com/forgelight/imageforge/internal/platform/postgres"
	"github.com/forgelight/imageforge/internal/platform/redis"
	"github.com/forgelight/imageforge/internal/queue"
	"github.com/forgelight/imageforge/internal/ratelimit"
	"github.com/forgelight/imageforge/internal/storage"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/forgelight/imageforge/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore store.TaskStore
	processor *task.Processor
	emitter   *events.InMemoryEmitter
	statusHub *hub.Hub

	// Delivery path: exactly one of dispatcher (broker mode) or poller
	// (polling fallback) is active.
	producer   queue.Producer
	dispatcher *queue.Dispatcher
	poller     *task.Poller
	enqueue    api.Enqueuer

	reclaimer *task.Reclaimer

	redisClient *goredis.Client
	statusCache *redis.StatusCache
	limiter     *ratelimit.Limiter
}

// newApplication creates an application instance with all dependencies
// initialized. db may be nil, which selects the in-memory task store.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if db != nil {
		app.taskStore = postgres.NewPostgresTaskStore(db)
	} else {
		app.taskStore = store.NewMemoryTaskStore()
	}

	app.emitter = events.NewInMemoryEmitter(logger)

	app.statusHub = hub.NewHub(logger)
	app.emitter.RegisterHandler(hub.NewNotifier(app.statusHub))

	if err := app.setupRedis(ctx); err != nil {
		return nil, err
	}

	generator, err := gemini.NewImageGenerator(
		ctx,
		logger.With("component", "image_generator"),
		cfg.Generation,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image generator: %w", err)
	}

	artifacts, err := storage.NewLocalStore(cfg.Storage, logger.With("component", "artifact_store"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	app.processor, err = task.NewProcessor(
		app.taskStore,
		generator,
		artifacts,
		nil,
		app.emitter,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize task processor: %w", err)
	}

	if err := app.setupDelivery(); err != nil {
		return nil, err
	}

	app.reclaimer = task.NewReclaimer(app.taskStore, task.ReclaimerConfig{
		Interval:  time.Duration(cfg.Engine.ReclaimIntervalMinutes) * time.Minute,
		StuckAge:  time.Duration(cfg.Engine.StuckTaskAgeMinutes) * time.Minute,
		Retention: time.Duration(cfg.Engine.RetentionDays) * 24 * time.Hour,
	}, logger)
	app.reclaimer.Start()

	logger.Info("Application initialized successfully")
	return app, nil
}

// setupRedis connects the optional Redis backend and wires the status
// cache and the shared rate-limit counters. Without Redis the limiter
// falls back to per-instance counters.
func (app *application) setupRedis(ctx context.Context) error {
	var counters ratelimit.CounterStore

	if app.config.Redis.Addr != "" {
		client, err := redis.Connect(ctx, app.config.Redis.Addr, "", 0)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redisClient = client

		app.statusCache = redis.NewStatusCache(client, 24*time.Hour)
		app.emitter.RegisterHandler(app.statusCache)

		counters = redis.NewCounterStore(client)
		app.logger.Info("Redis status cache and counters initialized")
	} else {
		counters = ratelimit.NewMemoryCounterStore()
	}

	if app.config.Engine.RateLimitPerMinute > 0 {
		app.limiter = ratelimit.NewLimiter(counters, app.config.Engine.RateLimitPerMinute, time.Minute)
	}
	return nil
}

// setupDelivery starts the broker consumer when brokers are configured and
// the polling fallback otherwise.
func (app *application) setupDelivery() error {
	cfg := app.config

	if len(cfg.Broker.Brokers) == 0 {
		app.poller = task.NewPoller(app.taskStore, app.processor.Process, task.PollerConfig{
			Interval:    time.Duration(cfg.Engine.PollIntervalSecs) * time.Second,
			BatchSize:   cfg.Engine.PollBatchSize,
			Concurrency: cfg.Engine.PollConcurrency,
		}, app.logger)
		app.poller.Start()

		app.logger.Info("Polling delivery started",
			"interval_secs", cfg.Engine.PollIntervalSecs,
			"batch_size", cfg.Engine.PollBatchSize)
		return nil
	}

	producer, err := queue.NewProducer(cfg.Broker.Brokers)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	app.producer = producer

	app.dispatcher, err = queue.NewDispatcher(
		cfg.Broker.Brokers,
		cfg.Broker.GroupID,
		producer,
		app.taskStore,
		app.processor.Process,
		queue.DispatcherConfig{
			Topic:           cfg.Broker.Topic,
			DeadLetterTopic: cfg.Broker.DeadLetterTopic,
			MaxAttempts:     cfg.Broker.MaxAttempts,
			RetryBackoff:    time.Duration(cfg.Broker.RetryBackoffSecs) * time.Second,
		},
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	app.dispatcher.Start()

	app.enqueue = func(ctx context.Context, t *domain.Task) error {
		return producer.Publish(ctx, cfg.Broker.Topic, queue.NewTaskMessage(t))
	}

	app.logger.Info("Broker delivery started",
		"topic", cfg.Broker.Topic,
		"group_id", cfg.Broker.GroupID)
	return nil
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}
	if app.poller != nil {
		app.poller.Stop()
	}
	if app.reclaimer != nil {
		app.reclaimer.Stop()
	}
	if app.producer != nil {
		if err := app.producer.Close(); err != nil {
			app.logger.Error("Error closing producer", "error", err)
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("Error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
