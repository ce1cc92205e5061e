// Package main implements the entry point for the imageforge server,
// the asynchronous image generation task engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/forgelight/imageforge/internal/config"
	"github.com/forgelight/imageforge/internal/platform/logger"
	"github.com/forgelight/imageforge/internal/platform/postgres"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"dev_mode", cfg.Database.URL == "",
		"broker_configured", len(cfg.Broker.Brokers) > 0,
		"redis_configured", cfg.Redis.Addr != "")

	ctx := context.Background()

	db, err := setupAppDatabase(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to set up database: %v", err)
	}

	if *migrate {
		if db == nil {
			log.Fatal("Cannot migrate: no database URL configured")
		}
		if err := postgres.MigrateUp(db); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		appLogger.Info("Migrations applied")
		return
	}

	app, err := newApplication(ctx, cfg, appLogger, db)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
