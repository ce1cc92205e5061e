package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/forgelight/imageforge/internal/config"
)

// setupAppDatabase establishes the database connection and configures the
// pool. An empty database URL selects dev mode; it returns nil and the
// application uses the in-memory task store instead.
func setupAppDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if cfg.Database.URL == "" {
		logger.Warn("No database URL configured, using in-memory task store")
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}
