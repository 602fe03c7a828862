// Package storage selects the persistence backend for reconciled progress.
// This abstraction keeps the application independent of a specific database;
// an empty DSN runs entirely in memory.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/storage/memory"
	"github.com/JakeFAU/ingest-progress/internal/storage/postgres"
	"github.com/JakeFAU/ingest-progress/internal/store"
)

// Config selects and tunes the repository backend.
type Config struct {
	DSN          string
	MaxConns     int32
	EnsureSchema bool
}

// Open returns the repository described by cfg and a function releasing its
// resources.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (store.ProgressRepository, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		logger.Info("using in-memory progress repository")
		return memory.NewProgressStore(), func() {}, nil
	}
	pg, err := postgres.NewProgressStore(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres progress store: %w", err)
	}
	if cfg.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	logger.Info("using postgres progress repository")
	return pg, pg.Close, nil
}
