package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/client"
	"github.com/JakeFAU/ingest-progress/internal/config"
	"github.com/JakeFAU/ingest-progress/internal/logging"
)

type app struct {
	cfg     config.Config
	logger  *zap.Logger
	backend *client.Client
	undo    func()
}

func buildApp(_ context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	backend, err := client.New(client.Config{
		BaseURL:      cfg.Server.BaseURL,
		Timeout:      cfg.Snapshot.Timeout,
		RetryMax:     cfg.Snapshot.MaxRetries,
		RetryWaitMin: cfg.Snapshot.RetryWaitMin,
		RetryWaitMax: cfg.Snapshot.RetryWaitMax,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("init backend client: %w", err)
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		undo:    zap.ReplaceGlobals(logger),
	}, nil
}

func (a *app) Close() {
	a.undo()
	_ = a.logger.Sync()
}

func (a *app) Config() config.Config { return a.cfg }

func (a *app) Logger() *zap.Logger { return a.logger }

func (a *app) Backend() Backend { return a.backend }
