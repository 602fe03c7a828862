// Package cmd defines and implements the CLI commands for the progress watcher.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/config"
	"github.com/JakeFAU/ingest-progress/internal/model"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Backend is the slice of the ingestion REST API the commands call.
type Backend interface {
	BaseURL() string
	ListJobs(ctx context.Context) (model.JobsSnapshot, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	Ingest(ctx context.Context, req model.IngestRequest) (string, error)
	ListTables(ctx context.Context, pgURL string) ([]string, error)
	ListColumns(ctx context.Context, table, pgURL string) ([]model.Column, error)
	TestConnection(ctx context.Context, pgURL, chURL string) (model.ConnectionTestResponse, error)
}

// App defines the services commands share. Tests inject a fake through newApp.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Backend() Backend
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	a, err := buildApp(ctx, cfgPath)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest-progress",
		Short: "Follow PostgreSQL to ClickHouse transfer jobs in real time.",
		Long: `ingest-progress reconciles the ingestion backend's polled job snapshots
with its live progress stream into one per-table view, and exposes that view
on the terminal, over HTTP, and as Prometheus metrics.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newWatchCmd(),
		newJobsCmd(),
		newSubmitCmd(),
		newTablesCmd(),
		newColumnsCmd(),
		newTestConnectionCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
