package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-progress/internal/model"
)

type submitFlags struct {
	tables       []string
	pgURL        string
	chURL        string
	limit        int
	batchSize    int
	pollColumn   string
	pollInterval int
	follow       bool
}

func newSubmitCmd() *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a transfer job for one or more tables",
		Long: `Submits an ingestion job. With --follow the reconciled progress of the new
job is printed after every change until all of its tables are completed or
failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req, err := f.request()
			if err != nil {
				return err
			}
			if !f.follow {
				jobID, err := appInstance.Backend().Ingest(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("submit job: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s\n", jobID)
				return nil
			}
			return submitAndFollow(cmd, appInstance, req)
		},
	}
	cmd.Flags().StringSliceVarP(&f.tables, "table", "t", nil, "table to transfer (repeatable or comma separated)")
	cmd.Flags().StringVar(&f.pgURL, "pg-url", "", "PostgreSQL connection URL (backend default when empty)")
	cmd.Flags().StringVar(&f.chURL, "ch-url", "", "ClickHouse connection URL (backend default when empty)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum rows per table (0 for all)")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "rows per insert batch (0 for backend default)")
	cmd.Flags().StringVar(&f.pollColumn, "poll-column", "", "enable incremental polling on this delta column")
	cmd.Flags().IntVar(&f.pollInterval, "poll-interval", 30, "incremental polling interval in seconds")
	cmd.Flags().BoolVarP(&f.follow, "follow", "f", false, "follow the job's progress until it finishes")
	return cmd
}

func (f submitFlags) request() (model.IngestRequest, error) {
	var req model.IngestRequest
	for _, name := range f.tables {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		req.Tables = append(req.Tables, model.TableConfig{Name: name})
	}
	if len(req.Tables) == 0 {
		return model.IngestRequest{}, errors.New("at least one --table is required")
	}
	req.PgURL = f.pgURL
	req.ChURL = f.chURL
	if f.limit > 0 {
		limit := f.limit
		req.Limit = &limit
	}
	if f.batchSize > 0 {
		size := f.batchSize
		req.BatchSize = &size
	}
	if f.pollColumn != "" {
		if f.pollInterval <= 0 {
			return model.IngestRequest{}, errors.New("--poll-interval must be > 0")
		}
		req.Polling = &model.PollingConfig{
			Enabled:         true,
			DeltaColumn:     f.pollColumn,
			IntervalSeconds: f.pollInterval,
		}
	}
	return req, nil
}

// submitAndFollow starts the reconciliation pipeline first so no progress
// event of the new job is missed, then submits and follows it.
func submitAndFollow(cmd *cobra.Command, appInstance App, req model.IngestRequest) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, appInstance, pipelineOptions{
		listenAddr: appInstance.Config().ListenAddr(),
		follow:     true,
		out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	return p.run(ctx, true, func(ctx context.Context) error {
		jobID, err := appInstance.Backend().Ingest(ctx, req)
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		appInstance.Logger().Info("job submitted", zap.String("job_id", jobID))
		fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s\n", jobID)
		p.followJob(jobID)
		return nil
	})
}
