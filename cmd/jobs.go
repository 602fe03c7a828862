package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ingest-progress/internal/client"
	"github.com/JakeFAU/ingest-progress/internal/model"
	"github.com/JakeFAU/ingest-progress/internal/progress"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs with their reconciled table rollups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := appInstance.Backend().ListJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			renderJobs(cmd.OutOrStdout(), reconcile(snap).Jobs())
			return nil
		},
	}
	cmd.AddCommand(newJobsShowCmd())
	return cmd
}

func newJobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show the reconciled tables of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.Backend().GetJob(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				return fmt.Errorf("get job: %w", err)
			}
			view, ok := reconcile(model.JobsSnapshot{Jobs: []model.Job{job}}).Job(job.ID)
			if !ok {
				return fmt.Errorf("job %s has no id in the backend response", args[0])
			}
			renderJob(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

// reconcile merges a one-off snapshot into a fresh store.
func reconcile(snap model.JobsSnapshot) *progress.Store {
	s := progress.NewStore()
	s.ApplySnapshot(snap)
	return s
}
