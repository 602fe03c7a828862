package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		listen       string
		jobID        string
		exitWhenDone bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reconcile live progress for every job until interrupted",
		Long: `Polls the backend's job snapshot and subscribes to its progress stream,
merging both into one reconciled view. Changes are logged, exported as
Prometheus metrics, and persisted to the configured repository. With --job the
job's tables are printed after every change.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if listen == "" {
				listen = appInstance.Config().ListenAddr()
			}
			if exitWhenDone && jobID == "" {
				return fmt.Errorf("--exit-when-done requires --job")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := newPipeline(ctx, appInstance, pipelineOptions{
				listenAddr: listen,
				follow:     jobID != "",
				followJob:  jobID,
				out:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			return p.run(ctx, exitWhenDone, nil)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address for the read-only API (default from server.listen_port)")
	cmd.Flags().StringVar(&jobID, "job", "", "print this job's tables after every change")
	cmd.Flags().BoolVar(&exitWhenDone, "exit-when-done", false, "stop once every table of --job is completed or failed")
	return cmd
}
