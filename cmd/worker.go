package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the 'worker' subcommand, the process the
// process supervisor starts once per seed.
func newWorkerCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consumes crawl tasks from the shared queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				return errors.New("--id is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			appInstance.NewWorker(id).Run(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "worker identifier")
	return cmd
}
