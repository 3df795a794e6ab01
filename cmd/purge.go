package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/relevance-crawler/internal/dispatcher"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drops queued tasks and stored results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			d := dispatcher.New(a.Queue, a.Store, nil, nil, a.IDs, a.Clock, dispatcher.Config{}, a.Logger)
			if err := d.Purge(cmd.Context()); err != nil {
				return err
			}
			a.Logger.Info("queue and result store purged")
			return nil
		},
	}
}
