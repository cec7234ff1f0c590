package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mirage/internal/config"
	"mirage/internal/demo"
	"mirage/internal/ledger"
)

func newSeedCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed experiment data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "demo",
		Short: "Create the demo experiment with queued runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				result, err := demo.Seed(cmd.Context(), store, cfg, logger)
				if err != nil {
					return err
				}
				if result.Existing {
					fmt.Fprintf(cmd.OutOrStdout(), "Demo experiment %q already seeded\n", result.ExperimentID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded experiment %q with %d queued runs\n",
					result.ExperimentID, len(result.RunIDs))
				return nil
			})
		},
	})
	return cmd
}
