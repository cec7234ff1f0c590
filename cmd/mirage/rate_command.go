package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mirage/internal/config"
	"mirage/internal/ledger"
	"mirage/internal/pairwise"
)

func newRateCommand(ctx *commandContext) *cobra.Command {
	var (
		raterID     string
		realism     string
		lipsync     string
		targetmatch string
		notes       string
	)

	cmd := &cobra.Command{
		Use:   "rate <task-id>",
		Short: "Submit a rating for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			judgment := pairwise.Judgment{
				RaterID:       raterID,
				ChoiceRealism: ledger.Choice(realism),
				ChoiceLipsync: ledger.Choice(lipsync),
				Notes:         notes,
			}
			if targetmatch != "" {
				choice := ledger.Choice(targetmatch)
				judgment.ChoiceTargetMatch = &choice
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				engine := pairwise.NewEngine(store, logger)
				if err := engine.SubmitRating(cmd.Context(), args[0], judgment); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rating recorded")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&raterID, "rater", "", "Rater identifier")
	cmd.Flags().StringVar(&realism, "realism", "", "Realism choice: left|right|tie|skip")
	cmd.Flags().StringVar(&lipsync, "lipsync", "", "Lip-sync choice: left|right|tie|skip")
	cmd.Flags().StringVar(&targetmatch, "targetmatch", "", "Optional target-match choice: left|right|tie|skip")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	_ = cmd.MarkFlagRequired("rater")
	_ = cmd.MarkFlagRequired("realism")
	_ = cmd.MarkFlagRequired("lipsync")

	return cmd
}
