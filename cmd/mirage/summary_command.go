package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mirage/internal/aggregate"
	"mirage/internal/config"
	"mirage/internal/ledger"
)

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <experiment-id>",
		Short: "Show win rates and the recommended pick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				summary, err := aggregate.Summarize(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(summary.Scores))
				for _, score := range summary.Scores {
					pick := ""
					if score.RunID == summary.RecommendedPick {
						pick = "*"
					}
					rows = append(rows, []string{
						pick,
						shortID(score.RunID),
						score.VariantKey,
						fmt.Sprintf("%.3f", score.WinRate),
						fmt.Sprintf("%.2f", score.Points),
						strconv.Itoa(score.Comparisons),
					})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"", "Run", "Variant", "Win rate", "Points", "Comparisons"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				fmt.Fprintf(out, "Ratings: %d\n", summary.TotalRatings)
				if summary.RecommendedPick != "" {
					fmt.Fprintf(out, "Recommended pick: %s\n", shortID(summary.RecommendedPick))
				}
				return nil
			})
		},
	}
}
