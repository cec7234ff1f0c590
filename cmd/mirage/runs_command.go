package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mirage/internal/config"
	"mirage/internal/ledger"
	"mirage/internal/metrics"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs",
	}
	cmd.AddCommand(newRunsListCommand(ctx))
	return cmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <experiment-id>",
		Short: "List an experiment's runs with badges and call metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				experimentID := args[0]
				runs, err := store.RunsForExperiment(cmd.Context(), experimentID)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No runs for experiment %q\n", experimentID)
					return nil
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					badge := "-"
					if result, err := store.GetMetricResult(cmd.Context(), run.RunID, metrics.BundleName, metrics.BundleVersion); err == nil &&
						result != nil && result.Status == ledger.MetricSucceeded {
						var bundle metrics.BundleV1
						if decodeErr := metrics.DecodeBundle(result.ValueJSON, &bundle); decodeErr == nil {
							value, _ := metrics.DeriveBadge(bundle)
							badge = string(value)
						}
					}

					cost, latency, attempt := "-", "-", "-"
					if calls, err := store.CallsForRun(cmd.Context(), run.RunID); err == nil && len(calls) > 0 {
						last := calls[len(calls)-1]
						attempt = strconv.Itoa(last.Attempt)
						if last.CostUSD != nil {
							cost = fmt.Sprintf("$%.3f", *last.CostUSD)
						}
						if last.LatencyMs != nil {
							latency = fmt.Sprintf("%dms", *last.LatencyMs)
						}
					}

					status := string(run.Status)
					if run.ErrorCode != "" {
						status = fmt.Sprintf("%s (%s)", status, run.ErrorCode)
					}
					rows = append(rows, []string{
						shortID(run.RunID), run.VariantKey, status, badge, cost, latency, attempt,
					})
				}

				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Run", "Variant", "Status", "Badge", "Cost", "Latency", "Attempt"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}
