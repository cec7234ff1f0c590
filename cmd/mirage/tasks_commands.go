package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mirage/internal/config"
	"mirage/internal/ledger"
	"mirage/internal/pairwise"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage pairwise comparison tasks",
	}
	cmd.AddCommand(newTasksGenerateCommand(ctx))
	cmd.AddCommand(newTasksNextCommand(ctx))
	return cmd
}

func newTasksGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <experiment-id>",
		Short: "Create tasks for every uncovered pair of succeeded runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				engine := pairwise.NewEngine(store, logger)
				created, err := engine.GenerateTasks(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d tasks\n", created)
				return nil
			})
		},
	}
}

func newTasksNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next <experiment-id>",
		Short: "Show the next open task in presentation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				task, err := store.NextOpenTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if task == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No open tasks")
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task:  %s\n", task.TaskID)
				fmt.Fprintf(out, "Left:  %s\n", shortID(task.PresentedLeftRunID))
				fmt.Fprintf(out, "Right: %s\n", shortID(task.PresentedRightRunID))
				fmt.Fprintf(out, "Rate with: mirage rate %s --rater <id> --realism <left|right|tie|skip> --lipsync <left|right|tie|skip>\n", task.TaskID)
				return nil
			})
		},
	}
}
