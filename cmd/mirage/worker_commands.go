package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mirage/internal/boundary/ffmpeg"
	"mirage/internal/boundary/mockgen"
	"mirage/internal/config"
	"mirage/internal/ledger"
	"mirage/internal/processor"
	"mirage/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var useMock bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued runs",
	}
	cmd.PersistentFlags().BoolVar(&useMock, "mock", false, "Use the deterministic mock provider and normalizer")

	cmd.AddCommand(newWorkerRunCommand(ctx, &useMock))
	cmd.AddCommand(newWorkerOnceCommand(ctx, &useMock))
	return cmd
}

func buildDeps(cfg *config.Config, useMock bool) processor.Deps {
	if useMock {
		return processor.Deps{
			Provider:   mockgen.NewProvider(),
			Normalizer: mockgen.NewNormalizer(),
			Engine:     mockgen.NewEngine(),
		}
	}
	return processor.Deps{
		Provider:   mockgen.NewProvider(),
		Normalizer: ffmpeg.NewNormalizer(cfg),
		Engine:     ffmpeg.NewEngine(cfg),
	}
}

func newWorkerRunCommand(ctx *commandContext, useMock *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				orch := worker.NewOrchestrator(store, buildDeps(cfg, *useMock), cfg, logger)
				manager := worker.NewManager(orch, cfg, logger)
				if err := manager.Start(cmd.Context()); err != nil {
					return err
				}

				signals := make(chan os.Signal, 1)
				signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(signals)

				select {
				case <-signals:
				case <-cmd.Context().Done():
				}
				manager.Stop()
				return nil
			})
		},
	}
}

func newWorkerOnceCommand(ctx *commandContext, useMock *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Claim and process a single run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *ledger.Store) error {
				orch := worker.NewOrchestrator(store, buildDeps(cfg, *useMock), cfg, logger)
				if err := orch.ReclaimStale(cmd.Context()); err != nil {
					return err
				}
				claimed, err := orch.ClaimAndProcessNext(cmd.Context())
				if err != nil {
					return err
				}
				if !claimed {
					fmt.Fprintln(cmd.OutOrStdout(), "No queued runs")
				}
				return nil
			})
		},
	}
}
