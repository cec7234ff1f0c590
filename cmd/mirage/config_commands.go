package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mirage/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "data_dir     = %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "artifact_dir = %s\n", cfg.Paths.ArtifactDir)
			fmt.Fprintf(out, "log_dir      = %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "poll_interval      = %ds\n", cfg.Worker.PollInterval)
			fmt.Fprintf(out, "heartbeat_interval = %ds\n", cfg.Worker.HeartbeatInterval)
			fmt.Fprintf(out, "heartbeat_timeout  = %ds\n", cfg.Worker.HeartbeatTimeout)
			fmt.Fprintf(out, "ffmpeg  = %s\n", cfg.Normalize.FFmpegBinary)
			fmt.Fprintf(out, "ffprobe = %s\n", cfg.Normalize.FFprobeBinary)
			fmt.Fprintf(out, "log format = %s, level = %s\n", cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	}
}
