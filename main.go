// Package main is the entry point for the finmail command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gitlab.com/yelinaung/finmail/internal/config"
	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg      *config.Config
		shutdown telemetry.ShutdownFunc
	)

	root := &cobra.Command{
		Use:           "finmail",
		Short:         "Extract financial records from e-mail and confirm them interactively",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}

			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded

			logger.Configure(cfg.LogLevel, cfg.LogFormat)
			if err := logger.InitHashSalt(); err != nil {
				logger.Log.Warn().Err(err).Msg("Logged identifiers use the built-in salt")
			}

			shutdown, err = telemetry.Setup(cmd.Context(), telemetry.Options{
				Exporter:       cfg.OTelExporter,
				ServiceName:    cfg.OTelServiceName,
				ServiceVersion: version,
			})
			if err != nil {
				return fmt.Errorf("failed to set up telemetry: %w", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdown == nil {
				return nil
			}
			if err := shutdown(context.WithoutCancel(cmd.Context())); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to flush telemetry")
			}
			return nil
		},
	}

	getConfig := func() *config.Config { return cfg }

	root.AddCommand(
		newVersionCmd(),
		newMigrateCmd(getConfig),
		newProcessCmd(getConfig),
		newPendingCmd(getConfig),
		newConfirmCmd(getConfig),
		newModifyCmd(getConfig),
		newRejectCmd(getConfig),
		newReportCmd(getConfig),
		newReapCmd(getConfig),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "finmail %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
