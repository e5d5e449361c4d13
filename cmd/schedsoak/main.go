// schedsoak drives schedulers with concurrent producers and checks that lane
// order, mutual exclusion and shutdown resolution hold under load.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "schedsoak",
		Short: "Soak test for go-async-scheduler",
		Long: `schedsoak submits actions from many goroutines to schedulers sharing a
thread pool, optionally shuts them down mid-run, and verifies:

  - submissions on one lane from one producer run in submission order
  - no scheduler ever runs two actions at once
  - every future is resolved once shutdown returns

Configuration is read from flags, ASYNCSCHED_* environment variables
(e.g. ASYNCSCHED_PRIORITY_PCT) and an optional YAML file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := (&soak{cfg: cfg, logger: logger}).run(ctx)
			if err != nil {
				return err
			}

			logger.Info("soak finished",
				zap.Int("submitted", report.Submitted),
				zap.Int("completed", report.Completed),
				zap.Int("cancelled", report.Cancelled),
				zap.Int("rejected", report.Rejected),
				zap.Int("failed", report.Failed),
				zap.Duration("elapsed", report.Elapsed),
			)
			for _, detail := range report.Violations {
				logger.Error("violation", zap.String("detail", detail))
			}
			if !report.OK() {
				return fmt.Errorf("%d violations", len(report.Violations))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d submitted, %d completed, %d cancelled, %d rejected in %s\n",
				report.Submitted, report.Completed, report.Cancelled, report.Rejected, report.Elapsed)
			return nil
		},
	}

	registerFlags(cmd.Flags())
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
