package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tessera/internal/logging"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a fixed interval",
		Long: "Schedule runs the pipeline immediately and then again every\n" +
			"pipeline.schedule_hours until interrupted. Each cycle is a normal run:\n" +
			"unchanged items are skipped, so idle cycles cost nothing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			interval := time.Duration(cfg.Pipeline.ScheduleHours) * time.Hour
			if interval <= 0 {
				interval = 24 * time.Hour
			}

			logger, err := ctx.newLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			out := cmd.OutOrStdout()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := executeRun(signalCtx, ctx, out, nil, ""); err != nil {
					if signalCtx.Err() != nil {
						return nil
					}
					logger.Error("scheduled run failed", logging.Error(err))
				}
				fmt.Fprintf(out, "Next run in %s\n", interval)

				select {
				case <-signalCtx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}
