package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id...]",
		Short: "Reset failed stage records for another attempt",
		Long: "Retry clears the retry count on failed stage records so the next run\n" +
			"picks them up again, including items excluded at the retry ceiling.\n" +
			"Without arguments every failed record is reset.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := ctx.openStore()
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			reset, err := store.RetryFailed(signalCtx, args...)
			if err != nil {
				return fmt.Errorf("reset failed records: %w", err)
			}
			if reset == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed records to reset")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed record(s); run 'tessera run' to re-process\n", reset)
			return nil
		},
	}
}
