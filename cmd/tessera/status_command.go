package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tessera/internal/stage"
	"tessera/internal/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-stage progress for the ingested corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := ctx.openStore()
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			health, err := store.Health(signalCtx)
			if err != nil {
				return fmt.Errorf("query health: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Items: %d\n", health.Items)

			rows := make([][]string, 0, len(stage.Order))
			for _, name := range stage.Order {
				stats, err := store.StageStats(signalCtx, name)
				if err != nil {
					return fmt.Errorf("query stage %s: %w", name, err)
				}
				rows = append(rows, []string{
					name,
					fmt.Sprintf("%d", stats[state.StatusPending]),
					fmt.Sprintf("%d", stats[state.StatusProcessing]),
					fmt.Sprintf("%d", stats[state.StatusComplete]),
					fmt.Sprintf("%d", stats[state.StatusFailed]),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Pending", "Processing", "Complete", "Failed"},
				rows, 1, 2, 3, 4))
			return nil
		},
	}
}
