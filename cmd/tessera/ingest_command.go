package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tessera/internal/ingest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Import highlight exports from a directory",
		Long: "Ingest walks a directory of JSON highlight exports, stores each\n" +
			"highlight's raw payload, and registers it for processing. Re-ingesting\n" +
			"unchanged files is a no-op; changed highlights are queued for re-processing.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := ctx.newLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := ctx.openStore()
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			blobs, err := ctx.openBlobs(signalCtx)
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			defer blobs.Close()

			_, summary, err := ingest.Run(signalCtx, store, blobs, args[0], logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d items from %d files (%d changed)\n",
				summary.Items, summary.Files, summary.Changed)
			return nil
		},
	}
}
