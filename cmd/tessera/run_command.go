package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tessera/internal/manifest"
	"tessera/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var items []string
	var resumeRunID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the pipeline over the ingested corpus",
		Long: "Run executes the full stage sequence over a manifest. Without flags the\n" +
			"manifest covers every ingested item; --items restricts it, and --resume\n" +
			"re-enters a previous run's manifest so only stale work is redone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return executeRun(signalCtx, ctx, cmd.OutOrStdout(), items, resumeRunID)
		},
	}

	cmd.Flags().StringSliceVar(&items, "items", nil, "Restrict the run to these item IDs")
	cmd.Flags().StringVar(&resumeRunID, "resume", "", "Re-run the manifest of a previous run ID")
	return cmd
}

func executeRun(cmdCtx context.Context, ctx *commandContext, out io.Writer, items []string, resumeRunID string) error {
	lock, err := ctx.acquireLock()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	logger, err := ctx.newLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := ctx.openStore()
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	blobs, err := ctx.openBlobs(cmdCtx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer blobs.Close()

	var m *manifest.Manifest
	if resumeRunID != "" {
		m, err = manifest.Load(cmdCtx, blobs, strings.TrimSpace(resumeRunID))
		if err != nil {
			return fmt.Errorf("load manifest for run %s: %w", resumeRunID, err)
		}
	} else {
		ids := items
		if len(ids) == 0 {
			ids, err = store.ListItemIDs(cmdCtx)
			if err != nil {
				return fmt.Errorf("list items: %w", err)
			}
		}
		if len(ids) == 0 {
			return fmt.Errorf("no items to process; ingest highlights first with 'tessera ingest'")
		}
		m, err = manifest.Build(ids)
		if err != nil {
			return err
		}
		if err := manifest.Save(cmdCtx, blobs, m); err != nil {
			return fmt.Errorf("save manifest: %w", err)
		}
	}

	orch, err := ctx.newOrchestrator(store, blobs, logger)
	if err != nil {
		return err
	}

	report, runErr := orch.Run(cmdCtx, m)
	if report != nil {
		renderReport(out, report)
	}
	if runErr != nil {
		return runErr
	}
	if report != nil && report.FinalState == pipeline.StateTimedOut {
		return fmt.Errorf("run %s timed out during %s; re-run with --resume %s to continue", report.RunID, report.ActiveStage, report.RunID)
	}
	return nil
}
