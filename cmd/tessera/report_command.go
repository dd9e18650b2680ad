package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tessera/internal/pipeline"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show the stored report for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			blobs, err := ctx.openBlobs(signalCtx)
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			defer blobs.Close()

			report, err := pipeline.LoadReport(signalCtx, blobs, args[0])
			if err != nil {
				return fmt.Errorf("load report for run %s: %w", args[0], err)
			}
			renderReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func renderReport(out io.Writer, report *pipeline.Report) {
	fmt.Fprintf(out, "Run:    %s\n", report.RunID)
	fmt.Fprintf(out, "State:  %s\n", report.FinalState)
	if report.ActiveStage != "" {
		fmt.Fprintf(out, "Stage:  %s\n", report.ActiveStage)
	}
	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(out, "Took:   %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}

	if len(report.Stages) > 0 {
		rows := make([][]string, 0, len(report.Stages))
		for _, s := range report.Stages {
			rows = append(rows, []string{
				s.Stage,
				fmt.Sprintf("%d", s.Succeeded),
				fmt.Sprintf("%d", s.Failed),
				fmt.Sprintf("%d", s.Skipped),
				fmt.Sprintf("%d", s.Excluded),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Stage", "Succeeded", "Failed", "Skipped", "Excluded"},
			rows, 1, 2, 3, 4))
	}

	if len(report.Excluded) > 0 {
		rows := make([][]string, 0, len(report.Excluded))
		for _, e := range report.Excluded {
			rows = append(rows, []string{e.ItemID, e.Stage, e.LastError})
		}
		fmt.Fprintln(out, "Excluded items:")
		fmt.Fprintln(out, renderTable([]string{"Item", "Stage", "Last Error"}, rows))
	}

	fmt.Fprintf(out, "Totals: %d succeeded, %d failed, %d excluded\n",
		report.Succeeded(), report.Failed(), report.ExcludedCount())
}
