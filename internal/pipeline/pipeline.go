// Package pipeline sequences the stages of a run. It owns the run-level
// concerns the executor does not: strict stage ordering, the cluster
// strategy branch, the wall-clock deadline, and the run report.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tessera/internal/blobstore"
	"tessera/internal/config"
	"tessera/internal/linker"
	"tessera/internal/logging"
	"tessera/internal/manifest"
	"tessera/internal/notify"
	"tessera/internal/services"
	"tessera/internal/stage"
	"tessera/internal/stageexec"
	"tessera/internal/state"
	"tessera/internal/transforms"
)

// State is the orchestrator's run-level state.
type State string

const (
	StateNotStarted   State = "not_started"
	StateStageRunning State = "stage_running"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateTimedOut     State = "timed_out"
)

// Exclusion surfaces a permanently excluded item in the run report.
type Exclusion struct {
	ItemID    string `json:"item_id"`
	Stage     string `json:"stage"`
	LastError string `json:"last_error"`
}

// Report is the machine-readable run summary. It is produced for every
// run, including partial failures and timeouts.
type Report struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	FinalState  State          `json:"final_state"`
	ActiveStage string         `json:"active_stage,omitempty"`
	Stages      []stage.Result `json:"stages"`
	Excluded    []Exclusion    `json:"excluded"`
}

// Succeeded / Failed / ExcludedCount total the per-stage numbers.
func (r *Report) Succeeded() int {
	total := 0
	for _, s := range r.Stages {
		total += s.Succeeded
	}
	return total
}

func (r *Report) Failed() int {
	total := 0
	for _, s := range r.Stages {
		total += s.Failed
	}
	return total
}

func (r *Report) ExcludedCount() int {
	return len(r.Excluded)
}

// Orchestrator drives one pipeline run at a time over a manifest.
type Orchestrator struct {
	cfg      *config.Config
	store    *state.Store
	blobs    blobstore.Store
	deps     transforms.Deps
	notifier notify.Service
	logger   *slog.Logger
}

// New wires an orchestrator. The embedder and generator are passed through
// to the stage transforms untouched.
func New(cfg *config.Config, store *state.Store, blobs blobstore.Store, embedder transforms.Embedder, generator transforms.Generator, notifier notify.Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:   cfg,
		store: store,
		blobs: blobs,
		deps: transforms.Deps{
			Store:     store,
			Blobs:     blobs,
			Embedder:  embedder,
			Generator: generator,
			Linker:    linker.Options{TopK: cfg.Linker.TopK, MinScore: cfg.Linker.MinScore},
			Logger:    logger,
		},
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Run executes the full stage sequence over the manifest. The report is
// returned even when the run fails or times out; the error describes
// run-level faults only — item failures live in the report.
func (o *Orchestrator) Run(ctx context.Context, m *manifest.Manifest) (*Report, error) {
	if m == nil || len(m.ItemIDs) == 0 {
		return nil, manifest.ErrEmpty
	}

	report := &Report{
		RunID:      m.RunID,
		StartedAt:  time.Now().UTC(),
		FinalState: StateNotStarted,
		Excluded:   []Exclusion{},
	}

	runCtx := services.WithRunID(ctx, m.RunID)
	cancel := context.CancelFunc(func() {})
	if o.cfg.Pipeline.RunTimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(o.cfg.Pipeline.RunTimeoutSeconds)*time.Second)
	}
	defer cancel()

	logger := logging.WithContext(runCtx, o.logger)

	// The branch is resolved once at run start; no per-item override.
	strategy := o.cfg.Pipeline.ClusterStrategy

	// Claims orphaned by a hard-killed run would otherwise never finish.
	reclaimed, err := o.store.ResetStuckProcessing(runCtx)
	if err != nil {
		return o.finish(ctx, report, StateFailed, fmt.Errorf("reclaim stuck records: %w", err))
	}
	if reclaimed > 0 {
		logger.Warn("reclaimed interrupted stage records",
			logging.String(logging.FieldEventType, "stuck_reclaim"),
			logging.Int64("records", reclaimed),
		)
	}

	if o.notifier != nil {
		if err := o.notifier.NotifyRunStarted(runCtx, m.RunID, len(m.ItemIDs)); err != nil {
			logger.Debug("run start notification failed", logging.Error(err))
		}
	}
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("items", len(m.ItemIDs)),
		logging.String("cluster_strategy", strategy),
	)

	for _, name := range stage.Order {
		report.FinalState = StateStageRunning
		report.ActiveStage = name

		transform, err := transforms.ForStage(name, strategy, o.deps)
		if err != nil {
			return o.finish(ctx, report, StateFailed, err)
		}

		if err := o.runStage(runCtx, m, name, transform, report); err != nil {
			if deadlineExpired(runCtx, err) {
				// Leave every status record as it stands; the next run over
				// this manifest resumes exactly here.
				logger.Warn("run deadline expired",
					logging.String(logging.FieldEventType, "run_timeout"),
					logging.String("active_stage", name),
				)
				if o.notifier != nil {
					if nerr := o.notifier.NotifyRunTimedOut(ctx, m.RunID, name); nerr != nil {
						logger.Debug("timeout notification failed", logging.Error(nerr))
					}
				}
				return o.finish(ctx, report, StateTimedOut, nil)
			}
			if o.notifier != nil {
				if nerr := o.notifier.NotifyError(ctx, err, fmt.Sprintf("stage %s (run %s)", name, m.RunID)); nerr != nil {
					logger.Debug("error notification failed", logging.Error(nerr))
				}
			}
			return o.finish(ctx, report, StateFailed, err)
		}
	}

	if err := o.exportGraph(runCtx, m); err != nil {
		return o.finish(ctx, report, StateFailed, err)
	}

	report.ActiveStage = ""
	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("succeeded", report.Succeeded()),
		logging.Int("failed", report.Failed()),
		logging.Int("excluded", report.ExcludedCount()),
	)
	finished, err := o.finish(ctx, report, StateCompleted, nil)
	if o.notifier != nil && err == nil {
		duration := finished.FinishedAt.Sub(finished.StartedAt)
		if nerr := o.notifier.NotifyRunCompleted(ctx, m.RunID, finished.Succeeded(), finished.Failed(), finished.ExcludedCount(), duration); nerr != nil {
			logger.Debug("completion notification failed", logging.Error(nerr))
		}
	}
	return finished, err
}

// runStage repeats executor passes until the stage has no eligible items
// left. The retry ceiling bounds the loop: every failing item either
// completes on a later pass or crosses the ceiling and drops out of the
// eligible set.
func (o *Orchestrator) runStage(ctx context.Context, m *manifest.Manifest, name string, transform stage.Transform, report *Report) error {
	total := stage.Result{Stage: name}
	opts := stageexec.Options{
		Logger:       o.logger,
		Store:        o.store,
		Blobs:        o.blobs,
		Stage:        name,
		Manifest:     m,
		Transform:    transform,
		Workers:      o.cfg.Pipeline.Workers,
		RetryCeiling: o.cfg.Pipeline.RetryCeiling,
		ItemTimeout:  time.Duration(o.cfg.Pipeline.ItemTimeoutSeconds) * time.Second,
	}

	firstPass := true
	for {
		if err := ctx.Err(); err != nil {
			report.Stages = append(report.Stages, total)
			return err
		}
		result, err := stageexec.Run(ctx, opts)
		if err != nil {
			report.Stages = append(report.Stages, total)
			return err
		}
		total.Succeeded += result.Succeeded
		total.Failed += result.Failed
		total.Excluded = result.Excluded
		if firstPass {
			// Only the first pass sees the delta filter's view of the
			// manifest; later passes would count freshly completed items
			// as skipped and push the totals past the manifest size.
			total.Skipped = result.Skipped
			firstPass = false
		}

		if result.Succeeded == 0 && result.Failed == 0 {
			// Nothing eligible remains; excluded items do not block.
			break
		}
	}

	report.Stages = append(report.Stages, total)
	excluded, err := o.store.ListExcluded(ctx, name, m.ItemIDs, o.cfg.Pipeline.RetryCeiling)
	if err != nil {
		return fmt.Errorf("list excluded for %s: %w", name, err)
	}
	for _, e := range excluded {
		report.Excluded = append(report.Excluded, Exclusion{ItemID: e.ItemID, Stage: name, LastError: e.LastError})
	}
	return nil
}

// exportGraph writes the run-level neighbor graph next to the per-item
// cards once every stage has settled.
func (o *Orchestrator) exportGraph(ctx context.Context, m *manifest.Manifest) error {
	graph := make(map[string][]state.NeighborLink, len(m.ItemIDs))
	for _, itemID := range m.ItemIDs {
		links, err := o.store.GetLinks(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load links for graph export: %w", err)
		}
		if links == nil {
			links = []state.NeighborLink{}
		}
		graph[itemID] = links
	}
	payload, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return fmt.Errorf("encode graph export: %w", err)
	}
	if err := o.blobs.Put(ctx, blobstore.GraphExportKey(m.RunID), payload); err != nil {
		return fmt.Errorf("store graph export: %w", err)
	}
	return nil
}

// finish stamps the terminal state and persists the report. Report writing
// runs on an uncancelled context so a timed-out run still leaves its
// summary behind.
func (o *Orchestrator) finish(ctx context.Context, report *Report, final State, runErr error) (*Report, error) {
	report.FinalState = final
	report.FinishedAt = time.Now().UTC()

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		if runErr != nil {
			return report, runErr
		}
		return report, fmt.Errorf("encode run report: %w", err)
	}
	storeCtx := context.WithoutCancel(ctx)
	if err := o.blobs.Put(storeCtx, blobstore.ReportKey(report.RunID), payload); err != nil {
		o.logger.Error("failed to persist run report", logging.Error(err))
	}
	return report, runErr
}

// LoadReport retrieves a persisted run report.
func LoadReport(ctx context.Context, blobs blobstore.Store, runID string) (*Report, error) {
	payload, err := blobs.Get(ctx, blobstore.ReportKey(runID))
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", runID, err)
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	return &report, nil
}

func deadlineExpired(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
