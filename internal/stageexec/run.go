// Package stageexec runs one pipeline stage over a run manifest with a
// bounded worker pool. It owns the claim/complete/fail transitions; the
// transform itself never touches the state store.
package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tessera/internal/blobstore"
	"tessera/internal/logging"
	"tessera/internal/manifest"
	"tessera/internal/services"
	"tessera/internal/stage"
	"tessera/internal/state"
)

// Options controls a single stage pass over a manifest.
type Options struct {
	Logger       *slog.Logger
	Store        *state.Store
	Blobs        blobstore.Store
	Stage        string
	Manifest     *manifest.Manifest
	Transform    stage.Transform
	Workers      int
	RetryCeiling int
	ItemTimeout  time.Duration
}

// Run processes every eligible item for the stage once. Items that were
// already complete at their current content hash are skipped by the
// eligibility query, which is what makes reruns cheap. Item-level failures
// are recorded and do not abort the pass; Run returns an error only for
// store faults or a cancelled context.
func Run(ctx context.Context, opts Options) (stage.Result, error) {
	result := stage.Result{Stage: opts.Stage}
	if opts.Store == nil {
		return result, errors.New("stageexec: state store is required")
	}
	if opts.Transform == nil {
		return result, fmt.Errorf("stageexec: no transform for stage %s", opts.Stage)
	}
	if opts.Manifest == nil {
		return result, errors.New("stageexec: manifest is required")
	}

	upstream, err := stage.Upstream(opts.Stage)
	if err != nil {
		return result, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	stageCtx := services.WithStage(services.WithRunID(ctx, opts.Manifest.RunID), opts.Stage)
	logger := logging.WithContext(stageCtx, opts.Logger)

	eligible, err := opts.Store.ListEligible(stageCtx, opts.Stage, upstream, opts.Manifest.ItemIDs, opts.RetryCeiling)
	if err != nil {
		return result, fmt.Errorf("stageexec: list eligible: %w", err)
	}

	logger.Info(
		"stage pass started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Int("eligible", len(eligible)),
		logging.Int("workers", workers),
	)

	var succeeded, failed atomic.Int64
	group, groupCtx := errgroup.WithContext(stageCtx)
	group.SetLimit(workers)
	for _, itemID := range eligible {
		itemID := itemID
		group.Go(func() error {
			err := runItem(groupCtx, opts, itemID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, errNotClaimed):
				// Another worker or process holds it; not ours to count.
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())

	excluded, err := opts.Store.ListExcluded(stageCtx, opts.Stage, opts.Manifest.ItemIDs, opts.RetryCeiling)
	if err != nil {
		return result, fmt.Errorf("stageexec: list excluded: %w", err)
	}
	result.Excluded = len(excluded)
	if skipped := len(opts.Manifest.ItemIDs) - len(eligible) - result.Excluded; skipped > 0 {
		result.Skipped = skipped
	}

	logger.Info(
		"stage pass finished",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed),
		logging.Int("excluded", result.Excluded),
	)
	return result, nil
}

var errNotClaimed = errors.New("stageexec: item not claimed")

func runItem(ctx context.Context, opts Options, itemID string) error {
	itemCtx := services.WithItemID(ctx, itemID)
	logger := logging.WithContext(itemCtx, opts.Logger)

	claimed, err := opts.Store.Claim(itemCtx, itemID, opts.Stage)
	if err != nil {
		// A claim fault leaves no status record behind, so it must at least
		// leave a log line.
		logger.Error("claim failed", logging.String(logging.FieldEventType, "item_failure"), logging.Error(err))
		return fmt.Errorf("claim %s: %w", itemID, err)
	}
	if !claimed {
		return errNotClaimed
	}

	item, err := opts.Store.GetItem(itemCtx, itemID)
	if err != nil {
		logger.Error("load item failed", logging.String(logging.FieldEventType, "item_failure"), logging.Error(err))
		releaseQuietly(itemCtx, opts, itemID, logger)
		return fmt.Errorf("load %s: %w", itemID, err)
	}

	output, err := transformWithTimeout(itemCtx, opts, item)
	if err != nil {
		if ctx.Err() != nil {
			// Run cancellation or deadline, not a verdict on the item.
			// Hand it back untouched so the next run resumes it.
			releaseQuietly(itemCtx, opts, itemID, logger)
			return ctx.Err()
		}
		return markItemFailed(itemCtx, opts, itemID, logger, err)
	}

	if output.ArtifactKey != "" {
		if err := opts.Blobs.Put(itemCtx, output.ArtifactKey, output.Artifact); err != nil {
			return markItemFailed(itemCtx, opts, itemID, logger,
				services.Wrap(services.ErrTransient, opts.Stage, "store artifact", "object store write failed", err))
		}
	}

	if err := opts.Store.MarkComplete(itemCtx, itemID, opts.Stage, item.ContentHash); err != nil {
		logger.Error("mark complete failed", logging.String(logging.FieldEventType, "item_failure"), logging.Error(err))
		return fmt.Errorf("mark complete %s: %w", itemID, err)
	}
	logger.Debug("item complete", logging.String(logging.FieldEventType, "item_complete"))
	return nil
}

func transformWithTimeout(ctx context.Context, opts Options, item *state.Item) (stage.Output, error) {
	if opts.ItemTimeout <= 0 {
		return opts.Transform(ctx, item)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, opts.ItemTimeout)
	defer cancel()
	output, err := opts.Transform(timeoutCtx, item)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = services.Wrap(services.ErrTimeout, opts.Stage, "transform",
			fmt.Sprintf("item exceeded %s", opts.ItemTimeout), err)
	}
	return output, err
}

func markItemFailed(ctx context.Context, opts Options, itemID string, logger *slog.Logger, itemErr error) error {
	permanent := !services.Retryable(itemErr)
	logger.Error(
		"item failed",
		logging.String(logging.FieldEventType, "item_failure"),
		logging.Bool("permanent", permanent),
		logging.Error(itemErr),
	)
	// Failure bookkeeping must survive a cancelled run context.
	storeCtx := context.WithoutCancel(ctx)
	if err := opts.Store.MarkFailed(storeCtx, itemID, opts.Stage, itemErr.Error(), permanent, opts.RetryCeiling); err != nil {
		logger.Error("failed to persist item failure", logging.Error(err))
	}
	return itemErr
}

func releaseQuietly(ctx context.Context, opts Options, itemID string, logger *slog.Logger) {
	storeCtx := context.WithoutCancel(ctx)
	if err := opts.Store.ReleaseProcessing(storeCtx, itemID, opts.Stage); err != nil {
		logger.Error("failed to release claim", logging.Error(err))
	}
}
