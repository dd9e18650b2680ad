package state_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"tessera/internal/contenthash"
	"tessera/internal/state"
	"tessera/internal/testsupport"
)

func TestUpsertItemInsertAndFetch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	changed, err := store.UpsertItem(ctx, state.Item{
		ItemID:      "doc-1",
		ContentHash: contenthash.SumString("first version"),
		Source:      "export.json",
	})
	if err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
	if !changed {
		t.Fatal("new item must report changed")
	}

	item, err := store.GetItem(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if item.Source != "export.json" || item.TotalChunks != 1 {
		t.Fatalf("unexpected item: %#v", item)
	}
}

func TestUpsertItemRequiresHash(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.UpsertItem(context.Background(), state.Item{ItemID: "doc-1"}); err == nil {
		t.Fatal("expected error when content hash missing")
	}
}

func TestGetItemMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.GetItem(context.Background(), "ghost")
	if !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "content")

	claimed, err := store.Claim(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	// A second claim while processing must lose the compare-and-set.
	again, err := store.Claim(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if again {
		t.Fatal("expected concurrent claim to be rejected")
	}

	hash := contenthash.SumString("content")
	if err := store.MarkComplete(ctx, "doc-1", "normalize", hash); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	record, err := store.GetStatus(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if record.Status != state.StatusComplete {
		t.Fatalf("expected complete, got %s", record.Status)
	}
	if record.ContentHashAtLastSuccess != hash {
		t.Fatalf("expected success hash recorded, got %q", record.ContentHashAtLastSuccess)
	}

	// Complete records are not claimable.
	claimed, err = store.Claim(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("Claim after complete failed: %v", err)
	}
	if claimed {
		t.Fatal("complete records must not be claimable")
	}
}

func TestMarkCompleteRequiresProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "content")

	err := store.MarkComplete(ctx, "doc-1", "normalize", "hash")
	if !errors.Is(err, state.ErrConflict) {
		t.Fatalf("expected ErrConflict for missing processing record, got %v", err)
	}
}

func TestMarkFailedIncrementsRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "content")

	for attempt := 1; attempt <= 2; attempt++ {
		if claimed, err := store.Claim(ctx, "doc-1", "embed"); err != nil || !claimed {
			t.Fatalf("Claim attempt %d failed: claimed=%v err=%v", attempt, claimed, err)
		}
		if err := store.MarkFailed(ctx, "doc-1", "embed", "connection reset", false, 3); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
		record, err := store.GetStatus(ctx, "doc-1", "embed")
		if err != nil {
			t.Fatalf("GetStatus failed: %v", err)
		}
		if record.RetryCount != attempt {
			t.Fatalf("expected retry count %d, got %d", attempt, record.RetryCount)
		}
		if record.LastError != "connection reset" {
			t.Fatalf("expected last error recorded, got %q", record.LastError)
		}
	}
}

func TestMarkFailedPermanentPinsCeiling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "content")

	if claimed, err := store.Claim(ctx, "doc-1", "normalize"); err != nil || !claimed {
		t.Fatalf("Claim failed: claimed=%v err=%v", claimed, err)
	}
	if err := store.MarkFailed(ctx, "doc-1", "normalize", "malformed payload", true, 3); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	record, err := store.GetStatus(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if record.RetryCount < 3 {
		t.Fatalf("permanent failure must pin retry count to ceiling, got %d", record.RetryCount)
	}

	excluded, err := store.ListExcluded(ctx, "normalize", []string{"doc-1"}, 3)
	if err != nil {
		t.Fatalf("ListExcluded failed: %v", err)
	}
	if len(excluded) != 1 || excluded[0].ItemID != "doc-1" {
		t.Fatalf("expected doc-1 excluded, got %#v", excluded)
	}
}

func TestReleaseProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "content")

	if claimed, err := store.Claim(ctx, "doc-1", "normalize"); err != nil || !claimed {
		t.Fatalf("Claim failed: claimed=%v err=%v", claimed, err)
	}
	if err := store.ReleaseProcessing(ctx, "doc-1", "normalize"); err != nil {
		t.Fatalf("ReleaseProcessing failed: %v", err)
	}

	record, err := store.GetStatus(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if record.Status != state.StatusPending {
		t.Fatalf("expected pending after release, got %s", record.Status)
	}
	if record.RetryCount != 0 {
		t.Fatalf("release must not count as a retry, got %d", record.RetryCount)
	}
}

func TestCascadingInvalidationResetsOnlyChangedItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "original")
	testsupport.SeedItem(t, store, "doc-2", "untouched")
	for _, stage := range []string{"normalize", "embed"} {
		testsupport.CompleteStage(t, store, "doc-1", stage)
		testsupport.CompleteStage(t, store, "doc-2", stage)
	}

	changed, err := store.UpsertItem(ctx, state.Item{
		ItemID:      "doc-1",
		ContentHash: contenthash.SumString("edited"),
	})
	if err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
	if !changed {
		t.Fatal("expected change detection")
	}

	for _, stage := range []string{"normalize", "embed"} {
		record, err := store.GetStatus(ctx, "doc-1", stage)
		if err != nil {
			t.Fatalf("GetStatus doc-1/%s failed: %v", stage, err)
		}
		if record.Status != state.StatusPending {
			t.Fatalf("doc-1/%s: expected pending after invalidation, got %s", stage, record.Status)
		}

		other, err := store.GetStatus(ctx, "doc-2", stage)
		if err != nil {
			t.Fatalf("GetStatus doc-2/%s failed: %v", stage, err)
		}
		if other.Status != state.StatusComplete {
			t.Fatalf("doc-2/%s: expected complete to survive, got %s", stage, other.Status)
		}
	}
}

func TestUpsertUnchangedContentKeepsRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "same")
	testsupport.CompleteStage(t, store, "doc-1", "normalize")

	changed, err := store.UpsertItem(ctx, state.Item{
		ItemID:      "doc-1",
		ContentHash: contenthash.SumString("same"),
	})
	if err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
	if changed {
		t.Fatal("identical hash must not report changed")
	}

	record, err := store.GetStatus(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if record.Status != state.StatusComplete {
		t.Fatalf("expected complete to survive unchanged upsert, got %s", record.Status)
	}
}

func TestRetryFailedResetsSelected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")
	testsupport.SeedItem(t, store, "doc-2", "b")
	for _, id := range []string{"doc-1", "doc-2"} {
		if claimed, err := store.Claim(ctx, id, "embed"); err != nil || !claimed {
			t.Fatalf("Claim %s failed: claimed=%v err=%v", id, claimed, err)
		}
		if err := store.MarkFailed(ctx, id, "embed", "boom", true, 3); err != nil {
			t.Fatalf("MarkFailed %s failed: %v", id, err)
		}
	}

	count, err := store.RetryFailed(ctx, "doc-1")
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record reset, got %d", count)
	}

	record, err := store.GetStatus(ctx, "doc-1", "embed")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if record.Status != state.StatusPending || record.RetryCount != 0 {
		t.Fatalf("expected pending with zeroed retries, got %#v", record)
	}

	other, err := store.GetStatus(ctx, "doc-2", "embed")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if other.Status != state.StatusFailed {
		t.Fatalf("doc-2 must stay failed, got %s", other.Status)
	}
}

func TestHealthCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")
	testsupport.SeedItem(t, store, "doc-2", "b")
	testsupport.CompleteStage(t, store, "doc-1", "normalize")

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Items != 2 {
		t.Fatalf("expected 2 items, got %d", health.Items)
	}
	if health.Complete != 1 {
		t.Fatalf("expected 1 complete record, got %d", health.Complete)
	}
}

func TestClaimConcurrentDistinctItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%d", i)
		testsupport.SeedItem(t, store, ids[i], "content "+ids[i])
	}

	// Writers on different items must never block each other; every pooled
	// connection has to carry the busy timeout for that to hold.
	var wg sync.WaitGroup
	claimErrs := make(chan error, len(ids))
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, id, "normalize")
			if err != nil {
				claimErrs <- err
				return
			}
			if !claimed {
				claimErrs <- fmt.Errorf("claim %s returned false", id)
			}
		}()
	}
	wg.Wait()
	close(claimErrs)
	for err := range claimErrs {
		t.Errorf("concurrent claim: %v", err)
	}

	for _, id := range ids {
		record, err := store.GetStatus(ctx, id, "normalize")
		if err != nil {
			t.Fatalf("GetStatus %s: %v", id, err)
		}
		if record.Status != state.StatusProcessing {
			t.Fatalf("expected %s processing, got %s", id, record.Status)
		}
	}
}

func TestResetStuckProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "alpha")
	testsupport.SeedItem(t, store, "doc-2", "beta")
	if claimed, err := store.Claim(ctx, "doc-1", "normalize"); err != nil || !claimed {
		t.Fatalf("Claim doc-1: claimed=%v err=%v", claimed, err)
	}
	testsupport.CompleteStage(t, store, "doc-2", "normalize")

	reclaimed, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetStuckProcessing failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed record, got %d", reclaimed)
	}

	record, err := store.GetStatus(ctx, "doc-1", "normalize")
	if err != nil {
		t.Fatalf("GetStatus doc-1: %v", err)
	}
	if record.Status != state.StatusPending || record.RetryCount != 0 {
		t.Fatalf("expected pending with retry 0, got %#v", record)
	}

	// Completed records stay put.
	record, err = store.GetStatus(ctx, "doc-2", "normalize")
	if err != nil {
		t.Fatalf("GetStatus doc-2: %v", err)
	}
	if record.Status != state.StatusComplete {
		t.Fatalf("complete record must not be reclaimed, got %s", record.Status)
	}

	// The reclaimed item is visible to the delta filter again.
	eligible, err := store.ListEligible(ctx, "normalize", "", []string{"doc-1", "doc-2"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0] != "doc-1" {
		t.Fatalf("expected doc-1 eligible, got %v", eligible)
	}
}
