package state_test

import (
	"context"
	"testing"

	"tessera/internal/state"
	"tessera/internal/testsupport"
)

func TestListEligibleNewItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedItem(t, store, "doc-b", "b")
	testsupport.SeedItem(t, store, "doc-a", "a")

	ids, err := store.ListEligible(context.Background(), "normalize", "", []string{"doc-a", "doc-b"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "doc-a" || ids[1] != "doc-b" {
		t.Fatalf("expected deterministic id order, got %v", ids)
	}
}

func TestListEligibleSkipsUnchangedComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedItem(t, store, "doc-1", "stable")
	testsupport.CompleteStage(t, store, "doc-1", "normalize")

	ids, err := store.ListEligible(context.Background(), "normalize", "", []string{"doc-1"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("unchanged complete item must not be eligible, got %v", ids)
	}
}

func TestListEligiblePicksUpInvalidatedItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "v1")
	testsupport.CompleteStage(t, store, "doc-1", "normalize")

	// Re-ingest with new content: the complete record flips back to
	// pending and the stale success hash makes it eligible again.
	testsupport.SeedItem(t, store, "doc-1", "v2")

	ids, err := store.ListEligible(ctx, "normalize", "", []string{"doc-1"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "doc-1" {
		t.Fatalf("expected invalidated item to be eligible, got %v", ids)
	}
}

func TestListEligibleRespectsUpstreamGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")
	testsupport.SeedItem(t, store, "doc-2", "b")
	testsupport.CompleteStage(t, store, "doc-1", "normalize")

	ids, err := store.ListEligible(ctx, "embed", "normalize", []string{"doc-1", "doc-2"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "doc-1" {
		t.Fatalf("only items with complete upstream are eligible, got %v", ids)
	}
}

func TestListEligibleHonorsRetryCeiling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")

	for attempt := 0; attempt < 3; attempt++ {
		if claimed, err := store.Claim(ctx, "doc-1", "embed"); err != nil || !claimed {
			t.Fatalf("Claim failed: claimed=%v err=%v", claimed, err)
		}
		if err := store.MarkFailed(ctx, "doc-1", "embed", "flaky upstream", false, 3); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}

		ids, err := store.ListEligible(ctx, "embed", "", []string{"doc-1"}, 3)
		if err != nil {
			t.Fatalf("ListEligible failed: %v", err)
		}
		if attempt < 2 && len(ids) != 1 {
			t.Fatalf("attempt %d: expected item still eligible, got %v", attempt, ids)
		}
		if attempt == 2 && len(ids) != 0 {
			t.Fatalf("expected exclusion at retry ceiling, got %v", ids)
		}
	}

	excluded, err := store.ListExcluded(ctx, "embed", []string{"doc-1"}, 3)
	if err != nil {
		t.Fatalf("ListExcluded failed: %v", err)
	}
	if len(excluded) != 1 || excluded[0].LastError != "flaky upstream" {
		t.Fatalf("expected exclusion with last error, got %#v", excluded)
	}
}

func TestListEligibleScopedToManifest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	testsupport.SeedItem(t, store, "doc-1", "a")
	testsupport.SeedItem(t, store, "doc-2", "b")

	ids, err := store.ListEligible(context.Background(), "normalize", "", []string{"doc-2"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "doc-2" {
		t.Fatalf("items outside the manifest must be ignored, got %v", ids)
	}
}

func TestListEligibleSkipsProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")
	if claimed, err := store.Claim(ctx, "doc-1", "normalize"); err != nil || !claimed {
		t.Fatalf("Claim failed: claimed=%v err=%v", claimed, err)
	}

	ids, err := store.ListEligible(ctx, "normalize", "", []string{"doc-1"}, 3)
	if err != nil {
		t.Fatalf("ListEligible failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("in-flight items must not be eligible, got %v", ids)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")

	vector := []float32{0.25, -1.5, 3.125}
	if err := store.PutEmbedding(ctx, "doc-1", vector); err != nil {
		t.Fatalf("PutEmbedding failed: %v", err)
	}

	got, err := store.GetEmbedding(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(got) != len(vector) {
		t.Fatalf("dimension mismatch: %d != %d", len(got), len(vector))
	}
	for i := range vector {
		if got[i] != vector[i] {
			t.Fatalf("component %d: %v != %v", i, got[i], vector[i])
		}
	}
}

func TestReplaceLinksOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.SeedItem(t, store, "doc-1", "a")

	first := []state.NeighborLink{
		{NeighborID: "doc-2", Score: 0.91},
		{NeighborID: "doc-3", Score: 0.74},
	}
	if err := store.ReplaceLinks(ctx, "doc-1", first); err != nil {
		t.Fatalf("ReplaceLinks failed: %v", err)
	}

	second := []state.NeighborLink{
		{NeighborID: "doc-4", Score: 0.88},
	}
	if err := store.ReplaceLinks(ctx, "doc-1", second); err != nil {
		t.Fatalf("second ReplaceLinks failed: %v", err)
	}

	links, err := store.GetLinks(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetLinks failed: %v", err)
	}
	if len(links) != 1 || links[0].NeighborID != "doc-4" {
		t.Fatalf("replace must discard prior links, got %#v", links)
	}
}
