package testsupport

import (
	"context"
	"testing"

	"tessera/internal/blobstore"
	"tessera/internal/config"
	"tessera/internal/contenthash"
	"tessera/internal/state"
)

// MustOpenStore opens a state.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *state.Store {
	t.Helper()

	store, err := state.Open(cfg)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenBlobs opens a filesystem blob store for tests and registers cleanup.
func MustOpenBlobs(t testing.TB, cfg *config.Config) blobstore.Store {
	t.Helper()

	blobs, err := blobstore.NewFS(cfg.Store.RootDir)
	if err != nil {
		t.Fatalf("blobstore.NewFS: %v", err)
	}
	t.Cleanup(func() {
		blobs.Close()
	})
	return blobs
}

// SeedItem upserts an item whose content hash is derived from content.
func SeedItem(t testing.TB, store *state.Store, itemID, content string) {
	t.Helper()

	_, err := store.UpsertItem(context.Background(), state.Item{
		ItemID:      itemID,
		ContentHash: contenthash.SumString(content),
	})
	if err != nil {
		t.Fatalf("store.UpsertItem(%s): %v", itemID, err)
	}
}

// CompleteStage drives an item's stage record straight to complete with the
// item's current content hash, as if the stage had processed it.
func CompleteStage(t testing.TB, store *state.Store, itemID, stage string) {
	t.Helper()

	ctx := context.Background()
	claimed, err := store.Claim(ctx, itemID, stage)
	if err != nil {
		t.Fatalf("store.Claim(%s, %s): %v", itemID, stage, err)
	}
	if !claimed {
		t.Fatalf("could not claim %s/%s", itemID, stage)
	}
	item, err := store.GetItem(ctx, itemID)
	if err != nil {
		t.Fatalf("store.GetItem(%s): %v", itemID, err)
	}
	if err := store.MarkComplete(ctx, itemID, stage, item.ContentHash); err != nil {
		t.Fatalf("store.MarkComplete(%s, %s): %v", itemID, stage, err)
	}
}
