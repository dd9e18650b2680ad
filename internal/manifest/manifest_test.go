package manifest_test

import (
	"context"
	"errors"
	"testing"

	"tessera/internal/manifest"
	"tessera/internal/testsupport"
)

func TestBuildDeduplicatesAndSorts(t *testing.T) {
	m, err := manifest.Build([]string{"doc-c", "doc-a", "doc-c", "", "doc-b"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"doc-a", "doc-b", "doc-c"}
	if len(m.ItemIDs) != len(want) {
		t.Fatalf("expected %d ids, got %v", len(want), m.ItemIDs)
	}
	for i, id := range want {
		if m.ItemIDs[i] != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, m.ItemIDs[i])
		}
	}
	if m.RunID == "" {
		t.Fatal("expected a run id")
	}
}

func TestBuildEmpty(t *testing.T) {
	if _, err := manifest.Build(nil); !errors.Is(err, manifest.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if _, err := manifest.Build([]string{""}); !errors.Is(err, manifest.ErrEmpty) {
		t.Fatalf("expected ErrEmpty for blank ids, got %v", err)
	}
}

func TestContains(t *testing.T) {
	m, err := manifest.Build([]string{"doc-a", "doc-b"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !m.Contains("doc-a") {
		t.Fatal("expected doc-a in manifest")
	}
	if m.Contains("doc-z") {
		t.Fatal("doc-z must not be in manifest")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	blobs := testsupport.MustOpenBlobs(t, cfg)

	ctx := context.Background()
	m, err := manifest.Build([]string{"doc-b", "doc-a"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := manifest.Save(ctx, blobs, m); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := manifest.Load(ctx, blobs, m.RunID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.RunID != m.RunID {
		t.Fatalf("run id mismatch: %s != %s", loaded.RunID, m.RunID)
	}
	if len(loaded.ItemIDs) != 2 || loaded.ItemIDs[0] != "doc-a" {
		t.Fatalf("unexpected ids after load: %v", loaded.ItemIDs)
	}
}

func TestLoadMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	blobs := testsupport.MustOpenBlobs(t, cfg)

	if _, err := manifest.Load(context.Background(), blobs, "no-such-run"); err == nil {
		t.Fatal("expected error loading missing manifest")
	}
}
