package linker_test

import (
	"math"
	"testing"

	"tessera/internal/linker"
	"tessera/internal/state"
)

func mustIndex(t *testing.T, items []state.ItemVector) linker.Index {
	t.Helper()
	idx, err := linker.NewBruteForce(items)
	if err != nil {
		t.Fatalf("NewBruteForce failed: %v", err)
	}
	return idx
}

func TestNeighborsBasic(t *testing.T) {
	idx := mustIndex(t, []state.ItemVector{
		{ItemID: "a", Vector: []float32{1, 0}},
		{ItemID: "b", Vector: []float32{0.9, 0.1}},
		{ItemID: "c", Vector: []float32{-1, 0}},
	})
	opts := linker.Options{TopK: 2, MinScore: 0.5}

	got := idx.Neighbors("a", opts)
	if len(got) != 1 {
		t.Fatalf("expected a to link only b, got %#v", got)
	}
	if got[0].NeighborID != "b" {
		t.Fatalf("expected neighbor b, got %s", got[0].NeighborID)
	}
	want := 0.9 / math.Sqrt(0.81+0.01)
	if math.Abs(got[0].Score-want) > 1e-6 {
		t.Fatalf("expected score %.6f, got %.6f", want, got[0].Score)
	}

	// c points the opposite way; both its candidates score below the floor.
	if links := idx.Neighbors("c", opts); len(links) != 0 {
		t.Fatalf("expected no links for c, got %#v", links)
	}
}

func TestNeighborsDeterministic(t *testing.T) {
	items := []state.ItemVector{
		{ItemID: "a", Vector: []float32{1, 0}},
		{ItemID: "b", Vector: []float32{0.9, 0.1}},
		{ItemID: "c", Vector: []float32{0.8, 0.2}},
	}
	opts := linker.Options{TopK: 2, MinScore: 0}

	first := mustIndex(t, items).Neighbors("a", opts)
	second := mustIndex(t, items).Neighbors("a", opts)
	if len(first) != len(second) {
		t.Fatalf("nondeterministic length: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("position %d differs: %#v != %#v", i, first[i], second[i])
		}
	}
}

func TestNeighborsTopKTruncation(t *testing.T) {
	idx := mustIndex(t, []state.ItemVector{
		{ItemID: "a", Vector: []float32{1, 0}},
		{ItemID: "b", Vector: []float32{1, 0.01}},
		{ItemID: "c", Vector: []float32{1, 0.02}},
		{ItemID: "d", Vector: []float32{1, 0.03}},
	})

	got := idx.Neighbors("a", linker.Options{TopK: 2, MinScore: 0})
	if len(got) != 2 {
		t.Fatalf("expected top-2 truncation, got %#v", got)
	}
	if got[0].NeighborID != "b" || got[1].NeighborID != "c" {
		t.Fatalf("expected closest neighbors first, got %#v", got)
	}
}

func TestNeighborsTieBreakByID(t *testing.T) {
	// y and z are scalar multiples of x, so both score 1.0 against it.
	idx := mustIndex(t, []state.ItemVector{
		{ItemID: "x", Vector: []float32{1, 1}},
		{ItemID: "z", Vector: []float32{2, 2}},
		{ItemID: "y", Vector: []float32{3, 3}},
	})

	got := idx.Neighbors("x", linker.Options{TopK: 1, MinScore: 0.5})
	if len(got) != 1 || got[0].NeighborID != "y" {
		t.Fatalf("equal scores must break on ascending id, got %#v", got)
	}
}

func TestNeighborsZeroVector(t *testing.T) {
	idx := mustIndex(t, []state.ItemVector{
		{ItemID: "a", Vector: []float32{1, 0}},
		{ItemID: "b", Vector: []float32{0.9, 0.1}},
		{ItemID: "z", Vector: []float32{0, 0}},
	})
	opts := linker.Options{TopK: 5, MinScore: 0.5}

	if got := idx.Neighbors("z", opts); len(got) != 0 {
		t.Fatalf("zero vector must produce no links above a positive floor, got %#v", got)
	}
	for _, link := range idx.Neighbors("a", opts) {
		if link.NeighborID == "z" {
			t.Fatal("zero vector must not clear a positive score floor")
		}
	}
}

func TestNeighborsSingleItem(t *testing.T) {
	idx := mustIndex(t, []state.ItemVector{
		{ItemID: "only", Vector: []float32{1, 2, 3}},
	})

	if got := idx.Neighbors("only", linker.Options{TopK: 5, MinScore: 0}); len(got) != 0 {
		t.Fatalf("single item must map to an empty list, got %#v", got)
	}
}

func TestNeighborsUnknownItem(t *testing.T) {
	idx := mustIndex(t, []state.ItemVector{
		{ItemID: "a", Vector: []float32{1, 0}},
		{ItemID: "b", Vector: []float32{0, 1}},
	})

	if got := idx.Neighbors("ghost", linker.Options{TopK: 5, MinScore: 0}); len(got) != 0 {
		t.Fatalf("unknown items have no links, got %#v", got)
	}
}

func TestNeighborsDimensionMismatch(t *testing.T) {
	_, err := linker.NewBruteForce([]state.ItemVector{
		{ItemID: "a", Vector: []float32{1, 0}},
		{ItemID: "b", Vector: []float32{1, 0, 0}},
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
