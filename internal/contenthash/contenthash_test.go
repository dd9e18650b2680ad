package contenthash_test

import (
	"testing"

	"tessera/internal/contenthash"
)

func TestSumStable(t *testing.T) {
	a := contenthash.Sum([]byte("the mind is not a vessel to be filled"))
	b := contenthash.Sum([]byte("the mind is not a vessel to be filled"))
	if a != b {
		t.Fatalf("digest not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestSumIgnoresSurroundingWhitespace(t *testing.T) {
	a := contenthash.Sum([]byte("highlight text"))
	b := contenthash.Sum([]byte("  highlight text\n"))
	if a != b {
		t.Fatal("expected surrounding whitespace to be ignored")
	}
	c := contenthash.Sum([]byte("highlight  text"))
	if a == c {
		t.Fatal("interior whitespace must affect the digest")
	}
}

func TestSumStringMatchesSum(t *testing.T) {
	if contenthash.SumString("x") != contenthash.Sum([]byte("x")) {
		t.Fatal("SumString must match Sum")
	}
}
