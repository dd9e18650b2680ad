// Package linker computes nearest-neighbor links between items in
// embedding space. The brute-force index is exact: every pair is scored
// with cosine similarity and each item keeps its top-k neighbors above a
// score floor.
package linker

import (
	"fmt"
	"math"
	"sort"

	"tessera/internal/state"
)

// Options bound the neighbor search.
type Options struct {
	// TopK is the maximum number of links kept per item.
	TopK int
	// MinScore drops links scoring below the floor. Cosine scores fall in
	// [-1, 1]; the zero value keeps only non-negative matches.
	MinScore float64
}

// Index scores items against each other in embedding space.
type Index interface {
	// Neighbors returns the links for the given item, scored against every
	// other indexed item.
	Neighbors(itemID string, opts Options) []state.NeighborLink
	// Len reports how many items are indexed.
	Len() int
}

type bruteForce struct {
	ids     []string
	vectors map[string][]float32
}

// NewBruteForce builds an exact index over the given item vectors. All
// vectors must share one dimension. Vectors are L2-normalized on ingest so
// neighbor scoring reduces to a dot product. A zero-norm vector is kept
// as-is: it scores 0 against everything, so any positive score floor
// leaves it unlinked.
func NewBruteForce(items []state.ItemVector) (Index, error) {
	idx := &bruteForce{
		ids:     make([]string, 0, len(items)),
		vectors: make(map[string][]float32, len(items)),
	}
	dim := -1
	for _, item := range items {
		if dim == -1 {
			dim = len(item.Vector)
		}
		if len(item.Vector) != dim {
			return nil, fmt.Errorf("linker: dimension mismatch for %s: %d != %d", item.ItemID, len(item.Vector), dim)
		}
		idx.ids = append(idx.ids, item.ItemID)
		idx.vectors[item.ItemID] = normalize(item.Vector)
	}
	return idx, nil
}

func (b *bruteForce) Len() int {
	return len(b.ids)
}

func (b *bruteForce) Neighbors(itemID string, opts Options) []state.NeighborLink {
	links := []state.NeighborLink{}
	// A single item has nothing to link against.
	if len(b.ids) < 2 || opts.TopK <= 0 {
		return links
	}
	vector, ok := b.vectors[itemID]
	if !ok {
		return links
	}

	candidates := make([]state.NeighborLink, 0, len(b.ids)-1)
	for _, other := range b.ids {
		if other == itemID {
			continue
		}
		score := dot(vector, b.vectors[other])
		if score < opts.MinScore {
			continue
		}
		candidates = append(candidates, state.NeighborLink{NeighborID: other, Score: score})
	}
	// Higher score first; equal scores break on neighbor id so output is
	// stable across runs.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].NeighborID < candidates[j].NeighborID
	})
	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}
	return candidates
}

// normalize scales the vector to unit length. A zero-norm vector cannot be
// normalized; its norm is treated as 1 and the zero vector comes back
// unchanged.
func normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	norm := 1.0
	if sum > 0 {
		norm = math.Sqrt(sum)
	}
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
