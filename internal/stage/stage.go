// Package stage defines the ordered pipeline stages and the contract a
// per-item transform must satisfy.
package stage

import (
	"context"
	"fmt"

	"tessera/internal/state"
)

// Stage names, in pipeline order.
const (
	Normalize     = "normalize"
	Embed         = "embed"
	Cluster       = "cluster"
	LinkNeighbors = "link_neighbors"
	Summarize     = "summarize"
	Synthesize    = "synthesize"
	Export        = "export"
	Notify        = "notify"
)

// Order is the canonical stage sequence. Every stage gates on the one
// before it; the first stage has no upstream.
var Order = []string{
	Normalize,
	Embed,
	Cluster,
	LinkNeighbors,
	Summarize,
	Synthesize,
	Export,
	Notify,
}

// Upstream returns the stage immediately before the given one, or the empty
// string for the first stage. Unknown stages return an error.
func Upstream(name string) (string, error) {
	for i, s := range Order {
		if s != name {
			continue
		}
		if i == 0 {
			return "", nil
		}
		return Order[i-1], nil
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// Known reports whether the name is a defined stage.
func Known(name string) bool {
	for _, s := range Order {
		if s == name {
			return true
		}
	}
	return false
}

// Output is what a transform produced for one item. ArtifactKey and
// Artifact are optional: stages whose output lives entirely in the state
// store (link_neighbors) leave them empty.
type Output struct {
	ArtifactKey string
	Artifact    []byte
}

// Transform processes a single item for one stage. Implementations must not
// hold store transactions open across the call; the executor persists the
// result afterwards. A nil error marks the item complete at its current
// content hash.
type Transform func(ctx context.Context, item *state.Item) (Output, error)

// Result aggregates the outcome of running one stage over a manifest pass.
// Skipped counts manifest items the delta filter left alone, either because
// they were already complete at their current content hash or because their
// upstream stage has not finished.
type Result struct {
	Stage     string `json:"stage"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Excluded  int    `json:"excluded"`
}
