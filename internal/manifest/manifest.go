// Package manifest builds and persists the immutable item set a pipeline
// run operates on. A manifest is frozen at run start: items ingested after
// that point belong to the next run.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"tessera/internal/blobstore"
)

// ErrEmpty reports a manifest with no items. The orchestrator refuses to
// start on it, and the CLI surfaces it as a hard error so a misconfigured
// data dir is visible immediately.
var ErrEmpty = errors.New("manifest: no items")

// Manifest freezes the identity of a pipeline run.
type Manifest struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	ItemIDs   []string  `json:"item_ids"`
}

// Build creates a manifest over the given item ids. Duplicates collapse and
// the order is normalized so two runs over the same set compare equal item
// for item.
func Build(itemIDs []string) (*Manifest, error) {
	seen := make(map[string]struct{}, len(itemIDs))
	ids := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrEmpty
	}
	sort.Strings(ids)

	return &Manifest{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		ItemIDs:   ids,
	}, nil
}

// Contains reports whether the manifest includes the item.
func (m *Manifest) Contains(itemID string) bool {
	i := sort.SearchStrings(m.ItemIDs, itemID)
	return i < len(m.ItemIDs) && m.ItemIDs[i] == itemID
}

// Save persists the manifest. Saving is write-once per run id; the pipeline
// never rewrites a manifest after the run starts.
func Save(ctx context.Context, blobs blobstore.Store, m *Manifest) error {
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest %s: %w", m.RunID, err)
	}
	if err := blobs.Put(ctx, blobstore.ManifestKey(m.RunID), payload); err != nil {
		return fmt.Errorf("store manifest %s: %w", m.RunID, err)
	}
	return nil
}

// Load retrieves a previously saved manifest by run id.
func Load(ctx context.Context, blobs blobstore.Store, runID string) (*Manifest, error) {
	payload, err := blobs.Get(ctx, blobstore.ManifestKey(runID))
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", runID, err)
	}
	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	if len(m.ItemIDs) == 0 {
		return nil, ErrEmpty
	}
	return &m, nil
}
