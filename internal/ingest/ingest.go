// Package ingest loads reading-highlight exports into the pipeline. Each
// highlight becomes one item (or several chunked items when oversized),
// its raw payload lands in object storage, and the item row carries the
// content hash that drives delta detection on later runs.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tessera/internal/blobstore"
	"tessera/internal/contenthash"
	"tessera/internal/logging"
	"tessera/internal/services"
	"tessera/internal/state"
)

// maxChunkRunes bounds the text carried by a single item. Longer highlights
// split into chunks sharing a parent id so downstream stages stay within
// provider input limits.
const maxChunkRunes = 4000

// Highlight is the raw export payload for one reading highlight.
type Highlight struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Text     string `json:"text"`
	Note     string `json:"note,omitempty"`
	Location string `json:"location,omitempty"`
}

// Summary reports what an ingest pass did.
type Summary struct {
	Files   int
	Items   int
	Changed int
}

// Run ingests every .json export under dir. Files may hold a single
// highlight object or an array of them. Returns the ids of all items
// touched, whether or not their content changed.
func Run(ctx context.Context, store *state.Store, blobs blobstore.Store, dir string, logger *slog.Logger) ([]string, Summary, error) {
	var summary Summary
	highlights, files, err := collect(dir)
	if err != nil {
		return nil, summary, err
	}
	summary.Files = files

	log := logging.NewComponentLogger(logger, "ingest")
	itemIDs := make([]string, 0, len(highlights))
	for _, h := range highlights {
		ids, changed, err := ingestHighlight(ctx, store, blobs, h)
		if err != nil {
			return nil, summary, err
		}
		itemIDs = append(itemIDs, ids...)
		summary.Items += len(ids)
		summary.Changed += changed
	}
	sort.Strings(itemIDs)

	log.Info("ingest finished",
		logging.Int("files", summary.Files),
		logging.Int("items", summary.Items),
		logging.Int("changed", summary.Changed),
	)
	return itemIDs, summary, nil
}

func collect(dir string) ([]Highlight, int, error) {
	var highlights []Highlight
	files := 0
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read export %s: %w", path, err)
		}
		parsed, err := parseExport(payload)
		if err != nil {
			return services.Wrap(services.ErrValidation, "ingest", "parse export",
				fmt.Sprintf("malformed export file %s", filepath.Base(path)), err)
		}
		for i := range parsed {
			if parsed[i].Source == "" {
				parsed[i].Source = filepath.Base(path)
			}
		}
		highlights = append(highlights, parsed...)
		files++
		return nil
	})
	if err != nil {
		return nil, files, err
	}
	return highlights, files, nil
}

func parseExport(payload []byte) ([]Highlight, error) {
	var many []Highlight
	if err := json.Unmarshal(payload, &many); err == nil {
		return many, nil
	}
	var one Highlight
	if err := json.Unmarshal(payload, &one); err != nil {
		return nil, err
	}
	return []Highlight{one}, nil
}

func ingestHighlight(ctx context.Context, store *state.Store, blobs blobstore.Store, h Highlight) ([]string, int, error) {
	if strings.TrimSpace(h.ID) == "" {
		return nil, 0, services.Wrap(services.ErrValidation, "ingest", "validate highlight", "highlight has no id", nil)
	}
	if strings.TrimSpace(h.Text) == "" {
		return nil, 0, services.Wrap(services.ErrValidation, "ingest", "validate highlight",
			fmt.Sprintf("highlight %s has no text", h.ID), nil)
	}

	chunks := chunkText(h.Text)
	parentID := ""
	if len(chunks) > 1 {
		parentID = h.ID
	}

	ids := make([]string, 0, len(chunks))
	changedCount := 0
	for i, chunk := range chunks {
		itemID := h.ID
		if parentID != "" {
			itemID = fmt.Sprintf("%s-%03d", h.ID, i)
		}

		part := h
		part.ID = itemID
		part.Text = chunk
		raw, err := json.Marshal(part)
		if err != nil {
			return nil, changedCount, fmt.Errorf("encode highlight %s: %w", itemID, err)
		}
		if err := blobs.Put(ctx, blobstore.RawKey(itemID), raw); err != nil {
			return nil, changedCount, fmt.Errorf("store raw payload %s: %w", itemID, err)
		}

		changed, err := store.UpsertItem(ctx, state.Item{
			ItemID:      itemID,
			ParentID:    parentID,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			ContentHash: contenthash.SumString(chunk),
			Source:      h.Source,
		})
		if err != nil {
			return nil, changedCount, fmt.Errorf("upsert item %s: %w", itemID, err)
		}
		if changed {
			changedCount++
		}
		ids = append(ids, itemID)
	}
	return ids, changedCount, nil
}

// chunkText splits on rune boundaries, preferring whitespace near the limit
// so chunks do not cut words mid-way.
func chunkText(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxChunkRunes {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		end := maxChunkRunes
		if end > len(runes) {
			end = len(runes)
		} else {
			for i := end - 1; i > end/2; i-- {
				if runes[i] == ' ' || runes[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[:end])))
		runes = runes[end:]
	}
	return chunks
}
