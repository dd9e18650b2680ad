package state

import (
	"strings"
	"time"
)

// Status represents the lifecycle of one item within one stage.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusComplete,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Item represents one unit of pipeline work: a highlight document or a chunk
// of one. Chunked documents carry the parent identifier and their position.
type Item struct {
	ItemID      string
	ParentID    string
	ChunkIndex  int
	TotalChunks int
	ContentHash string
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StageStatus is the per-(item, stage) status record. Records are created
// lazily on first stage touch and only move forward: pending → processing →
// complete, or processing → failed → pending on retry. A complete record
// regresses to pending only through content-hash invalidation at ingest.
type StageStatus struct {
	ItemID                   string
	Stage                    string
	Status                   Status
	ContentHashAtLastSuccess string
	RetryCount               int
	LastTransitionAt         time.Time
	LastError                string
}

// Exclusion identifies an item permanently dropped from a stage after
// exhausting its retries.
type Exclusion struct {
	ItemID    string `json:"item_id"`
	Stage     string `json:"stage"`
	LastError string `json:"last_error"`
}

// NeighborLink is one entry in an item's ranked similarity list.
type NeighborLink struct {
	NeighborID string  `json:"neighbor_id"`
	Score      float64 `json:"score"`
}

// ItemVector pairs an item with its stored embedding.
type ItemVector struct {
	ItemID string
	Vector []float32
}

// HealthSummary describes aggregated per-stage record counts.
type HealthSummary struct {
	Items      int
	Pending    int
	Processing int
	Complete   int
	Failed     int
}
