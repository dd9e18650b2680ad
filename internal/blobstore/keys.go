package blobstore

import "fmt"

// Key layout. Every artifact the pipeline produces lives under one of these
// prefixes so a bucket listing groups by concern.

// RawKey addresses the raw ingest payload for an item.
func RawKey(itemID string) string {
	return fmt.Sprintf("raw/%s.json", itemID)
}

// NormalizedKey addresses an item's normalized content.
func NormalizedKey(itemID string) string {
	return fmt.Sprintf("normalized/%s.txt", itemID)
}

// ManifestKey addresses the immutable manifest for a run.
func ManifestKey(runID string) string {
	return fmt.Sprintf("manifests/%s.json", runID)
}

// ReportKey addresses the machine-readable report for a run.
func ReportKey(runID string) string {
	return fmt.Sprintf("reports/%s.json", runID)
}

// StageArtifactKey addresses a per-item stage output (cluster assignment,
// summary, synthesis).
func StageArtifactKey(stage, itemID string) string {
	return fmt.Sprintf("artifacts/%s/%s.json", stage, itemID)
}

// CardKey addresses the exported knowledge card for an item.
func CardKey(itemID string) string {
	return fmt.Sprintf("cards/%s.json", itemID)
}

// GraphExportKey addresses the exported neighbor graph for a run.
func GraphExportKey(runID string) string {
	return fmt.Sprintf("graphs/%s.json", runID)
}
