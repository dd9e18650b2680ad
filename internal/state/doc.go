// Package state persists the pipeline's durable per-item state in SQLite:
// items with their content hashes, per-(item, stage) status records, stored
// embeddings, and neighbor link lists.
//
// The store is the single source of truth for resumability. All status
// movement goes through compare-and-set transitions keyed on (item_id,
// stage) so concurrent workers and overlapping manual re-runs cannot lose
// updates: Claim guards on {pending, failed}, MarkComplete and MarkFailed
// guard on processing. ListEligible is the delta filter that bounds each
// run's work to items whose content actually changed.
package state
