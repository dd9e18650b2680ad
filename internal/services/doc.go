// Package services defines shared utilities consumed by stage transforms and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, stage names, run IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into retry behaviour (transient vs permanently excluded).
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
