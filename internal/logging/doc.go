// Package logging centralizes slog construction and the structured field
// vocabulary shared by the orchestrator, stage executor, and CLI. Loggers
// carry run, item, and stage identifiers derived from context so every line
// emitted during a pipeline run is attributable to one item in one run.
package logging
