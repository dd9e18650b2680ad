// Package main hosts the Tessera CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the two trigger surfaces (manual run
// and scheduled loop), highlight ingestion, item status and run report
// inspection, failed-item retries, and configuration scaffolding. It
// centralizes configuration resolution, data-directory locking, and logger
// setup so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
