// Package config loads, normalizes, and validates tessera's TOML
// configuration. Configuration is an explicit struct handed to the
// orchestrator at construction; nothing reads ambient global state after
// Load returns.
package config
