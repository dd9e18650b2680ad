// Package blobstore provides the narrow object-store surface the pipeline
// writes run artifacts through: raw ingest payloads, normalized content,
// run manifests, generated cards, and graph exports.
//
// Two backends exist: a filesystem store for local runs and a NATS JetStream
// object store for deployments that already run NATS. Callers depend only on
// the Store interface.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"tessera/internal/config"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// Store is the object storage contract required by the pipeline.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "fs":
		return NewFS(cfg.Store.RootDir)
	case "nats":
		return NewNATS(ctx, cfg.Store.NATSURL, cfg.Store.Bucket)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
