package testsupport

import (
	"path/filepath"
	"testing"

	"tessera/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Store.RootDir = filepath.Join(base, "objects")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithRetryCeiling overrides the pipeline retry ceiling on the test config.
func WithRetryCeiling(ceiling int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.RetryCeiling = ceiling
	}
}

// WithClusterStrategy overrides the cluster strategy on the test config.
func WithClusterStrategy(strategy string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.ClusterStrategy = strategy
	}
}
