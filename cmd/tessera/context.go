package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"tessera/internal/blobstore"
	"tessera/internal/config"
	"tessera/internal/logging"
	"tessera/internal/notify"
	"tessera/internal/pipeline"
	"tessera/internal/services/ai"
	"tessera/internal/state"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) newLogger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewForDir(cfg.Paths.LogDir, cfg.Logging.Level, cfg.Logging.Format)
}

func (c *commandContext) openStore() (*state.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return state.Open(cfg)
}

func (c *commandContext) openBlobs(ctx context.Context) (blobstore.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return blobstore.Open(ctx, cfg)
}

// acquireLock takes the single-writer lock on the data directory. Two
// concurrent runs over one store would fight over claims for nothing, so
// the CLI refuses to start a second.
func (c *commandContext) acquireLock() (*flock.Flock, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "tessera.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another tessera process holds %s", lock.Path())
	}
	return lock, nil
}

func (c *commandContext) newOrchestrator(store *state.Store, blobs blobstore.Store, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client := ai.NewClient(ai.Config{
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		EmbedModel:        cfg.AI.EmbedModel,
		GenerateModel:     cfg.AI.GenerateModel,
		TimeoutSeconds:    cfg.AI.TimeoutSeconds,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
	})
	notifier := notify.NewService(cfg)
	return pipeline.New(cfg, store, blobs, client, client, notifier, logger), nil
}
