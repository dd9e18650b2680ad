package config

import (
	"errors"
	"fmt"
)

// ClusterStrategyA and ClusterStrategyB are the two clustering strategies the
// orchestrator can branch between. The selection happens once per run.
const (
	ClusterStrategyA = "strategyA"
	ClusterStrategyB = "strategyB"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLinker(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "fs":
		if c.Store.RootDir == "" {
			return errors.New("store.root_dir must be set for the fs backend")
		}
	case "nats":
		if c.Store.NATSURL == "" {
			return errors.New("store.nats_url must be set when store.backend is nats")
		}
		if c.Store.Bucket == "" {
			return errors.New("store.bucket must be set when store.backend is nats")
		}
	default:
		return fmt.Errorf("store.backend must be fs or nats, got %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.workers":              c.Pipeline.Workers,
		"pipeline.retry_ceiling":        c.Pipeline.RetryCeiling,
		"pipeline.run_timeout_seconds":  c.Pipeline.RunTimeoutSeconds,
		"pipeline.item_timeout_seconds": c.Pipeline.ItemTimeoutSeconds,
		"pipeline.schedule_hours":       c.Pipeline.ScheduleHours,
	}); err != nil {
		return err
	}
	switch c.Pipeline.ClusterStrategy {
	case ClusterStrategyA, ClusterStrategyB:
		return nil
	default:
		return fmt.Errorf("pipeline.cluster_strategy must be %s or %s, got %q",
			ClusterStrategyA, ClusterStrategyB, c.Pipeline.ClusterStrategy)
	}
}

func (c *Config) validateLinker() error {
	if c.Linker.TopK <= 0 {
		return errors.New("linker.top_k must be positive")
	}
	if c.Linker.MinScore < -1 || c.Linker.MinScore > 1 {
		return errors.New("linker.min_score must be between -1 and 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
