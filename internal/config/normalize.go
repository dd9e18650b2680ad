package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeAI()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if strings.TrimSpace(c.Store.RootDir) == "" {
		c.Store.RootDir = defaultStoreRootDir
	}
	var err error
	if c.Store.RootDir, err = expandPath(c.Store.RootDir); err != nil {
		return fmt.Errorf("store.root_dir: %w", err)
	}
	c.Store.NATSURL = strings.TrimSpace(c.Store.NATSURL)
	c.Store.Bucket = strings.TrimSpace(c.Store.Bucket)
	if c.Store.Bucket == "" {
		c.Store.Bucket = defaultStoreBucket
	}
	return nil
}

func (c *Config) normalizeAI() {
	if c.AI.APIKey == "" {
		if value, ok := os.LookupEnv("TESSERA_AI_API_KEY"); ok {
			c.AI.APIKey = value
		}
	}
	c.AI.BaseURL = strings.TrimSpace(c.AI.BaseURL)
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = defaultAIBaseURL
	}
	c.AI.EmbedModel = strings.TrimSpace(c.AI.EmbedModel)
	if c.AI.EmbedModel == "" {
		c.AI.EmbedModel = defaultAIEmbedModel
	}
	c.AI.GenerateModel = strings.TrimSpace(c.AI.GenerateModel)
	if c.AI.GenerateModel == "" {
		c.AI.GenerateModel = defaultAIGenerateModel
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = defaultAITimeoutSeconds
	}
	if c.AI.RequestsPerSecond <= 0 {
		c.AI.RequestsPerSecond = defaultAIRequestsPerSecond
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = defaultWorkers
	}
	if c.Pipeline.RetryCeiling <= 0 {
		c.Pipeline.RetryCeiling = defaultRetryCeiling
	}
	if c.Pipeline.RunTimeoutSeconds <= 0 {
		c.Pipeline.RunTimeoutSeconds = defaultRunTimeoutSeconds
	}
	if c.Pipeline.ItemTimeoutSeconds <= 0 {
		c.Pipeline.ItemTimeoutSeconds = defaultItemTimeoutSeconds
	}
	c.Pipeline.ClusterStrategy = strings.TrimSpace(c.Pipeline.ClusterStrategy)
	if c.Pipeline.ClusterStrategy == "" {
		c.Pipeline.ClusterStrategy = defaultClusterStrategy
	}
	if c.Pipeline.ScheduleHours <= 0 {
		c.Pipeline.ScheduleHours = defaultScheduleHours
	}
	if c.Linker.TopK <= 0 {
		c.Linker.TopK = defaultLinkerTopK
	}
	// MinScore is not coerced: Default() seeds it and decoding only
	// overwrites present keys, so an explicit min_score = 0 must survive.
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
