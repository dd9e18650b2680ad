package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Store contains configuration for the object store backend.
type Store struct {
	// Backend selects where run artifacts live: "fs" (default) or "nats".
	Backend string `toml:"backend"`
	RootDir string `toml:"root_dir"`
	NATSURL string `toml:"nats_url"`
	Bucket  string `toml:"bucket"`
}

// AI contains connection settings for the embedding/generation provider.
type AI struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	EmbedModel        string  `toml:"embed_model"`
	GenerateModel     string  `toml:"generate_model"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Pipeline contains orchestration settings shared by all stages.
type Pipeline struct {
	Workers            int    `toml:"workers"`
	RetryCeiling       int    `toml:"retry_ceiling"`
	RunTimeoutSeconds  int    `toml:"run_timeout_seconds"`
	ItemTimeoutSeconds int    `toml:"item_timeout_seconds"`
	ClusterStrategy    string `toml:"cluster_strategy"`
	ScheduleHours      int    `toml:"schedule_hours"`
}

// Linker contains configuration for the neighbor linking stage. The values
// are pipeline-level on purpose: both clustering strategies share them.
type Linker struct {
	TopK     int     `toml:"top_k"`
	MinScore float64 `toml:"min_score"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tessera.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Store: object store backend (filesystem or NATS JetStream)
//   - AI: embedding/generation provider connection
//   - Pipeline: worker pool, retry ceiling, deadlines, cluster strategy
//   - Linker: neighbor linking parameters
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	AI            AI            `toml:"ai"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Linker        Linker        `toml:"linker"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tessera/config.toml")
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// ExpandPath expands a leading tilde and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// CreateSample writes the embedded sample configuration to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o600)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("tessera.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}
