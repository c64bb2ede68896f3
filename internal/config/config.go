package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse naturally.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full configuration surface of the watcher. Flags override
// file values; both fall back to defaults.
type Config struct {
	// Root is the monitored directory tree of transcript files.
	Root string `yaml:"root"`
	// CheckpointPath is the SQLite database holding read offsets.
	CheckpointPath string `yaml:"checkpoint_path"`
	// LivenessWindow ends conversations idle longer than this.
	LivenessWindow Duration `yaml:"liveness_window"`
	// Debounce coalesces write bursts per file.
	Debounce Duration `yaml:"debounce"`
	// QueueDepth bounds each subscriber's delivery queue.
	QueueDepth int `yaml:"queue_depth"`
	// Workers is the change-notification worker count.
	Workers int `yaml:"workers"`
	// Listen, when set, serves the live SSE event stream on this address.
	Listen string `yaml:"listen"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root:           "~/.claude/projects",
		CheckpointPath: "~/.go-claude-stream/checkpoints.db",
		LivenessWindow: Duration(5 * time.Minute),
		Debounce:       Duration(50 * time.Millisecond),
		QueueDepth:     256,
		Workers:        4,
		LogLevel:       "info",
		LogFile:        "~/.go-claude-stream/logs/app.log",
	}
}

// Load reads the YAML config at path over the defaults. A missing file is not
// an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root directory must be set")
	}
	if c.CheckpointPath == "" {
		return fmt.Errorf("checkpoint path must be set")
	}
	if c.LivenessWindow.Std() <= 0 {
		return fmt.Errorf("liveness window must be positive")
	}
	if c.Debounce.Std() < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queue depth must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	return nil
}
