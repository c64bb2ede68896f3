package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "~/.claude/projects", cfg.Root)
	assert.Equal(t, "~/.go-claude-stream/checkpoints.db", cfg.CheckpointPath)
	assert.Equal(t, 5*time.Minute, cfg.LivenessWindow.Std())
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce.Std())
	assert.Equal(t, 256, cfg.QueueDepth)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Listen)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
root: /var/transcripts
liveness_window: 10m
debounce: 200ms
queue_depth: 32
listen: ":8787"
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/transcripts", cfg.Root)
	assert.Equal(t, 10*time.Minute, cfg.LivenessWindow.Std())
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce.Std())
	assert.Equal(t, 32, cfg.QueueDepth)
	assert.Equal(t, ":8787", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Unset keys keep their defaults.
	assert.Equal(t, "~/.go-claude-stream/checkpoints.db", cfg.CheckpointPath)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: [broken"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debounce: soonish"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Root = "" }},
		{"empty checkpoint path", func(c *Config) { c.CheckpointPath = "" }},
		{"zero liveness window", func(c *Config) { c.LivenessWindow = 0 }},
		{"negative debounce", func(c *Config) { c.Debounce = Duration(-time.Second) }},
		{"zero queue depth", func(c *Config) { c.QueueDepth = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
