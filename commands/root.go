package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Logging related
	debug bool

	// Configuration file
	configFile string

	// Data path
	dataDir string

	rootCmd = &cobra.Command{
		Use:   "go-claude-stream [flags]",
		Short: "Claude Code transcript streaming tool",
		Long: `go-claude-stream watches a Claude project directory for transcript changes,
reconstructs conversations incrementally, and broadcasts live deltas to subscribers.

The watcher reads only bytes appended since its last checkpoint, so restarts
resume exactly where they left off without re-processing history.

Examples:
  go-claude-stream watch                                 # Watch the default directory
  go-claude-stream watch --dir /path/to/claude/projects  # Watch a specific directory
  go-claude-stream watch --listen :8787                  # Also serve the SSE event stream
  go-claude-stream watch --liveness-window 2m            # End idle conversations after 2m`,
	}
)

const (
	defaultConfigFile = "~/.go-claude-stream/config.yaml"
	defaultDataDir    = "~/.claude/projects"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", defaultConfigFile,
		"Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "",
		"Claude project directory path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable debug mode")
}

func Execute() error {
	return rootCmd.Execute()
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
