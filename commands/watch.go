package commands

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/penwyp/go-claude-stream/internal/config"
	"github.com/penwyp/go-claude-stream/internal/data/checkpoint"
	"github.com/penwyp/go-claude-stream/internal/pipeline"
	"github.com/penwyp/go-claude-stream/internal/transport"
	"github.com/penwyp/go-claude-stream/internal/util"
)

var (
	checkpointPath string
	livenessWindow time.Duration
	debounceWindow time.Duration
	queueDepth     int
	workers        int
	listenAddr     string

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch transcripts and stream conversation deltas",
		RunE:  runWatch,
	}
)

func init() {
	watchCmd.Flags().StringVar(&checkpointPath, "checkpoint", "",
		"Checkpoint database path (overrides config)")
	watchCmd.Flags().DurationVar(&livenessWindow, "liveness-window", 0,
		"Idle duration after which a conversation is ended (overrides config)")
	watchCmd.Flags().DurationVar(&debounceWindow, "debounce", 0,
		"Write-burst coalescing window (overrides config)")
	watchCmd.Flags().IntVar(&queueDepth, "queue-depth", 0,
		"Per-subscriber delivery queue depth (overrides config)")
	watchCmd.Flags().IntVar(&workers, "workers", 0,
		"Change-notification worker count (overrides config)")
	watchCmd.Flags().StringVar(&listenAddr, "listen", "",
		"Serve the SSE event stream on this address (e.g. :8787)")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(expandPath(configFile))
	if err != nil {
		return err
	}
	applyFlags(cfg)

	logLevel := cfg.LogLevel
	if debug {
		logLevel = "debug"
	}
	logFile := expandPath(cfg.LogFile)
	if err := ensureDir(filepath.Dir(logFile)); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	util.InitLogger(logLevel, logFile, debug)

	root := expandPath(cfg.Root)
	dbPath := expandPath(cfg.CheckpointPath)

	// The checkpoint store is the one fatal dependency: without it a safe
	// resume is impossible, so an open failure blocks startup.
	store, err := checkpoint.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("checkpoint store unavailable: %w", err)
	}
	defer store.Close()

	p, err := pipeline.New(pipeline.Config{
		Root:           root,
		Workers:        cfg.Workers,
		Debounce:       cfg.Debounce.Std(),
		LivenessWindow: cfg.LivenessWindow.Std(),
		QueueDepth:     cfg.QueueDepth,
	}, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Listen != "" {
		server := &http.Server{Addr: cfg.Listen}
		http.Handle("/events", transport.NewSSEHandler(p.Hub()))

		go func() {
			util.LogInfof("Serving event stream on %s/events", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				util.LogErrorf("Event stream server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	return p.Run(ctx)
}

// applyFlags overlays any explicitly-set flags on the loaded config.
func applyFlags(cfg *config.Config) {
	if dataDir != "" {
		cfg.Root = dataDir
	}
	if checkpointPath != "" {
		cfg.CheckpointPath = checkpointPath
	}
	if livenessWindow > 0 {
		cfg.LivenessWindow = config.Duration(livenessWindow)
	}
	if debounceWindow > 0 {
		cfg.Debounce = config.Duration(debounceWindow)
	}
	if queueDepth > 0 {
		cfg.QueueDepth = queueDepth
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
}
