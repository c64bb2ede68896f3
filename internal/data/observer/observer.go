package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/util"
)

const defaultQueueSize = 256

// Observer watches a root directory recursively for transcript file changes
// and emits coalesced change notifications. Rapid writes to the same file
// within the debounce window collapse into a single modify event. It holds no
// parsing state.
type Observer struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	events   chan model.FileEvent

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	done    chan struct{}
	wg      sync.WaitGroup
	timerWG sync.WaitGroup
}

// New creates an Observer for the given root. The root must exist.
func New(root string, debounce time.Duration) (*Observer, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot observe root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("observed root is not a directory: %s", root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	o := &Observer{
		watcher:  watcher,
		root:     root,
		debounce: debounce,
		events:   make(chan model.FileEvent, defaultQueueSize),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	if err := o.addTree(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return o, nil
}

// Start emits a modify event for every pre-existing transcript file so a
// restart misses nothing, then begins processing change notifications until
// the context is cancelled or Close is called. The backlog is emitted from
// its own goroutine: it may exceed the event queue capacity, so it must not
// block Start while no consumer is draining yet.
func (o *Observer) Start(ctx context.Context) error {
	existing, err := o.scanExisting()
	if err != nil {
		return err
	}

	o.wg.Add(1)
	go o.run(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for _, path := range existing {
			select {
			case o.events <- model.FileEvent{Path: path, Kind: model.ChangeModify}:
			case <-ctx.Done():
				return
			case <-o.done:
				return
			}
		}
	}()

	return nil
}

// Events returns the channel of coalesced change notifications. It is closed
// after the observer stops and all pending debounce timers have fired or been
// cancelled.
func (o *Observer) Events() <-chan model.FileEvent {
	return o.events
}

// Close stops watching and releases resources.
func (o *Observer) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for path, timer := range o.pending {
		if timer.Stop() {
			o.timerWG.Done()
		}
		delete(o.pending, path)
	}
	o.mu.Unlock()

	close(o.done)
	err := o.watcher.Close()
	o.wg.Wait()
	o.timerWG.Wait()
	close(o.events)
	return err
}

// addTree recursively registers every directory beneath path. A failing entry
// is skipped with a warning so one bad directory never aborts the watch.
func (o *Observer) addTree(path string) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			util.LogWarnf("Skip unwatchable path: %s - %v", p, err)
			return nil
		}

		if info.IsDir() {
			if werr := o.watcher.Add(p); werr != nil {
				util.LogWarnf("Failed to watch directory: %s - %v", p, werr)
			}
		}

		return nil
	})
}

// scanExisting walks the root and collects all transcript files already on
// disk.
func (o *Observer) scanExisting() ([]string, error) {
	start := time.Now()
	var files []string

	err := filepath.Walk(o.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			util.LogDebugf("Skip file (error): %s - %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if isTranscript(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initial scan failed: %w", err)
	}

	util.LogDebugf("Initial scan completed: duration %v, found %d transcript files",
		time.Since(start), len(files))
	return files, nil
}

func (o *Observer) run(ctx context.Context) {
	defer o.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return

		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.handle(event)

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue running
			util.LogError("File monitoring error: " + err.Error())
		}
	}
}

func (o *Observer) handle(event fsnotify.Event) {
	// New directories join the watch so nested session files are picked up.
	// Files that landed in the directory before the watch attached are
	// scheduled explicitly; their create events were never observable.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := o.addTree(event.Name); err != nil {
				util.LogWarnf("Failed to watch new directory: %s - %v", event.Name, err)
			}
			_ = filepath.Walk(event.Name, func(p string, fi os.FileInfo, werr error) error {
				if werr == nil && !fi.IsDir() && isTranscript(p) {
					o.schedule(p, model.ChangeCreate)
				}
				return nil
			})
			return
		}
	}

	if !isTranscript(event.Name) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove):
		o.cancelPending(event.Name)
		o.emit(model.FileEvent{Path: event.Name, Kind: model.ChangeRemove})
	case event.Op.Has(fsnotify.Rename):
		o.cancelPending(event.Name)
		o.emit(model.FileEvent{Path: event.Name, Kind: model.ChangeRename})
	case event.Op.Has(fsnotify.Create):
		o.schedule(event.Name, model.ChangeCreate)
	case event.Op.Has(fsnotify.Write):
		o.schedule(event.Name, model.ChangeModify)
	}
}

// schedule arms (or re-arms) the debounce timer for path. The notification
// fires once the file has been quiet for the debounce window.
func (o *Observer) schedule(path string, kind model.ChangeKind) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}

	if timer, ok := o.pending[path]; ok {
		timer.Reset(o.debounce)
		return
	}

	o.timerWG.Add(1)
	o.pending[path] = time.AfterFunc(o.debounce, func() {
		defer o.timerWG.Done()

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		delete(o.pending, path)
		o.mu.Unlock()

		o.emit(model.FileEvent{Path: path, Kind: kind})
	})
}

func (o *Observer) cancelPending(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if timer, ok := o.pending[path]; ok {
		if timer.Stop() {
			o.timerWG.Done()
		}
		delete(o.pending, path)
	}
}

func (o *Observer) emit(ev model.FileEvent) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func isTranscript(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".jsonl")
}
