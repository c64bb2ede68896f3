package reader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/penwyp/go-claude-stream/internal/data/checkpoint"
	"github.com/penwyp/go-claude-stream/internal/util"
)

// Batch is the complete lines appended to a file since its checkpoint. A
// trailing partial line is never included; the next read retries from the
// same offset.
type Batch struct {
	Path      string
	Lines     [][]byte
	FirstLine int64 // index of the first line in Lines within the whole file
	Offset    int64 // file offset after the last complete line
	Truncated bool  // the file shrank or the path was reused; downstream state is stale
}

// Reader performs incremental reads of growing transcript files, resuming
// from the checkpoint store. A single file is processed by at most one
// goroutine at a time; distinct files proceed in parallel.
type Reader struct {
	store checkpoint.Store
	locks sync.Map // path -> *sync.Mutex
}

// New creates a Reader backed by the given checkpoint store.
func New(store checkpoint.Store) *Reader {
	return &Reader{store: store}
}

func (r *Reader) lock(path string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Process reads everything appended to path since its checkpoint, hands the
// batch to deliver, and persists the advanced checkpoint only after deliver
// returns nil. A crash between delivery and persistence re-reads the same
// lines on the next pass, never loses them. An empty batch (nothing new, or
// only a partial trailing line) skips delivery entirely.
func (r *Reader) Process(path string, deliver func(*Batch) error) error {
	mu := r.lock(path)
	mu.Lock()
	defer mu.Unlock()

	cp, err := r.store.Get(path)
	if err != nil {
		return fmt.Errorf("checkpoint lookup failed for %s: %w", path, err)
	}
	if cp == nil {
		cp = &checkpoint.Checkpoint{Path: path}
	}

	info, err := util.GetFileInfo(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File gone between notification and read; the checkpoint stays so
			// a reappearing file with the same inode resumes cleanly.
			return nil
		}
		return err
	}

	truncated := false
	if cp.Offset > 0 {
		switch {
		case info.Inode != cp.Inode:
			util.LogDebugf("File replaced (inode %d -> %d), resetting checkpoint: %s",
				cp.Inode, info.Inode, path)
			truncated = true
		case info.Size < cp.Offset:
			util.LogDebugf("File truncated (%d < %d), resetting checkpoint: %s",
				info.Size, cp.Offset, path)
			truncated = true
		default:
			hash, herr := util.TailFingerprint(path, cp.Offset)
			if herr != nil || (cp.TailHash != "" && hash != cp.TailHash) {
				util.LogDebugf("File content diverged from checkpoint, resetting: %s", path)
				truncated = true
			}
		}
		if truncated {
			cp = &checkpoint.Checkpoint{Path: path}
		}
	}

	if info.Size == cp.Offset && !truncated {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if cp.Offset > 0 {
		if _, err := file.Seek(cp.Offset, io.SeekStart); err != nil {
			return err
		}
	}

	buf, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("incremental read failed for %s: %w", path, err)
	}

	// Consume only up to the last newline; the writer may be mid-line.
	consumed := buf
	if idx := bytes.LastIndexByte(buf, '\n'); idx >= 0 {
		consumed = buf[:idx+1]
	} else {
		consumed = nil
	}

	lines := splitLines(consumed)
	newOffset := cp.Offset + int64(len(consumed))

	if len(lines) == 0 && !truncated {
		return nil
	}

	batch := &Batch{
		Path:      path,
		Lines:     lines,
		FirstLine: cp.Lines,
		Offset:    newOffset,
		Truncated: truncated,
	}

	if err := deliver(batch); err != nil {
		return fmt.Errorf("batch delivery failed for %s: %w", path, err)
	}

	next := &checkpoint.Checkpoint{
		Path:    path,
		Inode:   info.Inode,
		Offset:  newOffset,
		Lines:   cp.Lines + int64(len(lines)),
		ModTime: info.ModTime,
	}
	if newOffset > 0 {
		if hash, herr := util.TailFingerprint(path, newOffset); herr == nil {
			next.TailHash = hash
		}
	}

	if err := r.store.Put(next); err != nil {
		return fmt.Errorf("checkpoint persistence failed for %s: %w", path, err)
	}

	return nil
}

// Forget drops the checkpoint for a removed file.
func (r *Reader) Forget(path string) error {
	mu := r.lock(path)
	mu.Lock()
	defer mu.Unlock()

	return r.store.Delete(path)
}

// splitLines splits consumed bytes into complete lines, dropping the
// terminating newlines and any blank lines.
func splitLines(consumed []byte) [][]byte {
	if len(consumed) == 0 {
		return nil
	}

	var lines [][]byte
	for _, line := range bytes.Split(consumed, []byte{'\n'}) {
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
