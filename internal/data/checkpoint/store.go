package checkpoint

import (
	"sync"
)

// Checkpoint records how far a single file has been consumed. The inode plus
// the tail fingerprint identify the file beyond its path, so a path reused by
// a new file is never mistaken for an append.
type Checkpoint struct {
	Path     string
	Inode    uint64
	Offset   int64 // byte offset consumed so far, non-decreasing per identity
	Lines    int64 // count of complete lines handed downstream
	TailHash string
	ModTime  int64
}

// Store is the durable map of file identity to read progress. Implementations
// must be safe for concurrent use. Get returns (nil, nil) when no checkpoint
// exists for the path.
type Store interface {
	Get(path string) (*Checkpoint, error)
	Put(cp *Checkpoint) error
	Delete(path string) error
	All() ([]*Checkpoint, error)
	Close() error
}

// MemoryStore is an in-memory Store used in tests and as a non-durable
// fallback.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]Checkpoint),
	}
}

func (s *MemoryStore) Get(path string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[path]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

func (s *MemoryStore) Put(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.Path] = *cp
	return nil
}

func (s *MemoryStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, path)
	return nil
}

func (s *MemoryStore) All() ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		c := cp
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
