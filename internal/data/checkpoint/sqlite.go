package checkpoint

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// SQLiteStore implements Store using SQLite. Losing this store means safe
// resumption is impossible, so open failures are surfaced to the caller as
// startup-blocking errors instead of being degraded around.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	// WAL mode keeps checkpoint writes from blocking concurrent readers
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		path TEXT PRIMARY KEY,
		inode INTEGER NOT NULL,
		read_offset INTEGER NOT NULL,
		lines INTEGER NOT NULL,
		tail_hash TEXT,
		mod_time INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(path string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cp Checkpoint
	err := s.db.QueryRow(
		`SELECT path, inode, read_offset, lines, tail_hash, mod_time
		 FROM checkpoints WHERE path = ?`,
		path,
	).Scan(&cp.Path, &cp.Inode, &cp.Offset, &cp.Lines, &cp.TailHash, &cp.ModTime)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &cp, nil
}

func (s *SQLiteStore) Put(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO checkpoints (path, inode, read_offset, lines, tail_hash, mod_time)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			inode = excluded.inode,
			read_offset = excluded.read_offset,
			lines = excluded.lines,
			tail_hash = excluded.tail_hash,
			mod_time = excluded.mod_time`,
		cp.Path, cp.Inode, cp.Offset, cp.Lines, cp.TailHash, cp.ModTime,
	)
	if err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM checkpoints WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) All() ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT path, inode, read_offset, lines, tail_hash, mod_time FROM checkpoints`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Path, &cp.Inode, &cp.Offset, &cp.Lines, &cp.TailHash, &cp.ModTime); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, &cp)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
