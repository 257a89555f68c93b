package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection of a session index.
type DB struct {
	*sql.DB
}

const pragmas = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// Open connects to the index at path over a single connection shared by
// engine writes and control reads.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &DB{conn}, nil
}

// OpenFresh removes any index left by a previous run, then opens path. The
// index only covers what the current run has seen.
func OpenFresh(path string) (*DB, error) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reset index: %w", err)
		}
	}
	return Open(path)
}
