// Package db opens the board's SQLite database and keeps its schema current.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath returns the default database path: ~/.incident-board/board.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".incident-board", "board.db"), nil
}

// dsn builds the connection string. Options go in the DSN rather than as
// PRAGMA statements so every pooled connection gets them.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	// Write transactions take the lock at BEGIN, so a read followed by a
	// write inside one transaction cannot fail with SQLITE_BUSY midway.
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeOnError(db, fmt.Errorf("connecting to %s: %w", path, err))
	}
	if err := migrate(db); err != nil {
		return nil, closeOnError(db, fmt.Errorf("running migrations: %w", err))
	}
	return db, nil
}

func closeOnError(db *sql.DB, err error) error {
	if cerr := db.Close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("closing database: %w", cerr))
	}
	return err
}
