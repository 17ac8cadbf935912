// Package vault implements the transactional local store holding courses,
// sections, lessons, media records and the durable sync outbox.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrCorrupt indicates the underlying database failed its integrity
	// check. It is fatal: the store refuses to open rather than continue
	// on a damaged file.
	ErrCorrupt = errors.New("vault: database corrupt")
	// ErrNotFound indicates a row lookup matched nothing
	ErrNotFound = errors.New("vault: not found")
)

// Store owns the vault database handle. Write transactions are serialized
// internally; callers never coordinate access themselves.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewStore wraps an already-open database handle (used by tests)
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the vault database at path, enables foreign-key
// cascades and verifies the file is not corrupt.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		db.Close()
		return nil, ErrCorrupt
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for read paths
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a single write transaction. A failure anywhere rolls
// the whole unit back. Concurrent write transactions are serialized here.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execer is the subset of database operations shared by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
