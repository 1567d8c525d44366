// Package storage provides the embedded sqlite substrate shared by the
// memory, governance, embed-cache, and learning stores: WAL journaling,
// versioned migrations, and write transactions with bounded busy retry.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

const (
	busyMaxRetries = 5
	busyBaseDelay  = 25 * time.Millisecond
)

// DB wraps a single sqlite database file. Writes are serialized on a mutex;
// readers proceed concurrently thanks to WAL.
type DB struct {
	sql  *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path and applies pragmas.
// Use OpenMemory for an in-memory database in tests.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, derrors.StorageUnavailable(err).WithContext("path", path)
		}
	}
	return open(path)
}

// OpenMemory opens a private in-memory database.
func OpenMemory() (*DB, error) {
	return open(":memory:")
}

func open(path string) (*DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, derrors.StorageUnavailable(err).WithContext("path", path)
	}

	// A single connection keeps the write lock story simple; WAL still lets
	// this connection read while another process reads.
	handle.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := handle.Exec(p); err != nil {
			_ = handle.Close()
			return nil, derrors.StorageUnavailable(err).WithContext("pragma", p)
		}
	}

	return &DB{sql: handle, path: path}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Path returns the database file path (":memory:" for in-memory databases).
func (d *DB) Path() string { return d.path }

// Handle exposes the raw *sql.DB for read queries.
func (d *DB) Handle() *sql.DB { return d.sql }

// Tx runs fn inside a write transaction, retrying on SQLITE_BUSY with
// jittered exponential backoff. The transaction is rolled back when fn
// returns an error.
func (d *DB) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= busyMaxRetries; attempt++ {
		if attempt > 0 {
			delay := busyBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(busyBaseDelay)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return derrors.Timeout("storage tx")
			}
		}

		lastErr = d.tryTx(ctx, fn)
		if lastErr == nil || !isBusy(lastErr) {
			return lastErr
		}
	}
	return derrors.StorageUnavailable(lastErr).WithContext("path", d.path)
}

func (d *DB) tryTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Migration is one schema version: an ordered list of DDL/DML statements
// applied atomically together with its schema_versions row.
type Migration struct {
	Version    int
	Statements []string
}

const schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`

// Migrate applies all pending migrations in version order. Each version runs
// in its own transaction so an interrupted run never leaves a half-applied
// version.
func Migrate(ctx context.Context, db *DB, migrations []Migration) error {
	if _, err := db.sql.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return derrors.StorageUnavailable(err).WithContext("path", db.path)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		m := m
		err := db.Tx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration v%d: %w", m.Version, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_versions (version) VALUES (?)", m.Version)
			return err
		})
		if err != nil {
			return derrors.StorageUnavailable(err).WithContext("version", m.Version)
		}
	}
	return nil
}

// SchemaCreatedAt returns the applied_at of schema version 1, or empty when
// the database has no applied migrations. The learning warmup guard keys off
// this timestamp.
func SchemaCreatedAt(ctx context.Context, db *DB) (string, error) {
	var applied sql.NullString
	err := db.sql.QueryRowContext(ctx,
		"SELECT applied_at FROM schema_versions WHERE version = 1").Scan(&applied)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", derrors.StorageUnavailable(err)
	}
	return applied.String, nil
}

func currentVersion(ctx context.Context, db *DB) (int, error) {
	var v sql.NullInt64
	err := db.sql.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_versions").Scan(&v)
	if err != nil {
		return 0, derrors.StorageUnavailable(err)
	}
	return int(v.Int64), nil
}
