package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

const (
	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
	connMaxLifetime = time.Hour
)

// Config is the database section of config.yaml.
type Config struct {
	Path        string // file path or MemoryPath
	WALMode     bool   // ignored for MemoryPath
	BusyTimeout int    // seconds to wait on a locked database
}

// dsn renders cfg as a go-sqlite3 connection string.
func (cfg Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	if cfg.Path == MemoryPath {
		return "file::memory:?" + q.Encode()
	}
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// DB is the brewlogic SQLite handle.
type DB struct {
	*sql.DB
	path string
}

// Open opens and pings the database, creating the parent directory of a
// file database with owner-only permissions.
//
// The pool holds a single connection: SQLite has one writer and an
// in-memory database lives only as long as its connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	file := cfg.Path != MemoryPath
	if file {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if file {
		sqlDB.SetConnMaxLifetime(connMaxLifetime)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if file {
		_ = os.Chmod(cfg.Path, 0o600) // the file may not exist until the first write
	}
	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the pool. Safe on a DB that was never opened.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the configured path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// BeginTx starts a transaction. Callers defer Rollback, which is a no-op
// after Commit.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}

// inTx runs fn in a transaction, committing only when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
