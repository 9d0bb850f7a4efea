package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirMode  = 0750
	fileMode = 0600

	// pingTimeout bounds the connectivity check in Open.
	pingTimeout = 5 * time.Second

	idleConnLifetime = 30 * time.Minute
)

// DB wraps the SQLite connection backing the speaker event history.
// The write load is light and append-heavy (one row per connection
// transition or grouping episode), so the pool is pinned to a single
// connection and WAL mode covers concurrent readers.
type DB struct {
	*sql.DB
	path string
}

// Config mirrors the database section of config.yaml.
type Config struct {
	// Path to the SQLite file. The parent directory is created on open.
	Path string

	// WALMode enables write-ahead logging so event queries do not
	// block history inserts.
	WALMode bool

	// BusyTimeout in seconds before a lock acquisition gives up.
	BusyTimeout int
}

// Open opens (creating if needed) the SQLite database at cfg.Path,
// applies the connection pragmas, and verifies the link with a ping.
//
// Returns:
//   - *DB: Connected wrapper, caller owns Close
//   - error: If the directory, file, or ping fails
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; one pooled connection avoids
	// SQLITE_BUSY churn between the history repository and migrations.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(idleConnLifetime)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Tighten permissions; the file may not exist until the first
	// write, in which case this is retried implicitly next open.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck

	return db, nil
}

// Close releases the underlying connection. Safe on a nil-initialised
// wrapper.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the connection still answers queries.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
