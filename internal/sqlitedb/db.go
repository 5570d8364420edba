// Package sqlitedb is the embedded SQLite backend for single-node installs.
// Timestamps are stored as fixed-width UTC text so they sort and compare
// lexically; prices are stored as text to keep decimal precision.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// sqlite driver
	_ "modernc.org/sqlite"

	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/store"
)

const timeLayout = "2006-01-02 15:04:05.000000000"

// DB wraps the SQL database connection and implements store.Store and
// store.EstimateStore.
type DB struct {
	*sql.DB
	path string
}

var (
	_ store.Store         = (*DB)(nil)
	_ store.EstimateStore = (*DB)(nil)
)

// New opens (creating if needed) the database at path and applies the schema.
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; WAL lets readers proceed.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := db.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.StoreLog.Debugf("sqlite database ready at %s", path)
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (db *DB) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS carriers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_name TEXT NOT NULL DEFAULT '',
			user_email TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_seconds INTEGER NOT NULL CHECK (duration_seconds >= 0),
			call_type TEXT NOT NULL DEFAULT 'Outbound',
			source_number TEXT NOT NULL DEFAULT '',
			destination_number TEXT NOT NULL DEFAULT '',
			origin_country TEXT NOT NULL DEFAULT '',
			destination_country TEXT NOT NULL DEFAULT '',
			carrier_id INTEGER REFERENCES carriers(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_origin ON calls(origin_country)`,
		`CREATE TABLE IF NOT EXISTS rates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin_country TEXT NOT NULL,
			destination TEXT NOT NULL,
			destination_country TEXT NOT NULL,
			call_type TEXT NOT NULL DEFAULT 'Outbound',
			price_per_minute TEXT NOT NULL,
			carrier_id INTEGER REFERENCES carriers(id) ON DELETE CASCADE,
			carrier_key INTEGER NOT NULL DEFAULT 0,
			effective_from TEXT,
			effective_to TEXT,
			UNIQUE (origin_country, destination, call_type, carrier_key)
		)`,
		`CREATE TABLE IF NOT EXISTS saved_estimates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			input TEXT NOT NULL,
			result TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
