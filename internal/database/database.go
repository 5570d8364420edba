// Package database is the PostgreSQL store for calls, rates and carriers.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clucraft/phusage-sub000/internal/logger"
	"github.com/clucraft/phusage-sub000/internal/store"
)

// DB wraps the PostgreSQL connection pool and implements store.Store.
type DB struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// New opens a pgx pool against dsn and verifies it answers.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// Migrate creates the phusage schema. Replicas serialize on an advisory lock.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	const migrationLockID int64 = 0x5048_5301 // "PHS" + 01
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS carriers (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS calls (
		id                  BIGSERIAL PRIMARY KEY,
		user_name           TEXT NOT NULL DEFAULT '',
		user_email          TEXT NOT NULL,
		started_at          TIMESTAMPTZ NOT NULL,
		duration_seconds    BIGINT NOT NULL CHECK (duration_seconds >= 0),
		call_type           TEXT NOT NULL DEFAULT 'Outbound',
		source_number       TEXT NOT NULL DEFAULT '',
		destination_number  TEXT NOT NULL DEFAULT '',
		origin_country      TEXT,
		destination_country TEXT,
		carrier_id          BIGINT REFERENCES carriers(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS rates (
		id                  BIGSERIAL PRIMARY KEY,
		origin_country      TEXT NOT NULL,
		destination         TEXT NOT NULL,
		destination_country TEXT NOT NULL,
		call_type           TEXT NOT NULL DEFAULT 'Outbound',
		price_per_minute    NUMERIC(12,4) NOT NULL CHECK (price_per_minute >= 0),
		carrier_id          BIGINT REFERENCES carriers(id) ON DELETE CASCADE,
		effective_from      TIMESTAMPTZ,
		effective_to        TIMESTAMPTZ,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rates_lane
		ON rates (origin_country, destination, call_type, (COALESCE(carrier_id, 0)));
	CREATE INDEX IF NOT EXISTS idx_calls_started_at ON calls(started_at);
	CREATE INDEX IF NOT EXISTS idx_calls_user_email ON calls(user_email);
	CREATE INDEX IF NOT EXISTS idx_calls_origin_country ON calls(origin_country);
	`

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.StoreLog.Info("postgres migrations applied")
	return nil
}
