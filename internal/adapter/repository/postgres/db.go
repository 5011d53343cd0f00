package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
// connectionString should be in the format: "host=localhost port=5432 user=postgres password=postgres dbname=basketfund sslmode=disable"
func NewDB(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// EnsureSchema creates the engine's tables when they do not exist yet.
// Amounts are stored as NUMERIC(39,0): wide enough for any 128-bit value,
// scanned in and out as strings.
func (db *DB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pending_mints (
			id TEXT PRIMARY KEY,
			account TEXT NOT NULL,
			amount NUMERIC(39,0) NOT NULL,
			state TEXT NOT NULL,
			minted NUMERIC(39,0),
			reason TEXT NOT NULL DEFAULT '',
			snapshot_supply NUMERIC(39,0),
			snapshot_total_value NUMERIC(39,0),
			snapshot_taken_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_mints_state_updated
			ON pending_mints (state, updated_at)`,
		`CREATE TABLE IF NOT EXISTS rebalance_log (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			action TEXT NOT NULL,
			asset TEXT NOT NULL,
			amount NUMERIC(39,0),
			success BOOLEAN NOT NULL,
			details TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rebalance_log_ts ON rebalance_log (ts DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
