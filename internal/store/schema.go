package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the SQLite store.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    variant TEXT NOT NULL,
    level REAL NOT NULL,
    replicates INTEGER NOT NULL,
    failed INTEGER NOT NULL DEFAULT 0,
    config TEXT  -- JSON study configuration
);

-- One row per parameter per successful replicate, centered on the truth.
CREATE TABLE IF NOT EXISTS estimates (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    sim INTEGER NOT NULL,
    parameter TEXT NOT NULL,
    truth REAL NOT NULL,
    estimate REAL NOT NULL,
    lower REAL NOT NULL,
    upper REAL NOT NULL,
    rhat REAL NOT NULL,
    covered INTEGER NOT NULL,
    PRIMARY KEY (run_id, sim, parameter)
);
CREATE INDEX IF NOT EXISTS idx_estimates_param ON estimates(run_id, parameter);

CREATE TABLE IF NOT EXISTS failures (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    sim INTEGER NOT NULL,
    err TEXT NOT NULL,
    PRIMARY KEY (run_id, sim)
);

-- Across-replicate aggregation, one row per parameter.
CREATE TABLE IF NOT EXISTS calibration (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    parameter TEXT NOT NULL,
    ord INTEGER NOT NULL,  -- monitor order, preserved on reload
    n INTEGER NOT NULL,
    mean_estimate REAL NOT NULL,
    mean_lower REAL NOT NULL,
    mean_upper REAL NOT NULL,
    coverage REAL NOT NULL,
    PRIMARY KEY (run_id, parameter)
);

CREATE TABLE IF NOT EXISTS schema_info (
    version INTEGER PRIMARY KEY
);
`

// InitSchema creates the schema if it does not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_info (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}
