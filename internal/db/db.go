// Package db owns all persistence for the occupancy service: spaces and
// their devices/gates, the per-space counter state, the flow-event ledger,
// sensor readings, threshold profiles and the append-only occupancy
// snapshots.
package db

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path and bootstraps the
// schema. Production deployments additionally run the migrations in
// migrations/; the bootstrap keeps fresh databases and tests working without
// a migrations directory on disk.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer; the ingest path and the evaluation worker
	// both write, so serialize access through a single connection instead
	// of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS space (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL UNIQUE,
			created_at        INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE TABLE IF NOT EXISTS device (
			id                TEXT PRIMARY KEY,
			space_id          TEXT NOT NULL REFERENCES space(id),
			name              TEXT NOT NULL,
			api_key           TEXT NOT NULL UNIQUE,
			created_at        INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE TABLE IF NOT EXISTS gate (
			id                TEXT PRIMARY KEY,
			space_id          TEXT NOT NULL REFERENCES space(id),
			name              TEXT NOT NULL,
			created_at        INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE TABLE IF NOT EXISTS counter_state (
			space_id                  TEXT PRIMARY KEY REFERENCES space(id),
			counter_raw               INTEGER NOT NULL DEFAULT 0,
			display_count             INTEGER NOT NULL DEFAULT 0,
			in_events_today           INTEGER NOT NULL DEFAULT 0,
			out_events_today          INTEGER NOT NULL DEFAULT 0,
			drift_corrections_today   INTEGER NOT NULL DEFAULT 0,
			last_in_event             INTEGER,
			last_out_event            INTEGER,
			last_drift_correction     INTEGER,
			last_update               INTEGER
		);
		CREATE TABLE IF NOT EXISTS flow_event (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			gate_id           TEXT NOT NULL REFERENCES gate(id),
			space_id          TEXT NOT NULL REFERENCES space(id),
			ts                INTEGER NOT NULL,
			direction         TEXT NOT NULL CHECK (direction IN ('IN','OUT')),
			confidence        REAL,
			duration_ms       INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_flow_event_space_ts ON flow_event(space_id, ts);
		CREATE TABLE IF NOT EXISTS reading (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id          TEXT NOT NULL REFERENCES space(id),
			sensor_type       TEXT NOT NULL CHECK (sensor_type IN ('MICROPHONE','PIR')),
			ts                INTEGER NOT NULL,
			value             REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_reading_space_type_ts ON reading(space_id, sensor_type, ts);
		CREATE TABLE IF NOT EXISTS threshold_profile (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id          TEXT NOT NULL REFERENCES space(id),
			is_default        INTEGER NOT NULL DEFAULT 1,
			noise_levels      TEXT,
			people_levels     TEXT,
			drift_config      TEXT
		);
		CREATE TABLE IF NOT EXISTS occupancy_snapshot (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id          TEXT NOT NULL REFERENCES space(id),
			ts                INTEGER NOT NULL,
			people_estimate   INTEGER NOT NULL,
			display_count     INTEGER NOT NULL,
			counter_raw       INTEGER NOT NULL,
			level             TEXT NOT NULL,
			noise_db          REAL,
			motion_count      INTEGER,
			method            TEXT NOT NULL,
			drift_corrected   INTEGER NOT NULL DEFAULT 0,
			scale_applied     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_snapshot_space_ts ON occupancy_snapshot(space_id, ts);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// unixPtr converts a nullable unix-seconds column to a *time.Time.
func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
