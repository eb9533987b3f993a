package db

import (
	"database/sql"
	"fmt"
	"time"
)

// OccupancySnapshot is the append-only per-cycle evaluation result for a
// space. PeopleEstimate duplicates DisplayCount for older display firmware
// that still reads the legacy field.
type OccupancySnapshot struct {
	ID             int64     `json:"id"`
	SpaceID        string    `json:"space_id"`
	TS             time.Time `json:"ts"`
	PeopleEstimate int       `json:"people_estimate"`
	DisplayCount   int       `json:"display_count"`
	CounterRaw     int       `json:"counter_raw"`
	Level          string    `json:"level"`
	NoiseDB        *float64  `json:"noise_db,omitempty"`
	MotionCount    *int      `json:"motion_count,omitempty"`
	Method         string    `json:"method"`
	DriftCorrected bool      `json:"drift_corrected"`
	ScaleApplied   bool      `json:"scale_applied"`
}

// InsertSnapshot appends a snapshot and sets its ID. Snapshots are never
// updated after insertion.
func (db *DB) InsertSnapshot(s *OccupancySnapshot) error {
	result, err := db.Exec(`
		INSERT INTO occupancy_snapshot
			(space_id, ts, people_estimate, display_count, counter_raw,
			 level, noise_db, motion_count, method, drift_corrected, scale_applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SpaceID, s.TS.Unix(), s.PeopleEstimate, s.DisplayCount, s.CounterRaw,
		s.Level, s.NoiseDB, s.MotionCount, s.Method, boolInt(s.DriftCorrected), boolInt(s.ScaleApplied))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get snapshot id: %w", err)
	}
	s.ID = id
	return nil
}

// LatestSnapshot returns the most recent snapshot for a space.
// Returns nil, nil when the space has no snapshots yet.
func (db *DB) LatestSnapshot(spaceID string) (*OccupancySnapshot, error) {
	var s OccupancySnapshot
	var ts int64
	var noise sql.NullFloat64
	var motion sql.NullInt64
	var driftCorrected, scaleApplied int

	err := db.QueryRow(`
		SELECT id, space_id, ts, people_estimate, display_count, counter_raw,
		       level, noise_db, motion_count, method, drift_corrected, scale_applied
		FROM occupancy_snapshot
		WHERE space_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`, spaceID).Scan(
		&s.ID, &s.SpaceID, &ts, &s.PeopleEstimate, &s.DisplayCount, &s.CounterRaw,
		&s.Level, &noise, &motion, &s.Method, &driftCorrected, &scaleApplied,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	s.TS = time.Unix(ts, 0)
	if noise.Valid {
		s.NoiseDB = &noise.Float64
	}
	if motion.Valid {
		m := int(motion.Int64)
		s.MotionCount = &m
	}
	s.DriftCorrected = driftCorrected == 1
	s.ScaleApplied = scaleApplied == 1
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
