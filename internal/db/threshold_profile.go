package db

import (
	"database/sql"
	"fmt"
)

// ThresholdProfileRow is the raw default profile row for a space. The three
// blobs are JSON; decoding and defaulting live in the config package so a
// malformed blob degrades to defaults instead of failing the cycle.
type ThresholdProfileRow struct {
	SpaceID      string
	NoiseLevels  string
	PeopleLevels string
	DriftConfig  string
}

// GetDefaultThresholdProfile returns the default profile row for a space.
// Returns nil, nil when the space has no profile.
func (db *DB) GetDefaultThresholdProfile(spaceID string) (*ThresholdProfileRow, error) {
	var row ThresholdProfileRow
	var noise, people, drift sql.NullString

	err := db.QueryRow(`
		SELECT space_id, noise_levels, people_levels, drift_config
		FROM threshold_profile
		WHERE space_id = ? AND is_default = 1
		LIMIT 1
	`, spaceID).Scan(&row.SpaceID, &noise, &people, &drift)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get threshold profile: %w", err)
	}

	row.NoiseLevels = noise.String
	row.PeopleLevels = people.String
	row.DriftConfig = drift.String
	return &row, nil
}

// UpsertThresholdProfile replaces the default profile for a space. Empty
// blobs are stored as NULL.
func (db *DB) UpsertThresholdProfile(row *ThresholdProfileRow) error {
	_, err := db.Exec(`DELETE FROM threshold_profile WHERE space_id = ? AND is_default = 1`, row.SpaceID)
	if err != nil {
		return fmt.Errorf("failed to clear threshold profile: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO threshold_profile (space_id, is_default, noise_levels, people_levels, drift_config)
		VALUES (?, 1, ?, ?, ?)
	`, row.SpaceID, nullIfEmpty(row.NoiseLevels), nullIfEmpty(row.PeopleLevels), nullIfEmpty(row.DriftConfig))
	if err != nil {
		return fmt.Errorf("failed to insert threshold profile: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
