package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/raum-tracker/occupancy/internal/monitoring"
)

// CounterState is the long-lived per-space counter row. counter_raw is the
// raw accumulated IN-OUT delta since the last reset and never goes negative;
// display_count is the derived, scaled value shown to users.
type CounterState struct {
	SpaceID               string     `json:"space_id"`
	CounterRaw            int        `json:"counter_raw"`
	DisplayCount          int        `json:"display_count"`
	InEventsToday         int        `json:"in_events_today"`
	OutEventsToday        int        `json:"out_events_today"`
	DriftCorrectionsToday int        `json:"drift_corrections_today"`
	LastInEvent           *time.Time `json:"last_in_event"`
	LastOutEvent          *time.Time `json:"last_out_event"`
	LastDriftCorrection   *time.Time `json:"last_drift_correction"`
	LastUpdate            *time.Time `json:"last_update"`
}

// GetCounterState retrieves the counter state for a space.
// Returns nil, nil when the space has no state row yet.
func (db *DB) GetCounterState(spaceID string) (*CounterState, error) {
	var s CounterState
	var lastIn, lastOut, lastCorrection, lastUpdate sql.NullInt64

	err := db.QueryRow(`
		SELECT space_id, counter_raw, display_count,
		       in_events_today, out_events_today, drift_corrections_today,
		       last_in_event, last_out_event, last_drift_correction, last_update
		FROM counter_state
		WHERE space_id = ?
	`, spaceID).Scan(
		&s.SpaceID, &s.CounterRaw, &s.DisplayCount,
		&s.InEventsToday, &s.OutEventsToday, &s.DriftCorrectionsToday,
		&lastIn, &lastOut, &lastCorrection, &lastUpdate,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter state: %w", err)
	}

	s.LastInEvent = unixPtr(lastIn)
	s.LastOutEvent = unixPtr(lastOut)
	s.LastDriftCorrection = unixPtr(lastCorrection)
	s.LastUpdate = unixPtr(lastUpdate)
	return &s, nil
}

// EnsureCounterState creates the state row for a space if it does not exist.
// Called on the first flow event for a space.
func (db *DB) EnsureCounterState(spaceID string) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO counter_state (space_id) VALUES (?)`, spaceID)
	if err != nil {
		return fmt.Errorf("failed to ensure counter state: %w", err)
	}
	return nil
}

// IncrementCounter adds amount to counter_raw and records the IN event.
// A missing state row is logged and treated as a no-op; ingest must never
// fail because evaluation has not seen the space yet.
func (db *DB) IncrementCounter(spaceID string, amount int, now time.Time) error {
	result, err := db.Exec(`
		UPDATE counter_state
		SET counter_raw = counter_raw + ?,
		    in_events_today = in_events_today + 1,
		    last_in_event = ?,
		    last_update = ?
		WHERE space_id = ?
	`, amount, now.Unix(), now.Unix(), spaceID)
	if err != nil {
		return fmt.Errorf("failed to increment counter: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		monitoring.Logf("increment skipped: no counter state for space %s", spaceID)
	}
	return nil
}

// DecrementCounter subtracts round(weight) from counter_raw, clamped at 0,
// and records the OUT event. The clamp lives in the UPDATE expression so a
// concurrent decrement can never drive the counter negative.
func (db *DB) DecrementCounter(spaceID string, weight float64, now time.Time) error {
	amount := int(math.Round(weight))
	result, err := db.Exec(`
		UPDATE counter_state
		SET counter_raw = MAX(0, counter_raw - ?),
		    out_events_today = out_events_today + 1,
		    last_out_event = ?,
		    last_update = ?
		WHERE space_id = ?
	`, amount, now.Unix(), now.Unix(), spaceID)
	if err != nil {
		return fmt.Errorf("failed to decrement counter: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		monitoring.Logf("decrement skipped: no counter state for space %s", spaceID)
	}
	return nil
}

// ApplyDriftCorrection zeroes counter_raw and display_count, bumps
// drift_corrections_today and stamps last_drift_correction. This is the only
// write path that advances drift_corrections_today.
func (db *DB) ApplyDriftCorrection(spaceID string, now time.Time) error {
	result, err := db.Exec(`
		UPDATE counter_state
		SET counter_raw = 0,
		    display_count = 0,
		    drift_corrections_today = drift_corrections_today + 1,
		    last_drift_correction = ?,
		    last_update = ?
		WHERE space_id = ?
	`, now.Unix(), now.Unix(), spaceID)
	if err != nil {
		return fmt.Errorf("failed to apply drift correction: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no counter state for space %s", spaceID)
	}
	return nil
}

// UpdateCounterState overwrites the two value fields after scaling without
// drift correction.
func (db *DB) UpdateCounterState(spaceID string, counterRaw, displayCount int, now time.Time) error {
	_, err := db.Exec(`
		UPDATE counter_state
		SET counter_raw = ?,
		    display_count = ?,
		    last_update = ?
		WHERE space_id = ?
	`, counterRaw, displayCount, now.Unix(), spaceID)
	if err != nil {
		return fmt.Errorf("failed to update counter state: %w", err)
	}
	return nil
}

// ResetDailyTallies zeroes the per-day event counters for all spaces.
// The evaluation worker calls this once after local midnight.
func (db *DB) ResetDailyTallies(now time.Time) error {
	_, err := db.Exec(`
		UPDATE counter_state
		SET in_events_today = 0,
		    out_events_today = 0,
		    drift_corrections_today = 0,
		    last_update = ?
	`, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to reset daily tallies: %w", err)
	}
	return nil
}
