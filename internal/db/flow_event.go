package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Flow event directions.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// FlowEvent is an append-only directional passage fact recorded by a gate.
type FlowEvent struct {
	ID         int64     `json:"id"`
	GateID     string    `json:"gate_id"`
	SpaceID    string    `json:"space_id"`
	TS         time.Time `json:"ts"`
	Direction  string    `json:"direction"`
	Confidence *float64  `json:"confidence,omitempty"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
}

// EventWindowStats summarizes the ledger for a space over a trailing window.
type EventWindowStats struct {
	InEvents    int
	OutEvents   int
	TotalEvents int
	LastEvent   *time.Time
}

// InsertFlowEvent appends a flow event to the ledger and sets its ID.
func (db *DB) InsertFlowEvent(event *FlowEvent) error {
	if event.Direction != DirectionIn && event.Direction != DirectionOut {
		return fmt.Errorf("invalid direction %q", event.Direction)
	}

	result, err := db.Exec(`
		INSERT INTO flow_event (gate_id, space_id, ts, direction, confidence, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.GateID, event.SpaceID, event.TS.Unix(), event.Direction, event.Confidence, event.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to insert flow event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get flow event id: %w", err)
	}
	event.ID = id
	return nil
}

// WindowStats returns directional event counts for a space since the given
// time. Feeds the drift detector.
func (db *DB) WindowStats(spaceID string, since time.Time) (EventWindowStats, error) {
	var stats EventWindowStats
	var inEvents, outEvents, total sql.NullInt64
	var lastEvent sql.NullInt64

	err := db.QueryRow(`
		SELECT
			SUM(CASE WHEN direction = 'IN' THEN 1 ELSE 0 END),
			SUM(CASE WHEN direction = 'OUT' THEN 1 ELSE 0 END),
			COUNT(*),
			MAX(ts)
		FROM flow_event
		WHERE space_id = ? AND ts >= ?
	`, spaceID, since.Unix()).Scan(&inEvents, &outEvents, &total, &lastEvent)
	if err != nil {
		return stats, fmt.Errorf("failed to query window stats: %w", err)
	}

	stats.InEvents = int(inEvents.Int64)
	stats.OutEvents = int(outEvents.Int64)
	stats.TotalEvents = int(total.Int64)
	stats.LastEvent = unixPtr(lastEvent)
	return stats, nil
}

// NetPeopleToday computes the IN minus OUT event balance for a space since
// dayStart, floored at zero. This is the ledger fallback estimate.
func (db *DB) NetPeopleToday(spaceID string, dayStart time.Time) (int, error) {
	var net sql.NullInt64
	err := db.QueryRow(`
		SELECT SUM(CASE WHEN direction = 'IN' THEN 1 ELSE -1 END)
		FROM flow_event
		WHERE space_id = ? AND ts >= ?
	`, spaceID, dayStart.Unix()).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to query net people: %w", err)
	}
	if net.Int64 < 0 {
		return 0, nil
	}
	return int(net.Int64), nil
}
