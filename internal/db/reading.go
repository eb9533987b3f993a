package db

import (
	"database/sql"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Sensor types accepted on the reading ingest path.
const (
	SensorMicrophone = "MICROPHONE"
	SensorPIR        = "PIR"
)

// Reading is a single sensor measurement for a space. Microphone values are
// in dB; PIR values are 0/1 trigger flags.
type Reading struct {
	ID         int64     `json:"id"`
	SpaceID    string    `json:"space_id"`
	SensorType string    `json:"sensor_type"`
	TS         time.Time `json:"ts"`
	Value      float64   `json:"value"`
}

// InsertReading records a sensor reading and sets its ID.
func (db *DB) InsertReading(r *Reading) error {
	if r.SensorType != SensorMicrophone && r.SensorType != SensorPIR {
		return fmt.Errorf("invalid sensor type %q", r.SensorType)
	}

	result, err := db.Exec(`
		INSERT INTO reading (space_id, sensor_type, ts, value)
		VALUES (?, ?, ?, ?)
	`, r.SpaceID, r.SensorType, r.TS.Unix(), r.Value)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get reading id: %w", err)
	}
	r.ID = id
	return nil
}

// LatestReading returns the most recent reading of the given type for a
// space. Returns nil, nil when the space has no readings of that type.
func (db *DB) LatestReading(spaceID, sensorType string) (*Reading, error) {
	var r Reading
	var ts int64
	err := db.QueryRow(`
		SELECT id, space_id, sensor_type, ts, value
		FROM reading
		WHERE space_id = ? AND sensor_type = ?
		ORDER BY ts DESC
		LIMIT 1
	`, spaceID, sensorType).Scan(&r.ID, &r.SpaceID, &r.SensorType, &ts, &r.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	r.TS = time.Unix(ts, 0)
	return &r, nil
}

// AverageReading returns the mean value of readings of the given type since
// the given time, or nil when there are none.
func (db *DB) AverageReading(spaceID, sensorType string, since time.Time) (*float64, error) {
	rows, err := db.Query(`
		SELECT value
		FROM reading
		WHERE space_id = ? AND sensor_type = ? AND ts >= ?
	`, spaceID, sensorType, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	mean := stat.Mean(values, nil)
	return &mean, nil
}

// MotionCount returns the number of positive PIR triggers for a space since
// the given time.
func (db *DB) MotionCount(spaceID string, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM reading
		WHERE space_id = ? AND sensor_type = ? AND ts >= ? AND value > 0
	`, spaceID, SensorPIR, since.Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count motion readings: %w", err)
	}
	return count, nil
}
