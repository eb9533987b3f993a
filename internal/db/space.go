package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Space is a physical room being monitored.
type Space struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Device is a sensor board (ESP32 or similar) posting telemetry for a space.
// Its api_key authenticates ingest requests.
type Device struct {
	ID      string `json:"id"`
	SpaceID string `json:"space_id"`
	Name    string `json:"name"`
	APIKey  string `json:"-"`
}

// Gate is a light-barrier pair at a doorway of a space.
type Gate struct {
	ID      string `json:"id"`
	SpaceID string `json:"space_id"`
	Name    string `json:"name"`
}

// CreateSpace inserts a space, generating a UUID when none is supplied.
func (db *DB) CreateSpace(space *Space) error {
	if space.ID == "" {
		space.ID = uuid.NewString()
	}
	_, err := db.Exec(`INSERT INTO space (id, name) VALUES (?, ?)`, space.ID, space.Name)
	if err != nil {
		return fmt.Errorf("failed to create space: %w", err)
	}
	return nil
}

// ListSpaces returns all spaces ordered by name.
func (db *DB) ListSpaces() ([]Space, error) {
	rows, err := db.Query(`SELECT id, name, created_at FROM space ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query spaces: %w", err)
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		var s Space
		var createdAt int64
		if err := rows.Scan(&s.ID, &s.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan space: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}

// GetSpace retrieves a space by ID. Returns nil, nil when absent.
func (db *DB) GetSpace(id string) (*Space, error) {
	var s Space
	var createdAt int64
	err := db.QueryRow(`SELECT id, name, created_at FROM space WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}

// CreateDevice inserts a device, generating a UUID and an API key when none
// are supplied.
func (db *DB) CreateDevice(device *Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if device.APIKey == "" {
		device.APIKey = uuid.NewString()
	}
	_, err := db.Exec(
		`INSERT INTO device (id, space_id, name, api_key) VALUES (?, ?, ?, ?)`,
		device.ID, device.SpaceID, device.Name, device.APIKey,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetDeviceByAPIKey resolves an ingest API key to its device.
// Returns nil, nil when the key is unknown.
func (db *DB) GetDeviceByAPIKey(apiKey string) (*Device, error) {
	var d Device
	err := db.QueryRow(
		`SELECT id, space_id, name, api_key FROM device WHERE api_key = ?`, apiKey,
	).Scan(&d.ID, &d.SpaceID, &d.Name, &d.APIKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device by api key: %w", err)
	}
	return &d, nil
}

// CreateGate inserts a gate, generating a UUID when none is supplied.
func (db *DB) CreateGate(gate *Gate) error {
	if gate.ID == "" {
		gate.ID = uuid.NewString()
	}
	_, err := db.Exec(
		`INSERT INTO gate (id, space_id, name) VALUES (?, ?, ?)`,
		gate.ID, gate.SpaceID, gate.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to create gate: %w", err)
	}
	return nil
}

// GetGate retrieves a gate by ID. Returns nil, nil when absent.
func (db *DB) GetGate(id string) (*Gate, error) {
	var g Gate
	err := db.QueryRow(`SELECT id, space_id, name FROM gate WHERE id = ?`, id).
		Scan(&g.ID, &g.SpaceID, &g.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gate: %w", err)
	}
	return &g, nil
}
