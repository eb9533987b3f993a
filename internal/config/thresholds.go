package config

import (
	"encoding/json"
	"fmt"
)

// DriftConfig tunes drift detection and display scaling for one space. It is
// stored as a JSON blob on the space's threshold profile; the field names are
// the externally observable contract shared with the provisioning tooling.
type DriftConfig struct {
	// DriftMax is the largest counter_raw value still considered a
	// plausible ghost count. Larger values are assumed real occupancy.
	DriftMax int `json:"drift_max"`

	// DriftWindowMinutes is the trailing window for event statistics.
	DriftWindowMinutes int `json:"drift_window_minutes"`

	// MinOutEventsForReset is the minimum OUT events inside the window
	// required before a reset is considered.
	MinOutEventsForReset int `json:"min_out_events_for_reset"`

	// ScaleThreshold is the counter value at which display scaling starts.
	ScaleThreshold int `json:"scale_threshold"`

	// ScaleFactor amplifies under-counted crowds above the threshold.
	ScaleFactor float64 `json:"scale_factor"`

	// OutEventMultiplier weights OUT events on the live decrement path.
	OutEventMultiplier float64 `json:"out_event_multiplier"`

	// MaxCapacity caps the display count at the physical room capacity.
	MaxCapacity int `json:"max_capacity"`

	// MinCorrectionIntervalMinutes is the minimum spacing between two
	// drift corrections for the same space.
	MinCorrectionIntervalMinutes int `json:"min_correction_interval_minutes"`
}

// NoiseLevels are the dB breakpoints for the noise fallback signal.
type NoiseLevels struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// PeopleLevels are the people-count breakpoints for level classification:
// LOW < Low, MEDIUM < Medium, HIGH otherwise.
type PeopleLevels struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
}

// Thresholds bundles the resolved classification parameters for one space.
type Thresholds struct {
	People PeopleLevels
	Noise  NoiseLevels
	Drift  DriftConfig
}

// DefaultDriftConfig returns the built-in drift tuning used when a space has
// no profile row or its blob is malformed.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		DriftMax:                     7,
		DriftWindowMinutes:           30,
		MinOutEventsForReset:         2,
		ScaleThreshold:               15,
		ScaleFactor:                  2,
		OutEventMultiplier:           1.3,
		MaxCapacity:                  60,
		MinCorrectionIntervalMinutes: 5,
	}
}

// DefaultNoiseLevels returns the built-in noise breakpoints.
func DefaultNoiseLevels() NoiseLevels {
	return NoiseLevels{Low: 45, Medium: 60, High: 75}
}

// DefaultPeopleLevels returns the built-in people breakpoints.
func DefaultPeopleLevels() PeopleLevels {
	return PeopleLevels{Low: 5, Medium: 10}
}

// DefaultThresholds returns the fully defaulted threshold bundle.
func DefaultThresholds() Thresholds {
	return Thresholds{
		People: DefaultPeopleLevels(),
		Noise:  DefaultNoiseLevels(),
		Drift:  DefaultDriftConfig(),
	}
}

// Validate rejects drift configs that would make the state machine
// nonsensical (negative thresholds, shrinking scale factor).
func (c DriftConfig) Validate() error {
	if c.DriftMax < 0 || c.DriftWindowMinutes < 0 || c.MinOutEventsForReset < 0 ||
		c.ScaleThreshold < 0 || c.MaxCapacity < 0 || c.MinCorrectionIntervalMinutes < 0 {
		return fmt.Errorf("drift config thresholds must be non-negative: %+v", c)
	}
	if c.ScaleFactor < 1 {
		return fmt.Errorf("scale factor must be >= 1, got %v", c.ScaleFactor)
	}
	return nil
}

// ParseDriftConfig decodes a drift config JSON blob. Absent keys keep their
// default values; a malformed or invalid blob returns the defaults along
// with the parse error so callers can log a warning and continue.
func ParseDriftConfig(blob string) (DriftConfig, error) {
	cfg := DefaultDriftConfig()
	if blob == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return DefaultDriftConfig(), fmt.Errorf("failed to parse drift config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultDriftConfig(), err
	}
	return cfg, nil
}

// ParseNoiseLevels decodes a noise levels JSON blob with default fallback.
func ParseNoiseLevels(blob string) (NoiseLevels, error) {
	levels := DefaultNoiseLevels()
	if blob == "" {
		return levels, nil
	}
	if err := json.Unmarshal([]byte(blob), &levels); err != nil {
		return DefaultNoiseLevels(), fmt.Errorf("failed to parse noise levels: %w", err)
	}
	return levels, nil
}

// ParsePeopleLevels decodes a people levels JSON blob with default fallback.
func ParsePeopleLevels(blob string) (PeopleLevels, error) {
	levels := DefaultPeopleLevels()
	if blob == "" {
		return levels, nil
	}
	if err := json.Unmarshal([]byte(blob), &levels); err != nil {
		return DefaultPeopleLevels(), fmt.Errorf("failed to parse people levels: %w", err)
	}
	return levels, nil
}
