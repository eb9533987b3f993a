// Package config holds the typed runtime configuration for the occupancy
// service: process-level settings sourced from the environment and the
// per-space classification/drift tuning profiles stored as JSON blobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the explicit process configuration. It is built once at
// startup and passed into the components that need it; nothing reads the
// environment after startup.
type AppConfig struct {
	// DBPath is the sqlite database file.
	DBPath string

	// Listen is the HTTP listen address.
	Listen string

	// LiveSourceURL is the external live counter endpoint. Empty disables
	// the live source entirely.
	LiveSourceURL string

	// LiveSourceTimeout bounds the live counter fetch.
	LiveSourceTimeout time.Duration

	// LiveMaxAge rejects live data whose count update is older than this.
	LiveMaxAge time.Duration

	// CycleInterval is how often the evaluation worker runs.
	CycleInterval time.Duration

	// ActiveStart/ActiveEnd bound the daily evaluation window ("HH:MM",
	// local time). Snapshots are only generated inside the window.
	ActiveStart string
	ActiveEnd   string

	// Timezone is the IANA zone used for the active window and day
	// boundaries (daily tallies, net-today ledger queries).
	Timezone string

	// NoiseWindow selects a trailing average for the noise sample instead
	// of the latest reading when non-zero.
	NoiseWindow time.Duration

	// MotionWindow is the trailing window for counting PIR triggers.
	MotionWindow time.Duration
}

// Default configuration values. The active window and timezone match the
// venue's opening hours.
const (
	DefaultListen            = ":8080"
	DefaultDBPath            = "occupancy.db"
	DefaultLiveSourceTimeout = 5 * time.Second
	DefaultLiveMaxAge        = 2 * time.Minute
	DefaultCycleInterval     = time.Minute
	DefaultActiveStart       = "08:25"
	DefaultActiveEnd         = "21:00"
	DefaultTimezone          = "Europe/Zurich"
	DefaultMotionWindow      = 5 * time.Minute
)

// Load reads an optional .env file and then builds the config from the
// environment. A missing .env file is not an error.
func Load(envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds an AppConfig from the process environment, applying
// defaults for anything unset.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		DBPath:            envOr("OCCUPANCY_DB", DefaultDBPath),
		Listen:            envOr("OCCUPANCY_LISTEN", DefaultListen),
		LiveSourceURL:     os.Getenv("OCCUPANCY_LIVE_SOURCE_URL"),
		LiveSourceTimeout: DefaultLiveSourceTimeout,
		LiveMaxAge:        DefaultLiveMaxAge,
		CycleInterval:     DefaultCycleInterval,
		ActiveStart:       envOr("OCCUPANCY_ACTIVE_START", DefaultActiveStart),
		ActiveEnd:         envOr("OCCUPANCY_ACTIVE_END", DefaultActiveEnd),
		Timezone:          envOr("OCCUPANCY_TIMEZONE", DefaultTimezone),
		NoiseWindow:       0,
		MotionWindow:      DefaultMotionWindow,
	}

	var err error
	if cfg.LiveSourceTimeout, err = envDuration("OCCUPANCY_LIVE_SOURCE_TIMEOUT", cfg.LiveSourceTimeout); err != nil {
		return nil, err
	}
	if cfg.LiveMaxAge, err = envDuration("OCCUPANCY_LIVE_MAX_AGE", cfg.LiveMaxAge); err != nil {
		return nil, err
	}
	if cfg.CycleInterval, err = envDuration("OCCUPANCY_CYCLE_INTERVAL", cfg.CycleInterval); err != nil {
		return nil, err
	}
	if cfg.NoiseWindow, err = envDuration("OCCUPANCY_NOISE_WINDOW", cfg.NoiseWindow); err != nil {
		return nil, err
	}
	if cfg.MotionWindow, err = envDuration("OCCUPANCY_MOTION_WINDOW", cfg.MotionWindow); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *AppConfig) Validate() error {
	if _, err := parseClockTime(c.ActiveStart); err != nil {
		return fmt.Errorf("invalid active start %q: %w", c.ActiveStart, err)
	}
	if _, err := parseClockTime(c.ActiveEnd); err != nil {
		return fmt.Errorf("invalid active end %q: %w", c.ActiveEnd, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle interval must be positive, got %v", c.CycleInterval)
	}
	if c.LiveSourceTimeout <= 0 {
		return fmt.Errorf("live source timeout must be positive, got %v", c.LiveSourceTimeout)
	}
	return nil
}

// Location returns the configured timezone. Validate must have accepted the
// config before this is called.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ActiveWindowMinutes returns the active window bounds as minutes since
// local midnight.
func (c *AppConfig) ActiveWindowMinutes() (start, end int) {
	start, _ = parseClockTime(c.ActiveStart)
	end, _ = parseClockTime(c.ActiveEnd)
	return start, end
}

// parseClockTime parses "HH:MM" into minutes since midnight.
func parseClockTime(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	// Accept bare seconds for firmware-era configs, else duration syntax.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
