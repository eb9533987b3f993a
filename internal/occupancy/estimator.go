// Package occupancy implements the drift-tolerant occupancy estimation core:
// per-space counter drift detection and correction, display scaling, live
// counter reconciliation and the periodic snapshot cycle.
package occupancy

import (
	"context"
	"fmt"
	"time"

	"github.com/raum-tracker/occupancy/internal/config"
	"github.com/raum-tracker/occupancy/internal/db"
	"github.com/raum-tracker/occupancy/internal/monitoring"
	"github.com/raum-tracker/occupancy/internal/timeutil"
)

// Occupancy levels.
const (
	LevelLow    = "LOW"
	LevelMedium = "MEDIUM"
	LevelHigh   = "HIGH"
)

// Snapshot methods, naming the dominant signal for the cycle.
const (
	MethodFlowOnly    = "FLOW_ONLY"
	MethodNoiseOnly   = "NOISE_ONLY"
	MethodFusion      = "FUSION"
	MethodArduinoLive = "ARDUINO_LIVE"
)

// Estimator runs the per-cycle occupancy evaluation for every space. Each
// cycle re-reads all facts fresh; no state is cached between cycles.
type Estimator struct {
	DB    *db.DB
	Live  *LiveSource
	Cfg   *config.AppConfig
	Clock timeutil.Clock
}

// NewEstimator wires an estimator. A nil clock gets the real clock.
func NewEstimator(database *db.DB, live *LiveSource, cfg *config.AppConfig, clock timeutil.Clock) *Estimator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Estimator{DB: database, Live: live, Cfg: cfg, Clock: clock}
}

// RunCycle evaluates all spaces. A failure in one space is logged and does
// not stop the remaining spaces; only the inability to enumerate spaces is
// returned as an error.
func (e *Estimator) RunCycle(ctx context.Context) error {
	spaces, err := e.DB.ListSpaces()
	if err != nil {
		return fmt.Errorf("failed to list spaces: %w", err)
	}

	for _, space := range spaces {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.EvaluateSpace(ctx, space.ID); err != nil {
			monitoring.Logf("evaluation failed for space %s (%s): %v", space.Name, space.ID, err)
		}
	}
	return nil
}

// EvaluateSpace runs one evaluation cycle for one space and persists the
// resulting snapshot.
func (e *Estimator) EvaluateSpace(ctx context.Context, spaceID string) (*db.OccupancySnapshot, error) {
	now := e.Clock.Now()
	thresholds := e.ResolveThresholds(spaceID)

	snapshot := &db.OccupancySnapshot{
		SpaceID: spaceID,
		TS:      now,
		Method:  MethodFlowOnly,
	}

	if err := e.selectSource(ctx, spaceID, thresholds.Drift, now, snapshot); err != nil {
		return nil, err
	}

	// Noise sample: latest microphone reading, or a trailing average when
	// the deployment smooths spiky microphones.
	noise, err := e.noiseSample(spaceID, now)
	if err != nil {
		monitoring.Warnf("noise sample unavailable for space %s: %v", spaceID, err)
	}
	snapshot.NoiseDB = noise

	motion, err := e.motionSample(spaceID, now)
	if err != nil {
		monitoring.Warnf("motion sample unavailable for space %s: %v", spaceID, err)
	}
	snapshot.MotionCount = motion

	snapshot.Level = ClassifyLevel(snapshot.DisplayCount, noise, thresholds)
	if snapshot.Method != MethodArduinoLive {
		snapshot.Method = methodTag(noise, motion)
	}
	snapshot.PeopleEstimate = snapshot.DisplayCount

	if err := e.DB.InsertSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return snapshot, nil
}

// selectSource fills the people-count fields of the snapshot from the best
// available source: live counter service, then persisted counter state with
// drift handling, then the flow-event net ledger.
func (e *Estimator) selectSource(ctx context.Context, spaceID string, driftCfg config.DriftConfig, now time.Time, snapshot *db.OccupancySnapshot) error {
	// (a) External live source. Failures degrade, never abort.
	if sample, err := e.Live.Fetch(ctx); err != nil {
		monitoring.Warnf("live source unavailable for space %s: %v", spaceID, err)
	} else if sample != nil {
		snapshot.CounterRaw = sample.CounterRaw
		snapshot.DisplayCount = sample.DisplayCount
		snapshot.Method = MethodArduinoLive
		return nil
	}

	// (b) Persisted counter state.
	state, err := e.DB.GetCounterState(spaceID)
	if err != nil {
		return err
	}
	if state != nil {
		window := time.Duration(driftCfg.DriftWindowMinutes) * time.Minute
		stats, err := e.DB.WindowStats(spaceID, now.Add(-window))
		if err != nil {
			return err
		}

		if ShouldCorrectDrift(state, stats, driftCfg, now) {
			if err := e.DB.ApplyDriftCorrection(spaceID, now); err != nil {
				return err
			}
			snapshot.CounterRaw = 0
			snapshot.DisplayCount = 0
			snapshot.DriftCorrected = true
			return nil
		}

		display := ComputeDisplayCount(state.CounterRaw, driftCfg)
		if err := e.DB.UpdateCounterState(spaceID, state.CounterRaw, display, now); err != nil {
			return err
		}
		snapshot.CounterRaw = state.CounterRaw
		snapshot.DisplayCount = display
		snapshot.ScaleApplied = display != state.CounterRaw
		return nil
	}

	// (c) Flow-event net ledger, no scaling or drift correction.
	net, err := e.DB.NetPeopleToday(spaceID, e.dayStart(now))
	if err != nil {
		return err
	}
	snapshot.CounterRaw = net
	snapshot.DisplayCount = net
	return nil
}

// ResolveThresholds loads the space's default threshold profile, falling
// back to the built-in defaults for a missing row or malformed blob. Never
// fails the cycle.
func (e *Estimator) ResolveThresholds(spaceID string) config.Thresholds {
	thresholds := config.DefaultThresholds()

	row, err := e.DB.GetDefaultThresholdProfile(spaceID)
	if err != nil {
		monitoring.Warnf("threshold profile lookup failed for space %s: %v", spaceID, err)
		return thresholds
	}
	if row == nil {
		return thresholds
	}

	if thresholds.People, err = config.ParsePeopleLevels(row.PeopleLevels); err != nil {
		monitoring.Warnf("space %s: %v", spaceID, err)
	}
	if thresholds.Noise, err = config.ParseNoiseLevels(row.NoiseLevels); err != nil {
		monitoring.Warnf("space %s: %v", spaceID, err)
	}
	if thresholds.Drift, err = config.ParseDriftConfig(row.DriftConfig); err != nil {
		monitoring.Warnf("space %s: %v", spaceID, err)
	}
	return thresholds
}

// ClassifyLevel derives the occupancy level. The people estimate is the
// primary signal; noise only ever upgrades a people-LOW result.
func ClassifyLevel(estimate int, noise *float64, t config.Thresholds) string {
	switch {
	case estimate >= t.People.Medium:
		return LevelHigh
	case estimate >= t.People.Low:
		return LevelMedium
	}

	if noise != nil {
		switch {
		case *noise >= t.Noise.High:
			return LevelHigh
		case *noise >= t.Noise.Medium:
			return LevelMedium
		}
	}
	return LevelLow
}

// methodTag names the contributing fallback signals for a non-live cycle.
func methodTag(noise *float64, motion *int) string {
	switch {
	case noise != nil && motion != nil:
		return MethodFusion
	case noise != nil:
		return MethodNoiseOnly
	default:
		return MethodFlowOnly
	}
}

func (e *Estimator) noiseSample(spaceID string, now time.Time) (*float64, error) {
	if e.Cfg.NoiseWindow > 0 {
		return e.DB.AverageReading(spaceID, db.SensorMicrophone, now.Add(-e.Cfg.NoiseWindow))
	}

	reading, err := e.DB.LatestReading(spaceID, db.SensorMicrophone)
	if err != nil || reading == nil {
		return nil, err
	}
	return &reading.Value, nil
}

func (e *Estimator) motionSample(spaceID string, now time.Time) (*int, error) {
	latest, err := e.DB.LatestReading(spaceID, db.SensorPIR)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		// No PIR sensor installed for this space.
		return nil, nil
	}

	count, err := e.DB.MotionCount(spaceID, now.Add(-e.Cfg.MotionWindow))
	if err != nil {
		return nil, err
	}
	return &count, nil
}

// dayStart returns local midnight for the configured timezone.
func (e *Estimator) dayStart(now time.Time) time.Time {
	loc := e.Cfg.Location()
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
