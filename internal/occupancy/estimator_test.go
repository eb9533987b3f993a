package occupancy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raum-tracker/occupancy/internal/config"
	"github.com/raum-tracker/occupancy/internal/db"
	"github.com/raum-tracker/occupancy/internal/httputil"
	"github.com/raum-tracker/occupancy/internal/timeutil"
)

var testNow = time.Date(2025, 12, 6, 15, 0, 0, 0, time.UTC)

func newTestEstimator(t *testing.T) (*Estimator, *db.DB, *timeutil.FakeClock) {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := &config.AppConfig{
		Timezone:      "UTC",
		ActiveStart:   "08:25",
		ActiveEnd:     "21:00",
		CycleInterval: time.Minute,
		MotionWindow:  5 * time.Minute,
	}
	clock := timeutil.NewFakeClock(testNow)
	return NewEstimator(database, nil, cfg, clock), database, clock
}

func createSpace(t *testing.T, database *db.DB, name string) *db.Space {
	t.Helper()
	space := &db.Space{Name: name}
	require.NoError(t, database.CreateSpace(space))
	return space
}

func insertEvents(t *testing.T, database *db.DB, spaceID, direction string, n int, ts time.Time) {
	t.Helper()
	gate := &db.Gate{SpaceID: spaceID, Name: "door"}
	require.NoError(t, database.CreateGate(gate))
	for i := 0; i < n; i++ {
		event := &db.FlowEvent{
			GateID:    gate.ID,
			SpaceID:   spaceID,
			TS:        ts.Add(time.Duration(i) * time.Second),
			Direction: direction,
		}
		require.NoError(t, database.InsertFlowEvent(event))
	}
}

func TestEvaluateSpace_LedgerFallback(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	// No counter state, no live source; 6 IN and 2 OUT today.
	insertEvents(t, database, space.ID, db.DirectionIn, 6, testNow.Add(-2*time.Hour))
	insertEvents(t, database, space.ID, db.DirectionOut, 2, testNow.Add(-time.Hour))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	assert.Equal(t, 4, snapshot.DisplayCount)
	assert.Equal(t, 4, snapshot.PeopleEstimate)
	assert.Equal(t, LevelLow, snapshot.Level)
	assert.Equal(t, MethodFlowOnly, snapshot.Method)
	assert.False(t, snapshot.DriftCorrected)
	assert.False(t, snapshot.ScaleApplied)

	// The snapshot is persisted and readable.
	latest, err := database.LatestSnapshot(space.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, snapshot.ID, latest.ID)
}

func TestEvaluateSpace_LedgerFallback_YesterdayExcluded(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	insertEvents(t, database, space.ID, db.DirectionIn, 9, testNow.Add(-20*time.Hour))
	insertEvents(t, database, space.ID, db.DirectionIn, 2, testNow.Add(-time.Hour))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.DisplayCount)
}

func TestEvaluateSpace_DriftCorrection(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 3, 3, testNow.Add(-time.Hour)))
	// 0 IN, 2 OUT inside the drift window.
	insertEvents(t, database, space.ID, db.DirectionOut, 2, testNow.Add(-10*time.Minute))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	assert.True(t, snapshot.DriftCorrected)
	assert.Equal(t, 0, snapshot.CounterRaw)
	assert.Equal(t, 0, snapshot.DisplayCount)
	assert.Equal(t, LevelLow, snapshot.Level)

	state, err := database.GetCounterState(space.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.CounterRaw)
	assert.Equal(t, 0, state.DisplayCount)
	assert.Equal(t, 1, state.DriftCorrectionsToday)
	require.NotNil(t, state.LastDriftCorrection)
}

func TestEvaluateSpace_DriftBlockedByRecentCorrection(t *testing.T) {
	est, database, clock := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 3, 3, testNow.Add(-time.Hour)))
	insertEvents(t, database, space.ID, db.DirectionOut, 2, testNow.Add(-10*time.Minute))

	// First cycle corrects.
	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)
	require.True(t, snapshot.DriftCorrected)

	// Counter drifts again two minutes later; the interval blocks.
	clock.Advance(2 * time.Minute)
	require.NoError(t, database.UpdateCounterState(space.ID, 2, 2, clock.Now()))

	snapshot, err = est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)
	assert.False(t, snapshot.DriftCorrected)
	assert.Equal(t, 2, snapshot.DisplayCount)
}

func TestEvaluateSpace_ScalingPath(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 20, 20, testNow.Add(-time.Minute)))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	// 20 >= threshold 15: scaled by 2, below cap 60.
	assert.Equal(t, 20, snapshot.CounterRaw)
	assert.Equal(t, 40, snapshot.DisplayCount)
	assert.True(t, snapshot.ScaleApplied)
	assert.False(t, snapshot.DriftCorrected)
	assert.Equal(t, LevelHigh, snapshot.Level)

	// The scaled value is written back.
	state, err := database.GetCounterState(space.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, state.CounterRaw)
	assert.Equal(t, 40, state.DisplayCount)
}

func TestEvaluateSpace_SmallCountNotScaled(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 8, 8, testNow.Add(-time.Minute)))
	// Recent arrivals keep the drift detector quiet.
	insertEvents(t, database, space.ID, db.DirectionIn, 3, testNow.Add(-5*time.Minute))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	assert.Equal(t, 8, snapshot.DisplayCount)
	assert.False(t, snapshot.ScaleApplied)
	assert.Equal(t, LevelMedium, snapshot.Level)
}

func TestEvaluateSpace_NoiseUpgradesLowLevel(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 4, 4, testNow.Add(-time.Minute)))
	require.NoError(t, database.InsertReading(&db.Reading{
		SpaceID: space.ID, SensorType: db.SensorMicrophone, TS: testNow.Add(-time.Minute), Value: 76,
	}))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	// People put it at LOW; 76 dB is above the high breakpoint.
	assert.Equal(t, 4, snapshot.DisplayCount)
	assert.Equal(t, LevelHigh, snapshot.Level)
	assert.Equal(t, MethodNoiseOnly, snapshot.Method)
	require.NotNil(t, snapshot.NoiseDB)
	assert.Equal(t, 76.0, *snapshot.NoiseDB)
}

func TestEvaluateSpace_NoiseNeverDowngrades(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 12, 12, testNow.Add(-time.Minute)))
	// Quiet room, lots of people: people signal wins.
	require.NoError(t, database.InsertReading(&db.Reading{
		SpaceID: space.ID, SensorType: db.SensorMicrophone, TS: testNow.Add(-time.Minute), Value: 30,
	}))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)
	assert.Equal(t, LevelHigh, snapshot.Level)
}

func TestEvaluateSpace_FusionMethod(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.InsertReading(&db.Reading{
		SpaceID: space.ID, SensorType: db.SensorMicrophone, TS: testNow.Add(-time.Minute), Value: 50,
	}))
	require.NoError(t, database.InsertReading(&db.Reading{
		SpaceID: space.ID, SensorType: db.SensorPIR, TS: testNow.Add(-2*time.Minute), Value: 1,
	}))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	assert.Equal(t, MethodFusion, snapshot.Method)
	require.NotNil(t, snapshot.MotionCount)
	assert.Equal(t, 1, *snapshot.MotionCount)
}

func TestEvaluateSpace_LiveSource(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"has_data":true,"count":18,"display_count":36,"seconds_since_count_update":5}`)
	est.Live = newTestLiveSource(mock)

	// Persisted state exists but the live source wins and bypasses drift.
	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 3, 3, testNow.Add(-time.Minute)))
	insertEvents(t, database, space.ID, db.DirectionOut, 4, testNow.Add(-10*time.Minute))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	assert.Equal(t, MethodArduinoLive, snapshot.Method)
	assert.Equal(t, 18, snapshot.CounterRaw)
	assert.Equal(t, 36, snapshot.DisplayCount)
	assert.Equal(t, LevelHigh, snapshot.Level)
	assert.False(t, snapshot.DriftCorrected)

	// The persisted state is untouched on the live path.
	state, err := database.GetCounterState(space.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, state.CounterRaw)
	assert.Equal(t, 0, state.DriftCorrectionsToday)
}

func TestEvaluateSpace_LiveFailureFallsBack(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(500, `boom`)
	est.Live = newTestLiveSource(mock)

	require.NoError(t, database.EnsureCounterState(space.ID))
	require.NoError(t, database.UpdateCounterState(space.ID, 6, 6, testNow.Add(-time.Minute)))
	insertEvents(t, database, space.ID, db.DirectionIn, 1, testNow.Add(-5*time.Minute))

	snapshot, err := est.EvaluateSpace(context.Background(), space.ID)
	require.NoError(t, err)

	assert.Equal(t, 6, snapshot.DisplayCount)
	assert.NotEqual(t, MethodArduinoLive, snapshot.Method)
}

func TestResolveThresholds(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	space := createSpace(t, database, "Corner")

	// No profile row: defaults.
	thresholds := est.ResolveThresholds(space.ID)
	assert.Equal(t, config.DefaultThresholds(), thresholds)

	// Valid blobs override; malformed drift blob keeps drift defaults.
	require.NoError(t, database.UpsertThresholdProfile(&db.ThresholdProfileRow{
		SpaceID:      space.ID,
		PeopleLevels: `{"low":3,"medium":6}`,
		NoiseLevels:  `{"low":40,"medium":50,"high":65}`,
		DriftConfig:  `{broken`,
	}))

	thresholds = est.ResolveThresholds(space.ID)
	assert.Equal(t, config.PeopleLevels{Low: 3, Medium: 6}, thresholds.People)
	assert.Equal(t, config.NoiseLevels{Low: 40, Medium: 50, High: 65}, thresholds.Noise)
	assert.Equal(t, config.DefaultDriftConfig(), thresholds.Drift)
}

func TestClassifyLevel_Boundaries(t *testing.T) {
	thresholds := config.DefaultThresholds()

	tests := []struct {
		estimate int
		noise    *float64
		want     string
	}{
		{0, nil, LevelLow},
		{4, nil, LevelLow},
		{5, nil, LevelMedium},
		{9, nil, LevelMedium},
		{10, nil, LevelHigh},
		{4, floatPtr(76), LevelHigh},
		{4, floatPtr(61), LevelMedium},
		{4, floatPtr(59), LevelLow},
		{5, floatPtr(76), LevelMedium}, // noise never touches non-LOW results
	}

	for _, tt := range tests {
		got := ClassifyLevel(tt.estimate, tt.noise, thresholds)
		if got != tt.want {
			t.Errorf("ClassifyLevel(%d, %v) = %s, want %s", tt.estimate, tt.noise, got, tt.want)
		}
	}
}

func TestRunCycle_ProcessesAllSpaces(t *testing.T) {
	est, database, _ := newTestEstimator(t)
	a := createSpace(t, database, "Raum A")
	b := createSpace(t, database, "Raum B")

	require.NoError(t, est.RunCycle(context.Background()))

	for _, space := range []*db.Space{a, b} {
		latest, err := database.LatestSnapshot(space.ID)
		require.NoError(t, err)
		require.NotNil(t, latest, "space %s should have a snapshot", space.Name)
	}
}

func floatPtr(f float64) *float64 { return &f }
