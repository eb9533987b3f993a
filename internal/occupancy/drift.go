package occupancy

import (
	"time"

	"github.com/raum-tracker/occupancy/internal/config"
	"github.com/raum-tracker/occupancy/internal/db"
)

// ShouldCorrectDrift decides whether the counter for a space is measuring
// ghost occupants and must be reset. A nonzero but small counter with no
// arrivals and several departures in the recent window is residual sensor
// noise, not people still present.
//
// Pure over its inputs: counter state, trailing-window event statistics and
// the current time.
func ShouldCorrectDrift(state *db.CounterState, stats db.EventWindowStats, cfg config.DriftConfig, now time.Time) bool {
	// Zero needs no correction; large values are assumed real occupancy.
	if state.CounterRaw <= 0 || state.CounterRaw > cfg.DriftMax {
		return false
	}

	// Rate-limit corrections. A space never corrected counts as satisfied.
	if state.LastDriftCorrection != nil {
		minInterval := time.Duration(cfg.MinCorrectionIntervalMinutes) * time.Minute
		if now.Sub(*state.LastDriftCorrection) < minInterval {
			return false
		}
	}

	return stats.InEvents == 0 && stats.OutEvents >= cfg.MinOutEventsForReset
}
