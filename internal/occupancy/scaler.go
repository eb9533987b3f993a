package occupancy

import (
	"math"

	"github.com/raum-tracker/occupancy/internal/config"
)

// ComputeDisplayCount maps a raw counter value to the bounded display value.
// Small counts are trusted as-is; counts at or above the scale threshold are
// amplified to compensate for light-barrier under-counting of crowds, capped
// at the room capacity. Pure and deterministic.
func ComputeDisplayCount(counterRaw int, cfg config.DriftConfig) int {
	if counterRaw < 0 {
		return 0
	}
	if counterRaw < cfg.ScaleThreshold {
		return counterRaw
	}

	scaled := int(math.Round(float64(counterRaw) * cfg.ScaleFactor))
	if scaled > cfg.MaxCapacity {
		return cfg.MaxCapacity
	}
	return scaled
}
