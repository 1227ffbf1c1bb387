package verifier

import (
	"math"

	"athsync/internal/model"
)

// Classify compares a stored ATH with a recomputed one. The delta is the
// percentage change from stored to recomputed. A move of majorRatio or more
// in either direction is major; anything inside tolerancePct is none.
func Classify(stored, recomputed, tolerancePct, majorRatio float64) (model.Discrepancy, float64) {
	if !(stored > 0) {
		if recomputed > 0 {
			return model.DiscrepancyMajor, math.Inf(1)
		}
		return model.DiscrepancyNone, 0
	}

	delta := (recomputed - stored) / stored * 100
	if math.Abs(delta) < tolerancePct {
		return model.DiscrepancyNone, delta
	}

	ratio := recomputed / stored
	if majorRatio > 1 && (ratio >= majorRatio || ratio <= 1/majorRatio) {
		return model.DiscrepancyMajor, delta
	}
	return model.DiscrepancyMinor, delta
}
