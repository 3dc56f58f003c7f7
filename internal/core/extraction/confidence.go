package extraction

import "math"

const DefaultMissingFieldPenalty = 0.1

// AdjustConfidence clamps the model confidence to [0,1] and subtracts penalty
// for every expected field that was not extracted.
func AdjustConfidence(raw float64, missingExpected int, penalty float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	c := clamp01(raw)
	if penalty > 0 && missingExpected > 0 {
		c -= penalty * float64(missingExpected)
	}
	return math.Round(clamp01(c)*100) / 100
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
