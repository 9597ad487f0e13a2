package spectrum

import "gonum.org/v1/gonum/floats"

// Decimate reduces mags to at most points values by keeping the maximum of
// each consecutive window. Trailing bins that do not fill a whole window are
// dropped.
func Decimate(mags []float64, points int) []float64 {
	if points <= 0 || len(mags) == 0 {
		return nil
	}
	windowSize := len(mags) / points
	if windowSize < 1 {
		windowSize = 1
		points = len(mags)
	}
	out := make([]float64, points)
	for i := range out {
		start := i * windowSize
		out[i] = floats.Max(mags[start : start+windowSize])
	}
	return out
}
