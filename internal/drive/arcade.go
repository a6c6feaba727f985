package drive

import "math"

// clamp maps NaN to zero.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

// ArcadeMix converts throttle/turn into differential outputs. Inputs are clamped to
// [-1, 1]; when either side exceeds 1 both are scaled by the same factor so the turn
// ratio survives saturation.
func ArcadeMix(throttle, turn float64) (left, right float64) {
	throttle = clamp(throttle, -1, 1)
	turn = clamp(turn, -1, 1)

	left = throttle - turn
	right = throttle + turn
	return normalize(left, right, 1)
}

// normalize scales left and right together so neither magnitude exceeds limit.
func normalize(left, right, limit float64) (float64, float64) {
	peak := math.Max(math.Abs(left), math.Abs(right))
	if peak > limit && peak > 0 {
		scale := limit / peak
		left *= scale
		right *= scale
	}
	return left, right
}
