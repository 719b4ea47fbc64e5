package compass

import "math"

const (
	pointScale      = 1_000_000
	roundingOffset  = 150_000
	roundUpFraction = 500_000

	maxScaledPoints = math.MaxInt64 / pointScale
)

// RoundPoints rounds an automatically computed score before it is attached to a submission.
//
// The fractional part is lowered by 0.15: at or above 0.5 the value rounds up to the next
// integer, strictly above 0 it becomes the half point, otherwise the integer part is kept.
// Negative values carry a negative fraction and therefore always land on their integer part,
// which rounds them towards zero. Arithmetic is done on a fixed scale so repeated application
// is stable.
func RoundPoints(points float64) float64 {
	if math.IsNaN(points) || math.IsInf(points, 0) {
		return 0
	}
	// beyond the fixed scale a float64 carries no fractional part worth rounding
	if math.Abs(points) >= maxScaledPoints {
		return math.Trunc(points)
	}

	scaled := int64(math.Round(points * pointScale))
	integer := scaled / pointScale
	offset := scaled%pointScale - roundingOffset

	var rounded float64
	switch {
	case offset >= roundUpFraction:
		rounded = float64(integer + 1)
	case offset > 0:
		rounded = float64(integer) + 0.5
	default:
		rounded = float64(integer)
	}

	if rounded == 0 {
		return 0
	}
	return rounded
}
