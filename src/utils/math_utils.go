package utils

import "math"

// RoundFloat rounds a float64 to a specified number of decimal places,
// half away from zero. Negative zero is normalized to zero.
func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	rounded := math.Round(val*ratio) / ratio
	if rounded == 0 {
		return 0
	}
	return rounded
}

// SafeDiv divides a by b, returning 0 when the denominator is zero.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
