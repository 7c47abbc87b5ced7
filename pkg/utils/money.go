package utils

import "math"

// Round2 rounds an amount to 2 decimal places (currency minor units).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
