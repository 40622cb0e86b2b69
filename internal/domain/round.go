package domain

import "math"

// Round2 rounds to two decimals, resolving exact halves of the scaled value
// to the even neighbour: Round2(0.125) == 0.12, Round2(0.375) == 0.38.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
