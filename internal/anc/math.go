package anc

import "math"

// The reference implementation leans on a vectorised array library (dot,
// roll, clip, mean, var). Per spec §9 these are expressed here as explicit
// loops over contiguous float64 buffers — the dot product is the hot path
// (FilterLength multiply-adds per chunk) and the natural target for SIMD
// if this ever needs to go faster than a plain loop allows.

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanAbs(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += math.Abs(x)
	}
	return sum / float64(len(xs))
}

func meanSquare(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x * x
	}
	return sum / float64(len(xs))
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// removeDC returns a fresh slice with the per-chunk mean subtracted,
// compensating for ADC bias on the sensor node (spec §4.2 step 2).
func removeDC(xs []float64) []float64 {
	m := mean(xs)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x - m
	}
	return out
}

// hasNonFinite reports whether any element is NaN or +/-Inf. Comparisons
// against NaN are always false under IEEE754, so range-based clipping
// (MaxWeight, MaxWeightUpdate) never catches it on its own — callers that
// need to guard against a NumericAnomaly must check explicitly.
func hasNonFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
