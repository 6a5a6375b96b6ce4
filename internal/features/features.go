// Package features computes the fixed 7-scalar summary of a cycle's
// pressure series.
//
// Feature contract (order matters):
//
//	[max, min, difference, average, variance, trend_slope, cavity_id]
//
// Precision contract: trend_slope is rounded to 6 decimals, all other
// floats to 3; cavity_id is the integer cast to float, unrounded. The
// rounded values feed both persistence and inference so the two see
// bit-identical inputs.
package features

import "math"

// Vector is the named feature set of one cycle.
type Vector struct {
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
	Difference float64 `json:"difference"`
	Average    float64 `json:"average"`
	Variance   float64 `json:"variance"`
	TrendSlope float64 `json:"trend_slope"`
	CavityID   float64 `json:"cavity_id"`
}

// Compute derives the feature vector from a pressure series. It is a
// pure function: repeated calls with equal input return equal output.
// A series shorter than 2 points yields all zeros except cavity_id.
func Compute(pressures []float64, cavityID int) Vector {
	if len(pressures) < 2 {
		return Vector{CavityID: float64(cavityID)}
	}

	pMax, pMin := pressures[0], pressures[0]
	sum := 0.0
	for _, p := range pressures {
		if p > pMax {
			pMax = p
		}
		if p < pMin {
			pMin = p
		}
		sum += p
	}
	n := float64(len(pressures))
	avg := sum / n

	// Population variance (divide by N).
	variance := 0.0
	for _, p := range pressures {
		d := p - avg
		variance += d * d
	}
	variance /= n

	return Vector{
		Max:        round(pMax, 3),
		Min:        round(pMin, 3),
		Difference: round(pMax-pMin, 3),
		Average:    round(avg, 3),
		Variance:   round(variance, 3),
		TrendSlope: round(trendSlope(pressures), 6),
		CavityID:   float64(cavityID),
	}
}

// ToVector projects the features into the ordered slice consumed by the
// model. Mode "6d" omits cavity_id; anything else yields the full 7-dim
// order.
func ToVector(v Vector, mode string) []float64 {
	base := []float64{v.Max, v.Min, v.Difference, v.Average, v.Variance, v.TrendSlope}
	if mode == "6d" {
		return base
	}
	return append(base, v.CavityID)
}

// trendSlope is the slope coefficient of a degree-1 least-squares fit
// with x = 0..N-1. A degenerate fit yields 0.
func trendSlope(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / den
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}
	return slope
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
