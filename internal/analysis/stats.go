package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Guliveer/vitalis/monitor/internal/models"
)

// column extracts metric m from every reading.
func column(readings []models.Reading, m models.Metric) []float64 {
	out := make([]float64, len(readings))
	for i, r := range readings {
		out[i] = r.Value(m)
	}
	return out
}

// sampleStdDev is the n-1 normalized standard deviation; 0 for fewer than two values.
func sampleStdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.StdDev(x, nil)
}

func median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// percentile returns the p-th percentile (0..100) of x, interpolating
// linearly between the two nearest ranks.
func percentile(x []float64, p float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func summarize(x []float64) *models.MetricSummary {
	return &models.MetricSummary{
		Mean:   stat.Mean(x, nil),
		Median: median(x),
		Std:    sampleStdDev(x),
		Min:    floats.Min(x),
		Max:    floats.Max(x),
	}
}

// slope fits y = a + b·i over i = 0..n-1 by ordinary least squares and returns b.
func slope(y []float64) float64 {
	x := make([]float64, len(y))
	for i := range x {
		x[i] = float64(i)
	}
	_, beta := stat.LinearRegression(x, y, nil, false)
	return beta
}
