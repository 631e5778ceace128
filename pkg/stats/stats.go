// Package stats provides the statistical helpers shared by the detectors:
// percentile thresholds, relative trend, correlation and the silhouette
// coefficient over a one-dimensional feature.
package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when a computation needs more samples than it was given.
var ErrInsufficientData = errors.New("insufficient data")

// Percentile returns the p-th percentile of data using linear interpolation
// between the closest ranks. p is in [0, 100]. Data is not modified.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}

	rank := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// MeanStd returns the mean and the population standard deviation of data.
func MeanStd(data []float64) (mean, std float64) {
	if len(data) == 0 {
		return 0, 0
	}
	mean, variance := stat.PopMeanVariance(data, nil)
	return mean, math.Sqrt(variance)
}

// RelativeTrend returns the relative change between the mean of the first
// and the last tenth of data. The window covers at least one sample.
// Fewer than two samples or a zero baseline yield 0.
func RelativeTrend(data []float64) float64 {
	n := len(data)
	if n < 2 {
		return 0
	}

	window := n / 10
	if window < 1 {
		window = 1
	}

	start := stat.Mean(data[:window], nil)
	end := stat.Mean(data[n-window:], nil)
	if start == 0 {
		return 0
	}
	return (end - start) / math.Abs(start)
}

// Pearson returns the Pearson correlation coefficient of x and y.
// A series without variance has no defined correlation and yields 0.
func Pearson(x, y []float64) (float64, error) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, ErrInsufficientData
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, nil
	}
	return r, nil
}
