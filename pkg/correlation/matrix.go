// Package correlation relates the reconstruction error signals of several
// sensors and points out the one that behaves unlike the others.
package correlation

import (
	"fmt"
	"math"

	"github.com/hed1ad/sensorguard/pkg/stats"
)

// DefaultMargin is the minimum gap between the lowest and the second lowest
// average correlation for the lowest sensor to be reported.
const DefaultMargin = 0.2

// ErrInsufficientData is returned for fewer than two series or series of
// different lengths.
var ErrInsufficientData = stats.ErrInsufficientData

// Matrix is the symmetric Pearson correlation matrix of named series.
type Matrix struct {
	Names  []string    `json:"names"`
	Values [][]float64 `json:"values"`
}

// Build correlates every pair of series. names and series are parallel.
// A pair involving a series without variance correlates 0.
func Build(names []string, series [][]float64) (*Matrix, error) {
	if len(names) != len(series) {
		return nil, fmt.Errorf("%d names for %d series: %w", len(names), len(series), ErrInsufficientData)
	}
	if len(series) < 2 {
		return nil, fmt.Errorf("correlation needs at least two series, got %d: %w", len(series), ErrInsufficientData)
	}
	n := len(series[0])
	for i, s := range series {
		if len(s) != n {
			return nil, fmt.Errorf("series %q has %d samples, want %d: %w", names[i], len(s), n, ErrInsufficientData)
		}
	}

	values := make([][]float64, len(series))
	for i := range values {
		values[i] = make([]float64, len(series))
		values[i][i] = 1
	}
	for i := range series {
		for j := i + 1; j < len(series); j++ {
			r, err := stats.Pearson(series[i], series[j])
			if err != nil {
				return nil, fmt.Errorf("correlate %q and %q: %w", names[i], names[j], err)
			}
			values[i][j] = r
			values[j][i] = r
		}
	}

	return &Matrix{Names: append([]string(nil), names...), Values: values}, nil
}

// At returns the correlation between series i and j.
func (m *Matrix) At(i, j int) float64 {
	return m.Values[i][j]
}

// AverageCorrelations returns, per series, the mean correlation with every
// other series.
func (m *Matrix) AverageCorrelations() []float64 {
	n := len(m.Values)
	avg := make([]float64, n)
	if n < 2 {
		return avg
	}
	for i, row := range m.Values {
		var sum float64
		for j, v := range row {
			if i != j {
				sum += v
			}
		}
		avg[i] = sum / float64(n-1)
	}
	return avg
}

// Alert reports a sensor whose error signal decorrelates from the others.
type Alert struct {
	Sensor  string  `json:"sensor"`
	Index   int     `json:"index"`
	Average float64 `json:"average_correlation"`
	// Gap is the distance to the second lowest average correlation.
	Gap float64 `json:"gap"`
}

// Malfunction returns the series with the lowest average correlation when it
// trails the second lowest by more than margin. It returns nil when no
// series stands out.
func (m *Matrix) Malfunction(margin float64) *Alert {
	avg := m.AverageCorrelations()
	if len(avg) < 2 {
		return nil
	}

	lowest, second := -1, -1
	for i, v := range avg {
		switch {
		case lowest < 0 || v < avg[lowest]:
			second = lowest
			lowest = i
		case second < 0 || v < avg[second]:
			second = i
		}
	}

	gap := avg[second] - avg[lowest]
	if math.IsNaN(gap) || gap <= margin {
		return nil
	}
	return &Alert{
		Sensor:  m.Names[lowest],
		Index:   lowest,
		Average: avg[lowest],
		Gap:     gap,
	}
}
