// Package preprocess provides feature scaling for sensor series.
package preprocess

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned when a scaler is used before Fit.
var ErrNotFitted = errors.New("scaler not fitted")

// ErrEmptyData is returned when Fit is called without samples.
var ErrEmptyData = errors.New("empty data")

// minScale replaces a standard deviation that is effectively zero so constant
// features pass through centred but unscaled.
const minScale = 1e-12

// StandardScaler standardizes every feature to zero mean and unit variance.
// Parameters are fit once and then reused verbatim.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Fit computes per-feature mean and population standard deviation.
func (s *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return ErrEmptyData
	}

	nFeatures := len(data[0])
	for _, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("row has %d features, want %d", len(row), nFeatures)
		}
	}

	mean := make([]float64, nFeatures)
	scale := make([]float64, nFeatures)
	column := make([]float64, len(data))
	for j := 0; j < nFeatures; j++ {
		for i, row := range data {
			column[i] = row[j]
		}
		m, variance := stat.PopMeanVariance(column, nil)
		mean[j] = m
		scale[j] = math.Sqrt(variance)
		if scale[j] < minScale {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

// Fitted reports whether the scaler has parameters.
func (s *StandardScaler) Fitted() bool {
	return len(s.Mean) > 0
}

// Transform returns a standardized copy of data.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	return s.apply(data, func(v float64, j int) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	})
}

// InverseTransform maps standardized data back to original units.
func (s *StandardScaler) InverseTransform(data [][]float64) ([][]float64, error) {
	return s.apply(data, func(v float64, j int) float64 {
		return v*s.Scale[j] + s.Mean[j]
	})
}

// FitTransform fits on data and returns its standardized copy.
func (s *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := s.Fit(data); err != nil {
		return nil, err
	}
	return s.Transform(data)
}

func (s *StandardScaler) apply(data [][]float64, fn func(v float64, j int) float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, ErrNotFitted
	}

	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = fn(v, j)
		}
		out[i] = scaled
	}
	return out, nil
}
