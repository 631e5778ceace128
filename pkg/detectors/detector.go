// Package detectors defines the contracts shared by the sensor anomaly detectors.
package detectors

import (
	"context"
	"errors"
)

// Sentinel errors shared by detector implementations.
var (
	// ErrNotTrained is returned when scoring with a detector that has no model.
	ErrNotTrained = errors.New("model not trained")
	// ErrInsufficientData is returned when a step receives no usable samples.
	ErrInsufficientData = errors.New("insufficient data")
)

// Detector is the common interface for all anomaly detection algorithms.
type Detector interface {
	// Fit trains the detector on healthy historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns anomaly scores for the given samples.
	// Scores are in the detector's own units; higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// Threshold returns the score above which a sample is anomalous.
	Threshold() float64

	// Save serializes the trained detector to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained detector from bytes.
	Load(data []byte) error
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// PredictStream processes samples from a channel and outputs scores.
	PredictStream(ctx context.Context, input <-chan []float64, output chan<- Score) error
}

// Score represents an anomaly detection result.
type Score struct {
	// Value is the anomaly score.
	Value float64
	// IsAnomaly indicates if the score exceeds the threshold.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
	// Metadata contains additional information.
	Metadata map[string]any
}

// Config holds common configuration for detectors.
type Config struct {
	// ThresholdPercentile is the percentile of training scores used as threshold.
	ThresholdPercentile float64
	// RandomSeed for reproducibility.
	RandomSeed int64
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		ThresholdPercentile: 95,
		RandomSeed:          42,
	}
}
