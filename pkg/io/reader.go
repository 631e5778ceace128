// Package io provides input/output utilities for sensor data ingestion and
// result output.
//
// Every reader yields rows of Columns values laid out as
// x1, y1, x2, y2, x3, y3, x4, y4.
package io

import (
	"context"
	"fmt"
)

const (
	// Sensors is the number of sensors in a reading.
	Sensors = 4
	// Axes is the number of values per sensor.
	Axes = 2
	// Columns is the width of a reading row.
	Columns = Sensors * Axes
)

// Reader is the interface for reading data from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() ([][]float64, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor extracts numerical features from raw data.
type FeatureExtractor interface {
	// Extract converts raw input to feature vector.
	Extract(data any) ([]float64, error)

	// FeatureNames returns the names of extracted features.
	FeatureNames() []string
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result represents an anomaly detection result.
type Result struct {
	Sensor    string         `json:"sensor,omitempty"`
	Index     int            `json:"index"`
	Score     float64        `json:"score"`
	Threshold float64        `json:"threshold"`
	IsAnomaly bool           `json:"is_anomaly"`
	Features  []float64      `json:"features,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SensorName returns the display name of the i-th sensor, counting from 0.
func SensorName(i int) string {
	return fmt.Sprintf("Sensor %d", i+1)
}

// SensorNames returns the display names of all sensors in column order.
func SensorNames() []string {
	names := make([]string, Sensors)
	for i := range names {
		names[i] = SensorName(i)
	}
	return names
}

// ColumnNames returns x1, y1, ... x4, y4.
func ColumnNames() []string {
	names := make([]string, 0, Columns)
	for i := 1; i <= Sensors; i++ {
		names = append(names, fmt.Sprintf("x%d", i), fmt.Sprintf("y%d", i))
	}
	return names
}

// Split separates reading rows into one (x, y) series per sensor.
func Split(rows [][]float64) ([Sensors][][]float64, error) {
	var series [Sensors][][]float64
	for s := range series {
		series[s] = make([][]float64, len(rows))
	}
	for i, row := range rows {
		if len(row) != Columns {
			return series, fmt.Errorf("row %d has %d columns, want %d", i, len(row), Columns)
		}
		for s := range series {
			series[s][i] = []float64{row[s*Axes], row[s*Axes+1]}
		}
	}
	return series, nil
}
