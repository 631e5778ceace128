// Package report holds the outcome of a detection run and writes it as a
// JSON summary and as a Prometheus textfile.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hed1ad/sensorguard/pkg/awareness"
	"github.com/hed1ad/sensorguard/pkg/correlation"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	"github.com/hed1ad/sensorguard/pkg/tuning"
)

// Sensor is the outcome for one sensor.
type Sensor struct {
	Name        string                  `json:"name"`
	Hyperparams autoencoder.Hyperparams `json:"hyperparams"`
	// Loaded is true when the model came from the store instead of training.
	Loaded    bool              `json:"loaded"`
	Threshold float64           `json:"threshold"`
	Samples   int               `json:"samples"`
	Anomalies int               `json:"anomalies"`
	Metrics   awareness.Metrics `json:"metrics"`
	BestEpoch int               `json:"best_epoch,omitempty"`
	Epochs    int               `json:"epochs,omitempty"`
	Tuning    *tuning.Outcome   `json:"tuning,omitempty"`
}

// Summary is the outcome of a run.
type Summary struct {
	RunID       string              `json:"run_id"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Sensors     []Sensor            `json:"sensors"`
	Correlation *correlation.Matrix `json:"correlation,omitempty"`
	Averages    []float64           `json:"average_correlations,omitempty"`
	Malfunction *correlation.Alert  `json:"malfunction,omitempty"`
	Findings    []awareness.Finding `json:"findings,omitempty"`
}

// Sensor returns the entry for name.
func (s *Summary) Sensor(name string) (Sensor, bool) {
	for _, sensor := range s.Sensors {
		if sensor.Name == name {
			return sensor, true
		}
	}
	return Sensor{}, false
}

// WriteJSON writes the summary as indented JSON to path.
func WriteJSON(path string, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadJSON reads a summary written by WriteJSON.
func ReadJSON(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return &s, nil
}
