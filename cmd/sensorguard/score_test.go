package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/io/jsonl"
	"github.com/hed1ad/sensorguard/pkg/io/sensorlog"
)

func TestSensorIndex(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"Sensor 1", 0, false},
		{"Sensor 4", 3, false},
		{"pump", 0, true},
		{"Sensor x", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sensorIndex(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func trainedDetector(t *testing.T) *autoencoder.Detector {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	train := make([][]float64, 120)
	for i := range train {
		train[i] = []float64{rng.NormFloat64() * 0.1, rng.NormFloat64() * 0.1}
	}

	det := autoencoder.New("Sensor 2", autoencoder.WithHyperparams(autoencoder.Hyperparams{
		Width:        8,
		Dropout:      0.1,
		LearningRate: 5e-3,
		Epochs:       10,
		BatchSize:    16,
		Patience:     5,
	}))
	require.NoError(t, det.Normalize(train, train[:10]))
	require.NoError(t, det.Train(context.Background()))
	_, err := det.Evaluate()
	require.NoError(t, err)
	return det
}

func TestScoreSelectsSensorColumns(t *testing.T) {
	det := trainedDetector(t)

	input := strings.Join([]string{
		"Sensor 1 - X: 1 Y: 2 | Sensor 2 - X: 0.05 Y: -0.02 | Sensor 3 - X: 5 Y: 6 | Sensor 4 - X: 7 Y: 8",
		"garbage",
		"Sensor 1 - X: 1 Y: 2 | Sensor 2 - X: 3.5 Y: 4.5 | Sensor 3 - X: 5 Y: 6 | Sensor 4 - X: 7 Y: 8",
	}, "\n")
	r := sensorlog.NewReader(strings.NewReader(input))

	var buf bytes.Buffer
	w := jsonl.NewWriter(&buf)
	n, anomalies, err := score(context.Background(), det, r, 1, w)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	assert.Equal(t, 2, n)
	assert.LessOrEqual(t, anomalies, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var results []sgio.Result
	for _, line := range lines {
		var res sgio.Result
		require.NoError(t, json.Unmarshal([]byte(line), &res))
		results = append(results, res)
	}

	assert.Equal(t, "Sensor 2", results[0].Sensor)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
	assert.Equal(t, []float64{0.05, -0.02}, results[0].Features)
	assert.Equal(t, []float64{3.5, 4.5}, results[1].Features)
	assert.InDelta(t, det.Threshold(), results[0].Threshold, 1e-12)
}

type rowsReader [][]float64

func (r rowsReader) Read() ([][]float64, error) { return r, nil }

func (r rowsReader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64)
	go func() {
		defer close(out)
		for _, row := range r {
			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (rowsReader) Close() error { return nil }

func TestScoreIndexesFollowInputRows(t *testing.T) {
	det := trainedDetector(t)

	r := rowsReader{
		{1, 2, 0.05, -0.02, 5, 6, 7, 8},
		{1, 2, 3},
		{1, 2, 0.01, 0.03, 5, 6, 7, 8},
	}

	var buf bytes.Buffer
	w := jsonl.NewWriter(&buf)
	n, _, err := score(context.Background(), det, r, 1, w)
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	assert.Equal(t, 2, n)

	var indexes []int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var res sgio.Result
		require.NoError(t, json.Unmarshal([]byte(line), &res))
		indexes = append(indexes, res.Index)
	}
	assert.Equal(t, []int{0, 2}, indexes)
}

func TestScoreCommandRequiresBundle(t *testing.T) {
	cmd := newScoreCommand(nil)
	cmd.SetArgs([]string{"input.txt"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
