package autoencoder

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

// formatVersion is bumped whenever the serialized layout changes.
const formatVersion = 1

type modelState struct {
	Version     int
	InputDim    int
	Hyperparams Hyperparams
	Weights     weights
}

// MarshalBinary encodes the topology and the current weights.
// Optimizer state is not kept; a loaded model is meant for inference.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(modelState{
		Version:     formatVersion,
		InputDim:    m.inputDim,
		Hyperparams: m.hp,
		Weights:     m.snapshot(),
	}); err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalModel rebuilds a model from MarshalBinary output.
func UnmarshalModel(data []byte) (*Model, error) {
	var s modelState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if s.Version != formatVersion {
		return nil, fmt.Errorf("unsupported model format version %d", s.Version)
	}

	m, err := Build(s.InputDim, s.Hyperparams, 0)
	if err != nil {
		return nil, err
	}
	if err := m.restore(s.Weights); err != nil {
		return nil, err
	}
	return m, nil
}

// bundle is a self-contained detector: model, scaler and threshold.
type bundle struct {
	Version    int
	Name       string
	Percentile float64
	Threshold  float64
	Mean       []float64
	Scale      []float64
	Model      []byte
}

func encodeBundle(b bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encode detector: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeBundle(data []byte) (bundle, error) {
	var b bundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return b, fmt.Errorf("decode detector: %w", err)
	}
	if b.Version != formatVersion {
		return b, fmt.Errorf("unsupported detector format version %d", b.Version)
	}
	if len(b.Mean) == 0 || len(b.Mean) != len(b.Scale) {
		return b, errors.New("detector has no scaler")
	}
	return b, nil
}
