package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(sgio.Result{Sensor: "Sensor 1", Index: 0, Score: 0.1, Threshold: 0.5}))
	require.NoError(t, w.WriteAll([]sgio.Result{
		{Sensor: "Sensor 1", Index: 1, Score: 0.9, Threshold: 0.5, IsAnomaly: true, Features: []float64{1, 2}},
		{Sensor: "Sensor 1", Index: 2, Score: 0.2, Threshold: 0.5},
	}))
	assert.Zero(t, buf.Len(), "results are buffered until flushed")
	require.NoError(t, w.Close())

	var got []sgio.Result
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var r sgio.Result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 3)
	assert.True(t, got[1].IsAnomaly)
	assert.Equal(t, []float64{1, 2}, got[1].Features)
	assert.Equal(t, 2, got[2].Index)
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(sgio.Result{Sensor: "Sensor 2", Score: 1}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sensor":"Sensor 2","index":0,"score":1,"threshold":0,"is_anomaly":false}`, string(bytes.TrimSpace(data)))
}

type countingCloser struct {
	bytes.Buffer
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	if c.closes > 1 {
		return os.ErrClosed
	}
	return nil
}

func TestCloseTwice(t *testing.T) {
	out := &countingCloser{}
	w := NewWriter(out)
	require.NoError(t, w.Write(sgio.Result{Sensor: "Sensor 3"}))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, out.closes)
	assert.Contains(t, out.String(), `"sensor":"Sensor 3"`)
}

func TestCreateCloseTwice(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "results.jsonl"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

var _ sgio.Writer = (*Writer)(nil)
