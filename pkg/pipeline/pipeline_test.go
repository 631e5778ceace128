package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/sensorguard/internal/config"
	"github.com/hed1ad/sensorguard/internal/logging"
	"github.com/hed1ad/sensorguard/pkg/detectors"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/report"
	"github.com/hed1ad/sensorguard/pkg/store"
	"github.com/hed1ad/sensorguard/pkg/tuning"
)

const noise = 0.1

func smallHyperparams() autoencoder.Hyperparams {
	return autoencoder.Hyperparams{
		Width:        8,
		Dropout:      0.1,
		LearningRate: 5e-3,
		Epochs:       40,
		BatchSize:    16,
		Patience:     5,
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.OutDir = filepath.Join(t.TempDir(), "out")
	cfg.ModelDir = filepath.Join(t.TempDir(), "models")
	cfg.Plots = false
	return cfg
}

func testContext() context.Context {
	return logging.WithLogger(context.Background(), logging.NewNop())
}

func formatLine(row []float64) string {
	var b strings.Builder
	for s := 0; s < sgio.Sensors; s++ {
		if s > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, "Sensor %d - X: %.6f Y: %.6f", s+1, row[2*s], row[2*s+1])
	}
	return b.String()
}

func writeLog(t *testing.T, dir, name string, rows [][]float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# recording", name)
	for _, row := range rows {
		fmt.Fprintln(w, formatLine(row))
	}
	require.NoError(t, w.Flush())
	return path
}

// noiseRows returns readings scattered around the origin on every sensor.
func noiseRows(rng *rand.Rand, n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, sgio.Columns)
		for j := range rows[i] {
			rows[i][j] = noise * rng.NormFloat64()
		}
	}
	return rows
}

type recordings struct {
	train      []string
	test       string
	testLen    int
	anomalyAt  int
	offsetUnit float64
}

// writeRecordings writes two healthy training recordings and a test
// recording whose sensor 1 sits at the origin and then holds a sustained
// offset over the last fifth.
func writeRecordings(t *testing.T) recordings {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(11))

	rec := recordings{testLen: 200, offsetUnit: 5}
	rec.anomalyAt = rec.testLen - rec.testLen/5
	rec.train = []string{
		writeLog(t, dir, "healthy_1.txt", noiseRows(rng, 150)),
		writeLog(t, dir, "healthy_2.txt", noiseRows(rng, 150)),
	}

	test := noiseRows(rng, rec.testLen)
	for i, row := range test {
		if i < rec.anomalyAt {
			row[0], row[1] = 0, 0
		} else {
			row[0] = rec.offsetUnit + noise*rng.NormFloat64()
			row[1] = rec.offsetUnit + noise*rng.NormFloat64()
		}
	}
	rec.test = writeLog(t, dir, "misaligned.txt", test)
	return rec
}

func TestRunFlagsSustainedOffset(t *testing.T) {
	rec := writeRecordings(t)
	cfg := testConfig(t)

	p, err := New(cfg, WithHyperparams(smallHyperparams()), WithRunID("run-test"))
	require.NoError(t, err)
	defer p.Close()

	summary, err := p.Run(testContext(), Inputs{Test: rec.test, Train: rec.train})
	require.NoError(t, err)
	require.Len(t, summary.Sensors, sgio.Sensors)
	assert.Equal(t, "run-test", summary.RunID)

	flags := readFlags(t, filepath.Join(cfg.OutDir, ResultsFile), "Sensor 1")
	require.Len(t, flags, rec.testLen)
	for i := rec.anomalyAt; i < rec.testLen; i++ {
		assert.True(t, flags[i], "sample %d in the offset region", i)
	}
	for i := 0; i < rec.anomalyAt; i++ {
		assert.False(t, flags[i], "sample %d before the offset", i)
	}

	sensor, ok := summary.Sensor("Sensor 1")
	require.True(t, ok)
	assert.False(t, sensor.Loaded)
	assert.Equal(t, rec.testLen-rec.anomalyAt, sensor.Anomalies)
	assert.InDelta(t, 0.2, sensor.Metrics.AnomalyRate, 1e-12)
	assert.Positive(t, sensor.Metrics.RiskLevel)
	assert.Positive(t, sensor.Metrics.Trend)
	assert.Positive(t, sensor.Metrics.Silhouette)

	require.NotNil(t, summary.Correlation)
	assert.Len(t, summary.Averages, sgio.Sensors)

	for _, name := range []string{SummaryFile, MetricsFile, ResultsFile} {
		assert.FileExists(t, filepath.Join(cfg.OutDir, name))
	}
	written, err := report.ReadJSON(filepath.Join(cfg.OutDir, SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, summary.Sensors, written.Sensors)
}

func TestRunReusesStoredModels(t *testing.T) {
	rec := writeRecordings(t)
	cfg := testConfig(t)

	first, err := New(cfg, WithHyperparams(smallHyperparams()))
	require.NoError(t, err)
	want, err := first.Run(testContext(), Inputs{Test: rec.test, Train: rec.train})
	require.NoError(t, err)

	for _, name := range sgio.SensorNames() {
		assert.FileExists(t, filepath.Join(cfg.ModelDir, store.Key(name)+store.FileSuffix))
	}

	second, err := New(cfg, WithHyperparams(smallHyperparams()))
	require.NoError(t, err)
	got, err := second.Run(testContext(), Inputs{Test: rec.test, Train: rec.train})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID(), second.RunID())

	for i, sensor := range got.Sensors {
		assert.True(t, sensor.Loaded, sensor.Name)
		assert.Equal(t, want.Sensors[i].Threshold, sensor.Threshold, sensor.Name)
		assert.Equal(t, want.Sensors[i].Metrics, sensor.Metrics, sensor.Name)
	}
}

func TestRunWithTuningAndBolt(t *testing.T) {
	rec := writeRecordings(t)
	cfg := testConfig(t)
	cfg.Tune = true
	cfg.TuneWorkers = 2
	cfg.Store = config.StoreBolt
	cfg.BoltPath = filepath.Join(t.TempDir(), "models.db")

	grid := tuning.Grid{
		Widths:        []int{8, 12},
		Dropouts:      []float64{0.1},
		LearningRates: []float64{5e-3},
		Epochs:        []int{10},
	}
	p, err := New(cfg, WithHyperparams(smallHyperparams()), WithGrid(grid))
	require.NoError(t, err)

	summary, err := p.Run(testContext(), Inputs{Test: rec.test, Train: rec.train})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	for _, sensor := range summary.Sensors {
		require.NotNil(t, sensor.Tuning, sensor.Name)
		assert.Len(t, sensor.Tuning.Results, 2)
		best := sensor.Tuning.BestResult().Candidate
		assert.Equal(t, best.Width, sensor.Hyperparams.Width)
		assert.Equal(t, 10, sensor.Hyperparams.Epochs)
		assert.Equal(t, smallHyperparams().BatchSize, sensor.Hyperparams.BatchSize)
	}

	b, err := store.OpenBolt(cfg.BoltPath)
	require.NoError(t, err)
	defer b.Close()
	keys, err := b.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, sgio.Sensors)
}

func TestRunWritesLoadableBundles(t *testing.T) {
	rec := writeRecordings(t)
	cfg := testConfig(t)
	cfg.Store = config.StoreNone

	p, err := New(cfg, WithHyperparams(smallHyperparams()))
	require.NoError(t, err)
	summary, err := p.Run(testContext(), Inputs{Test: rec.test, Train: rec.train})
	require.NoError(t, err)

	blob, err := os.ReadFile(p.BundlePath("Sensor 1"))
	require.NoError(t, err)

	det := autoencoder.New("")
	require.NoError(t, det.Load(blob))
	assert.Equal(t, "Sensor 1", det.Name())
	assert.Equal(t, summary.Sensors[0].Threshold, det.Threshold())

	score, err := det.PredictOne([]float64{rec.offsetUnit, rec.offsetUnit})
	require.NoError(t, err)
	assert.Greater(t, score, det.Threshold())
}

func TestRunReadsCSV(t *testing.T) {
	rec := writeRecordings(t)
	cfg := testConfig(t)

	rows, err := p0(t).readAll(rec.test)
	require.NoError(t, err)

	csvPath := filepath.Join(t.TempDir(), "misaligned.csv")
	var b strings.Builder
	b.WriteString(strings.Join(sgio.ColumnNames(), ",") + "\n")
	for _, row := range rows {
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = fmt.Sprintf("%g", v)
		}
		b.WriteString(strings.Join(fields, ",") + "\n")
	}
	require.NoError(t, os.WriteFile(csvPath, []byte(b.String()), 0o644))

	p, err := New(cfg, WithHyperparams(smallHyperparams()))
	require.NoError(t, err)
	summary, err := p.Run(testContext(), Inputs{Test: csvPath, Train: rec.train})
	require.NoError(t, err)
	assert.Equal(t, rec.testLen, summary.Sensors[0].Samples)
}

func TestRunErrors(t *testing.T) {
	rec := writeRecordings(t)
	dir := t.TempDir()
	empty := writeLog(t, dir, "empty.txt", nil)

	tests := []struct {
		name  string
		in    Inputs
		check func(t *testing.T, err error)
	}{
		{
			name:  "missing test recording",
			in:    Inputs{Train: rec.train},
			check: func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name:  "no training recordings",
			in:    Inputs{Test: rec.test},
			check: func(t *testing.T, err error) { assert.Error(t, err) },
		},
		{
			name: "unreadable file",
			in:   Inputs{Test: filepath.Join(dir, "missing.txt"), Train: rec.train},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, os.ErrNotExist)
			},
		},
		{
			name: "recording without readings",
			in:   Inputs{Test: rec.test, Train: []string{empty}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, detectors.ErrInsufficientData)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(testConfig(t), WithHyperparams(smallHyperparams()))
			require.NoError(t, err)
			_, err = p.Run(testContext(), tt.in)
			tt.check(t, err)
		})
	}
}

func TestOpenSelectsReaderByExtension(t *testing.T) {
	p := p0(t)
	var opened []string
	custom := func(path string) (sgio.Reader, error) {
		opened = append(opened, path)
		return nil, fmt.Errorf("not implemented")
	}
	WithReader(".bin", custom)(p)

	_, err := p.Open("recording.BIN")
	assert.Error(t, err)
	assert.Equal(t, []string{"recording.BIN"}, opened)
}

func p0(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(testConfig(t))
	require.NoError(t, err)
	return p
}

func readFlags(t *testing.T, path, sensor string) []bool {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var flags []bool
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r sgio.Result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		if r.Sensor == sensor {
			require.Equal(t, len(flags), r.Index)
			flags = append(flags, r.IsAnomaly)
		}
	}
	require.NoError(t, scanner.Err())
	return flags
}
