// Package pipeline runs anomaly detection over the four sensors of a
// recording: it trains or loads one detector per sensor, scores the test
// recording, correlates the sensors' error signals and writes the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/sensorguard/internal/config"
	"github.com/hed1ad/sensorguard/internal/logging"
	"github.com/hed1ad/sensorguard/pkg/awareness"
	"github.com/hed1ad/sensorguard/pkg/correlation"
	"github.com/hed1ad/sensorguard/pkg/detectors"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/io/jsonl"
	"github.com/hed1ad/sensorguard/pkg/plot"
	"github.com/hed1ad/sensorguard/pkg/report"
	"github.com/hed1ad/sensorguard/pkg/store"
	"github.com/hed1ad/sensorguard/pkg/tuning"
)

// Output file names inside the output directory.
const (
	SummaryFile     = "summary.json"
	MetricsFile     = "metrics.prom"
	ResultsFile     = "results.jsonl"
	CorrelationFile = "correlation.png"
	BundleSuffix    = "_detector.gob"
)

// Inputs names the recordings of a run. Training recordings are
// concatenated in order.
type Inputs struct {
	Test  string
	Train []string
}

// Pipeline runs detection with a fixed configuration.
type Pipeline struct {
	cfg     *config.Config
	store   store.ModelStore
	closer  io.Closer
	grid    tuning.Grid
	hp      autoencoder.Hyperparams
	readers map[string]OpenFunc
	runID   string
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore replaces the model store selected by the configuration.
func WithStore(s store.ModelStore) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// WithGrid sets the tuning grid.
func WithGrid(g tuning.Grid) Option {
	return func(p *Pipeline) {
		p.grid = g
	}
}

// WithHyperparams sets the hyperparameters used without tuning.
func WithHyperparams(hp autoencoder.Hyperparams) Option {
	return func(p *Pipeline) {
		p.hp = hp
	}
}

// WithReader registers a reader for a file extension such as ".log".
func WithReader(ext string, open OpenFunc) Option {
	return func(p *Pipeline) {
		p.readers[ext] = open
	}
}

// WithRunID sets the run identifier instead of a random one.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		p.runID = id
	}
}

// New creates a Pipeline. Options override what cfg selects.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	p := &Pipeline{
		cfg:     cfg,
		hp:      cfg.Hyperparams(),
		readers: defaultReaders(),
		runID:   uuid.NewString(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.grid.Widths == nil {
		grid := tuning.DefaultGrid()
		if cfg.GridFile != "" {
			var err error
			if grid, err = tuning.LoadGrid(cfg.GridFile); err != nil {
				return nil, err
			}
		}
		p.grid = grid
	}

	if p.store == nil {
		s, closer, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		p.store, p.closer = s, closer
	}

	return p, nil
}

func openStore(cfg *config.Config) (store.ModelStore, io.Closer, error) {
	switch cfg.Store {
	case config.StoreBolt:
		b, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.StoreNone:
		return store.Nop{}, nil, nil
	default:
		d, err := store.NewDir(cfg.ModelDir)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	}
}

// RunID returns the identifier attached to logs and the summary.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Close releases the model store.
func (p *Pipeline) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}

// Run trains or loads a detector per sensor, evaluates the test recording
// and writes the summary, metrics, per-sample results, detector bundles and
// optional figures to the output directory.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*report.Summary, error) {
	logger := logging.FromContext(ctx).With("run_id", p.runID)
	ctx = logging.WithLogger(ctx, logger)

	if in.Test == "" || len(in.Train) == 0 {
		return nil, errors.New("a test recording and at least one training recording are required")
	}

	summary := &report.Summary{RunID: p.runID, StartedAt: p.now().UTC()}

	testRows, err := p.readAll(in.Test)
	if err != nil {
		return nil, err
	}
	trainRows, err := p.readAll(in.Train...)
	if err != nil {
		return nil, err
	}
	logger.Infow("recordings loaded", "test_samples", len(testRows), "train_samples", len(trainRows))
	if len(testRows) < 2 || len(trainRows) == 0 {
		return nil, fmt.Errorf("%d test and %d training readings: %w", len(testRows), len(trainRows), detectors.ErrInsufficientData)
	}

	testSeries, err := sgio.Split(testRows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Test, err)
	}
	trainSeries, err := sgio.Split(trainRows)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.cfg.OutDir, 0o755); err != nil {
		return nil, err
	}
	results, err := jsonl.Create(filepath.Join(p.cfg.OutDir, ResultsFile))
	if err != nil {
		return nil, err
	}
	defer results.Close()

	names := sgio.SensorNames()
	errorSeries := make([][]float64, len(names))
	metrics := make(map[string]awareness.Metrics, len(names))

	for i, name := range names {
		sensor, eval, err := p.runSensor(ctx, name, trainSeries[i], testSeries[i], results)
		if err != nil {
			return nil, err
		}
		summary.Sensors = append(summary.Sensors, sensor)
		errorSeries[i] = eval.TestErrors
		metrics[name] = sensor.Metrics
	}

	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("write results: %w", err)
	}

	matrix, err := correlation.Build(names, errorSeries)
	if err != nil {
		return nil, err
	}
	summary.Correlation = matrix
	summary.Averages = matrix.AverageCorrelations()
	summary.Malfunction = matrix.Malfunction(p.cfg.MalfunctionMargin)
	if a := summary.Malfunction; a != nil {
		logger.Warnw("possible sensor malfunction", "sensor", a.Sensor, "average_correlation", a.Average, "gap", a.Gap)
	} else {
		logger.Infow("no sensor malfunction detected", "average_correlations", summary.Averages)
	}

	summary.Findings = awareness.Assess(metrics)
	for _, f := range summary.Findings {
		logger.Infow("notable sensor", "sensor", f.Sensor, "reasons", f.Reasons, "detail", f.Message)
	}

	if p.cfg.Plots {
		path := filepath.Join(p.cfg.OutDir, CorrelationFile)
		if err := plot.CorrelationHeatmap(path, matrix); err != nil {
			logger.Warnw("correlation figure failed", "error", err)
		}
	}

	summary.FinishedAt = p.now().UTC()
	if err := report.WriteJSON(filepath.Join(p.cfg.OutDir, SummaryFile), summary); err != nil {
		return nil, err
	}
	if err := report.WritePrometheus(filepath.Join(p.cfg.OutDir, MetricsFile), summary); err != nil {
		return nil, fmt.Errorf("write metrics: %w", err)
	}

	logger.Infow("run finished", "out_dir", p.cfg.OutDir, "duration", summary.FinishedAt.Sub(summary.StartedAt))
	return summary, nil
}
