package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hed1ad/sensorguard/internal/logging"
	"github.com/hed1ad/sensorguard/pkg/awareness"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/plot"
	"github.com/hed1ad/sensorguard/pkg/report"
	"github.com/hed1ad/sensorguard/pkg/store"
	"github.com/hed1ad/sensorguard/pkg/tuning"
)

// runSensor takes one sensor from raw series to evaluated detector and
// writes its per-sample results, bundle and figures.
func (p *Pipeline) runSensor(ctx context.Context, name string, train, test [][]float64, results sgio.Writer) (report.Sensor, *autoencoder.Evaluation, error) {
	logger := logging.FromContext(ctx).With("sensor", name)
	ctx = logging.WithLogger(ctx, logger)

	det := autoencoder.New(name,
		autoencoder.WithHyperparams(p.hp),
		autoencoder.WithSeed(p.cfg.Seed),
		autoencoder.WithStore(p.store),
		autoencoder.WithPercentile(p.cfg.Percentile),
	)
	if err := det.Normalize(train, test); err != nil {
		return report.Sensor{}, nil, err
	}

	outcome, err := p.train(ctx, det)
	if err != nil {
		return report.Sensor{}, nil, err
	}

	eval, err := det.Evaluate()
	if err != nil {
		return report.Sensor{}, nil, err
	}
	metrics := awareness.Compute(eval.TestErrors, eval.Anomalies, eval.Threshold)

	sensor := report.Sensor{
		Name:        name,
		Hyperparams: det.Hyperparams(),
		Loaded:      det.History() == nil,
		Threshold:   eval.Threshold,
		Samples:     len(eval.TestErrors),
		Metrics:     metrics,
		Tuning:      outcome,
	}
	for _, a := range eval.Anomalies {
		if a {
			sensor.Anomalies++
		}
	}
	if h := det.History(); h != nil {
		sensor.BestEpoch = h.BestEpoch
		sensor.Epochs = len(h.Loss)
	}

	logger.Infow("sensor evaluated",
		"threshold", eval.Threshold,
		"anomalies", sensor.Anomalies,
		"anomaly_rate", metrics.AnomalyRate,
		"error_mean", metrics.ErrorMean,
		"error_std", metrics.ErrorStd,
		"risk_level", metrics.RiskLevel,
		"trend", metrics.Trend,
		"silhouette", metrics.Silhouette,
	)

	if err := writeResults(results, name, test, eval); err != nil {
		return report.Sensor{}, nil, fmt.Errorf("sensor %s: write results: %w", name, err)
	}
	if err := p.writeBundle(det); err != nil {
		return report.Sensor{}, nil, err
	}
	if p.cfg.Plots {
		p.plotSensor(ctx, det, test, eval)
	}

	return sensor, eval, nil
}

// train tunes when configured and no stored model exists, then trains or
// loads the detector's model.
func (p *Pipeline) train(ctx context.Context, det *autoencoder.Detector) (*tuning.Outcome, error) {
	logger := logging.FromContext(ctx)

	if !p.cfg.Tune {
		return nil, det.Train(ctx)
	}

	_, stored, err := p.store.Load(store.Key(det.Name()))
	if err != nil {
		return nil, fmt.Errorf("sensor %s: load model: %w", det.Name(), err)
	}
	if stored {
		logger.Infow("stored model found, skipping tuning")
		return nil, det.Train(ctx)
	}

	candidates := p.grid.Candidates()
	logger.Infow("tuning", "candidates", len(candidates), "workers", p.cfg.TuneWorkers)

	evaluate := tuning.AutoencoderEvaluator(det.NormalizedTrain(), det.Scaler(), p.cfg.Seed, p.cfg.Percentile)
	outcome, err := tuning.Search(ctx, candidates, evaluate, p.cfg.TuneWorkers)
	if err != nil {
		return nil, fmt.Errorf("sensor %s: tune: %w", det.Name(), err)
	}

	best := outcome.BestResult()
	logger.Infow("tuning finished",
		"best", best.Candidate.String(),
		"silhouette", best.Score.Silhouette,
		"agreement", best.Score.Agreement)

	hp := p.hp
	hp.Width = best.Candidate.Width
	hp.Dropout = best.Candidate.Dropout
	hp.LearningRate = best.Candidate.LearningRate
	hp.Epochs = best.Candidate.Epochs
	return outcome, det.TrainWith(ctx, hp)
}

func writeResults(w sgio.Writer, name string, test [][]float64, eval *autoencoder.Evaluation) error {
	out := make([]sgio.Result, len(eval.TestErrors))
	for i, e := range eval.TestErrors {
		out[i] = sgio.Result{
			Sensor:    name,
			Index:     i,
			Score:     e,
			Threshold: eval.Threshold,
			IsAnomaly: eval.Anomalies[i],
			Features:  test[i],
			Metadata: map[string]any{
				"reconstruction": eval.Reconstruction[i],
			},
		}
	}
	return w.WriteAll(out)
}

// BundlePath returns where the detector bundle of a sensor is written.
func (p *Pipeline) BundlePath(sensor string) string {
	return filepath.Join(p.cfg.OutDir, store.Key(sensor)+BundleSuffix)
}

func (p *Pipeline) writeBundle(det *autoencoder.Detector) error {
	blob, err := det.Save()
	if err != nil {
		return fmt.Errorf("sensor %s: bundle: %w", det.Name(), err)
	}
	if err := os.WriteFile(p.BundlePath(det.Name()), blob, 0o644); err != nil {
		return fmt.Errorf("sensor %s: write bundle: %w", det.Name(), err)
	}
	return nil
}

// plotSensor renders the per-sensor figures. Failures are logged and do
// not abort the run.
func (p *Pipeline) plotSensor(ctx context.Context, det *autoencoder.Detector, test [][]float64, eval *autoencoder.Evaluation) {
	logger := logging.FromContext(ctx)
	name := det.Name()
	path := func(kind string) string {
		return filepath.Join(p.cfg.OutDir, plot.FileName(name, kind))
	}

	if h := det.History(); h != nil {
		if err := plot.History(path("history"), name, h); err != nil {
			logger.Warnw("history figure failed", "error", err)
		}
	}

	latent, err := det.LatentTest()
	if err == nil {
		err = plot.Latent(path("latent"), name, latent, eval.Anomalies)
	}
	if err != nil {
		logger.Warnw("latent figure failed", "error", err)
	}

	if err := plot.Results(path("results"), name, test, eval.TestErrors, eval.Threshold, eval.Anomalies); err != nil {
		logger.Warnw("results figure failed", "error", err)
	}
	if err := plot.AxisErrors(path("axis_errors"), name, eval.AxisErrors); err != nil {
		logger.Warnw("axis error figure failed", "error", err)
	}
}
