package autoencoder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hed1ad/sensorguard/internal/logging"
	"github.com/hed1ad/sensorguard/pkg/detectors"
	"github.com/hed1ad/sensorguard/pkg/preprocess"
	"github.com/hed1ad/sensorguard/pkg/stats"
	"github.com/hed1ad/sensorguard/pkg/store"
)

var _ detectors.StreamDetector = (*Detector)(nil)

// ErrInvalidState is returned when a lifecycle step is called out of order.
var ErrInvalidState = errors.New("invalid detector state")

// State is a step of the detector lifecycle.
type State int

// Lifecycle: Uninitialized -> Normalized -> Trained or Loaded -> Evaluated.
const (
	StateUninitialized State = iota
	StateNormalized
	StateTrained
	StateLoaded
	StateEvaluated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNormalized:
		return "normalized"
	case StateTrained:
		return "trained"
	case StateLoaded:
		return "loaded"
	case StateEvaluated:
		return "evaluated"
	default:
		return "unknown"
	}
}

// Evaluation is the outcome of scoring the training and test sets.
type Evaluation struct {
	// TrainErrors and TestErrors are per-sample reconstruction errors in
	// original units.
	TrainErrors []float64
	TestErrors  []float64
	// AxisErrors holds the squared error of each test sample per feature.
	AxisErrors [][]float64
	// Reconstruction is the test set reconstruction in original units.
	Reconstruction [][]float64
	// Threshold is the percentile of TrainErrors.
	Threshold float64
	// Anomalies flags test samples whose error exceeds Threshold.
	Anomalies []bool
}

// Detector owns normalization, training, reconstruction and thresholding
// for one sensor.
type Detector struct {
	mu sync.RWMutex

	// Configuration
	name            string
	hp              Hyperparams
	seed            int64
	percentile      float64
	validationSplit float64
	store           store.ModelStore

	state   State
	scaler  preprocess.StandardScaler
	train   [][]float64
	test    [][]float64
	trainN  [][]float64
	testN   [][]float64
	model   *Model
	history *History

	threshold float64
	eval      *Evaluation
}

// Option configures a Detector.
type Option func(*Detector)

// WithHyperparams sets the hyperparameters used by Train.
func WithHyperparams(hp Hyperparams) Option {
	return func(d *Detector) {
		d.hp = hp
	}
}

// WithSeed sets the random seed for weight initialisation, shuffling and dropout.
func WithSeed(seed int64) Option {
	return func(d *Detector) {
		d.seed = seed
	}
}

// WithStore sets the model store consulted before training.
func WithStore(s store.ModelStore) Option {
	return func(d *Detector) {
		d.store = s
	}
}

// WithPercentile sets the training error percentile used as threshold.
func WithPercentile(p float64) Option {
	return func(d *Detector) {
		d.percentile = p
	}
}

// WithValidationSplit sets the trailing fraction of the training set used
// for early stopping.
func WithValidationSplit(f float64) Option {
	return func(d *Detector) {
		d.validationSplit = f
	}
}

// New creates a Detector for the named sensor.
func New(name string, opts ...Option) *Detector {
	cfg := detectors.DefaultConfig()
	d := &Detector{
		name:            name,
		hp:              DefaultHyperparams(),
		seed:            cfg.RandomSeed,
		percentile:      cfg.ThresholdPercentile,
		validationSplit: 0.2,
		store:           store.Nop{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Name returns the sensor name.
func (d *Detector) Name() string {
	return d.name
}

// State returns the current lifecycle step.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Normalize fits the scaler on train only and applies it to train and test.
func (d *Detector) Normalize(train, test [][]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateUninitialized {
		return fmt.Errorf("normalize in state %s: %w", d.state, ErrInvalidState)
	}
	return d.normalize(train, test)
}

func (d *Detector) normalize(train, test [][]float64) error {
	if len(train) == 0 {
		return fmt.Errorf("sensor %s: no training samples: %w", d.name, detectors.ErrInsufficientData)
	}

	var scaler preprocess.StandardScaler
	trainN, err := scaler.FitTransform(train)
	if err != nil {
		return fmt.Errorf("sensor %s: fit scaler: %w", d.name, err)
	}
	testN, err := scaler.Transform(test)
	if err != nil {
		return fmt.Errorf("sensor %s: scale test data: %w", d.name, err)
	}

	d.scaler = scaler
	d.train, d.test = train, test
	d.trainN, d.testN = trainN, testN
	d.state = StateNormalized
	return nil
}

// Train trains with the configured hyperparameters, or loads the stored
// model for this sensor if one exists.
func (d *Detector) Train(ctx context.Context) error {
	return d.TrainWith(ctx, d.hp)
}

// TrainWith is Train with explicit hyperparameters.
func (d *Detector) TrainWith(ctx context.Context, hp Hyperparams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateNormalized {
		return fmt.Errorf("train in state %s: %w", d.state, ErrInvalidState)
	}
	return d.trainWith(ctx, hp)
}

func (d *Detector) trainWith(ctx context.Context, hp Hyperparams) error {
	logger := logging.FromContext(ctx).With("sensor", d.name)
	key := store.Key(d.name)
	inputDim := len(d.trainN[0])

	blob, ok, err := d.store.Load(key)
	if err != nil {
		return fmt.Errorf("sensor %s: load model: %w", d.name, err)
	}
	if ok {
		m, err := UnmarshalModel(blob)
		if err != nil {
			return fmt.Errorf("sensor %s: %w", d.name, err)
		}
		if m.InputDim() != inputDim {
			return fmt.Errorf("sensor %s: stored model has %d inputs, data has %d", d.name, m.InputDim(), inputDim)
		}
		logger.Infow("loaded stored model, skipping training", "key", key)
		d.model = m
		d.hp = m.Hyperparams()
		d.history = nil
		d.state = StateLoaded
		return nil
	}

	m, err := Build(inputDim, hp, d.seed)
	if err != nil {
		return fmt.Errorf("sensor %s: build model: %w", d.name, err)
	}

	fitData, valData := SplitTail(d.trainN, d.validationSplit)
	if len(fitData) == 0 {
		fitData, valData = d.trainN, nil
	}

	logger.Infow("training autoencoder",
		"samples", len(fitData), "validation", len(valData),
		"width", hp.Width, "dropout", hp.Dropout, "learning_rate", hp.LearningRate, "epochs", hp.Epochs)

	history, err := m.Fit(ctx, fitData, valData)
	if err != nil {
		return fmt.Errorf("sensor %s: train: %w", d.name, err)
	}
	logger.Infow("training finished",
		"epochs_run", len(history.Loss), "best_epoch", history.BestEpoch, "best_val_loss", history.BestValLoss())

	blob, err = m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("sensor %s: %w", d.name, err)
	}
	if err := d.store.Save(key, blob); err != nil {
		return fmt.Errorf("sensor %s: save model: %w", d.name, err)
	}

	d.model = m
	d.hp = hp
	d.history = history
	d.state = StateTrained
	return nil
}

// Evaluate reconstructs the training and test sets, computes errors in
// original units, derives the threshold from the training errors and flags
// test samples above it.
func (d *Detector) Evaluate() (*Evaluation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateTrained, StateLoaded, StateEvaluated:
	default:
		return nil, fmt.Errorf("evaluate in state %s: %w", d.state, ErrInvalidState)
	}
	if len(d.trainN) == 0 {
		return nil, fmt.Errorf("sensor %s: no training samples: %w", d.name, detectors.ErrInsufficientData)
	}

	trainErrors, _, _, err := d.reconstructionErrors(d.train, d.trainN)
	if err != nil {
		return nil, err
	}
	testErrors, axisErrors, recon, err := d.reconstructionErrors(d.test, d.testN)
	if err != nil {
		return nil, err
	}

	threshold := stats.Percentile(trainErrors, d.percentile)
	anomalies := make([]bool, len(testErrors))
	for i, e := range testErrors {
		anomalies[i] = e > threshold
	}

	d.threshold = threshold
	d.eval = &Evaluation{
		TrainErrors:    trainErrors,
		TestErrors:     testErrors,
		AxisErrors:     axisErrors,
		Reconstruction: recon,
		Threshold:      threshold,
		Anomalies:      anomalies,
	}
	d.state = StateEvaluated
	return d.eval, nil
}

// reconstructionErrors returns, per sample, the mean squared difference
// between original and the inverse-transformed reconstruction, the squared
// difference per feature, and the reconstruction itself.
func (d *Detector) reconstructionErrors(original, normalized [][]float64) ([]float64, [][]float64, [][]float64, error) {
	if len(original) == 0 {
		return nil, nil, nil, nil
	}

	reconN, err := d.model.Reconstruct(normalized)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sensor %s: reconstruct: %w", d.name, err)
	}
	recon, err := d.scaler.InverseTransform(reconN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sensor %s: inverse transform: %w", d.name, err)
	}

	errs := make([]float64, len(original))
	axis := make([][]float64, len(original))
	for i, row := range original {
		axis[i] = make([]float64, len(row))
		var sum float64
		for j, v := range row {
			diff := v - recon[i][j]
			axis[i][j] = diff * diff
			sum += axis[i][j]
		}
		errs[i] = sum / float64(len(row))
	}
	return errs, axis, recon, nil
}

// Evaluation returns the last evaluation, or nil.
func (d *Detector) Evaluation() *Evaluation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eval
}

// History returns the training history, or nil when the model was loaded.
func (d *Detector) History() *History {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.history
}

// Hyperparams returns the hyperparameters of the current model, or the
// configured ones before training.
func (d *Detector) Hyperparams() Hyperparams {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hp
}

// Scaler returns a copy of the fitted scaler.
func (d *Detector) Scaler() preprocess.StandardScaler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return preprocess.StandardScaler{
		Mean:  append([]float64(nil), d.scaler.Mean...),
		Scale: append([]float64(nil), d.scaler.Scale...),
	}
}

// NormalizedTrain returns the standardized training set.
func (d *Detector) NormalizedTrain() [][]float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trainN
}

// LatentTest returns the bottleneck activations of the test set.
func (d *Detector) LatentTest() ([][]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.model == nil {
		return nil, detectors.ErrNotTrained
	}
	return d.model.Encode(d.testN)
}

// Fit normalizes data, trains (or loads) the model and sets the threshold
// from the training errors. Any previous state is discarded.
func (d *Detector) Fit(data [][]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.state = StateUninitialized
	d.eval = nil
	if err := d.normalize(data, nil); err != nil {
		return err
	}
	if err := d.trainWith(context.Background(), d.hp); err != nil {
		return err
	}

	trainErrors, _, _, err := d.reconstructionErrors(d.train, d.trainN)
	if err != nil {
		return err
	}
	d.threshold = stats.Percentile(trainErrors, d.percentile)
	return nil
}

// Predict returns the reconstruction error of each sample in original units.
func (d *Detector) Predict(data [][]float64) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.model == nil {
		return nil, detectors.ErrNotTrained
	}
	return d.predict(data)
}

func (d *Detector) predict(data [][]float64) ([]float64, error) {
	normalized, err := d.scaler.Transform(data)
	if err != nil {
		return nil, err
	}
	errs, _, _, err := d.reconstructionErrors(data, normalized)
	return errs, err
}

// PredictOne returns the reconstruction error of a single sample.
func (d *Detector) PredictOne(sample []float64) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.model == nil {
		return 0, detectors.ErrNotTrained
	}
	errs, err := d.predict([][]float64{sample})
	if err != nil {
		return 0, err
	}
	return errs[0], nil
}

// Threshold returns the current anomaly threshold.
func (d *Detector) Threshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// PredictStream scores samples from input until it is closed or ctx is done.
// Samples that cannot be scored are logged and dropped; the "sample"
// metadata of each score is its 0-based position in input, dropped samples
// included.
func (d *Detector) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	d.mu.RLock()
	if d.model == nil {
		d.mu.RUnlock()
		return detectors.ErrNotTrained
	}
	threshold := d.threshold
	d.mu.RUnlock()

	logger := logging.FromContext(ctx)
	for seq := 0; ; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			score, err := d.PredictOne(sample)
			if err != nil {
				logger.Debugw("sample dropped", "sensor", d.name, "sample", seq, "error", err)
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     score,
				IsAnomaly: score > threshold,
				Features:  sample,
				Metadata:  map[string]any{"sensor": d.name, "sample": seq},
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Save serializes model, scaler and threshold into one bundle.
func (d *Detector) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.model == nil {
		return nil, detectors.ErrNotTrained
	}
	blob, err := d.model.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return encodeBundle(bundle{
		Version:    formatVersion,
		Name:       d.name,
		Percentile: d.percentile,
		Threshold:  d.threshold,
		Mean:       d.scaler.Mean,
		Scale:      d.scaler.Scale,
		Model:      blob,
	})
}

// Load restores a bundle written by Save. The detector can score new data
// afterwards but has no training set to evaluate.
func (d *Detector) Load(data []byte) error {
	b, err := decodeBundle(data)
	if err != nil {
		return err
	}
	m, err := UnmarshalModel(b.Model)
	if err != nil {
		return err
	}
	if m.InputDim() != len(b.Mean) {
		return fmt.Errorf("model has %d inputs, scaler has %d", m.InputDim(), len(b.Mean))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.name = b.Name
	d.percentile = b.Percentile
	d.threshold = b.Threshold
	d.scaler = preprocess.StandardScaler{Mean: b.Mean, Scale: b.Scale}
	d.model = m
	d.hp = m.Hyperparams()
	d.history = nil
	d.train, d.test, d.trainN, d.testN = nil, nil, nil, nil
	d.eval = nil
	d.state = StateLoaded
	return nil
}
