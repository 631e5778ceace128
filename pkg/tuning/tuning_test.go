package tuning

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/sensorguard/pkg/detectors"
	"github.com/hed1ad/sensorguard/pkg/preprocess"
)

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   int
	}{
		{name: "first of tied maxima", scores: []float64{0.3, 0.9, 0.9, -1.0}, want: 1},
		{name: "single", scores: []float64{-1}, want: 0},
		{name: "all degenerate", scores: []float64{-1, -1, -1}, want: 0},
		{name: "degenerate never beats a real split", scores: []float64{-1, -0.2, -1}, want: 1},
		{name: "last", scores: []float64{0.1, 0.2, 0.95}, want: 2},
		{name: "empty", scores: nil, want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectBest(tt.scores))
		})
	}
}

func TestSearchKeepsGridOrderUnderConcurrency(t *testing.T) {
	scores := []float64{0.3, 0.9, 0.9, -1.0}
	candidates := make([]Candidate, len(scores))
	for i := range candidates {
		candidates[i] = Candidate{Width: 4 * (i + 1), Dropout: 0.1, LearningRate: 1e-3, Epochs: 1}
	}

	evaluate := func(_ context.Context, c Candidate) (Score, error) {
		return Score{Silhouette: scores[c.Width/4-1]}, nil
	}

	for _, workers := range []int{0, 1, 4} {
		outcome, err := Search(context.Background(), candidates, evaluate, workers)
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.Best)
		assert.Equal(t, candidates[1], outcome.BestResult().Candidate)
		for i, r := range outcome.Results {
			assert.Equal(t, candidates[i], r.Candidate)
			assert.Equal(t, scores[i], r.Score.Silhouette)
		}
	}
}

func TestSearchErrors(t *testing.T) {
	_, err := Search(context.Background(), nil, nil, 1)
	assert.ErrorIs(t, err, ErrNoCandidates)

	boom := errors.New("boom")
	var calls atomic.Int32
	_, err = Search(context.Background(), DefaultGrid().Candidates(), func(context.Context, Candidate) (Score, error) {
		calls.Add(1)
		return Score{}, boom
	}, 1)
	assert.ErrorIs(t, err, boom)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestGridCandidates(t *testing.T) {
	g := Grid{
		Widths:        []int{8, 16},
		Dropouts:      []float64{0.1},
		LearningRates: []float64{1e-3, 1e-4},
		Epochs:        []int{5},
	}

	got := g.Candidates()
	want := []Candidate{
		{Width: 8, Dropout: 0.1, LearningRate: 1e-3, Epochs: 5},
		{Width: 8, Dropout: 0.1, LearningRate: 1e-4, Epochs: 5},
		{Width: 16, Dropout: 0.1, LearningRate: 1e-3, Epochs: 5},
		{Width: 16, Dropout: 0.1, LearningRate: 1e-4, Epochs: 5},
	}
	assert.Equal(t, want, got)
	assert.Len(t, DefaultGrid().Candidates(), 8)
}

func TestCandidateHyperparams(t *testing.T) {
	hp := Candidate{Width: 32, Dropout: 0.1, LearningRate: 1e-3, Epochs: 50}.Hyperparams()
	assert.Equal(t, 32, hp.Width)
	assert.Equal(t, 0.1, hp.Dropout)
	assert.Equal(t, 1e-3, hp.LearningRate)
	assert.Equal(t, 50, hp.Epochs)
	assert.Equal(t, TuningPatience, hp.Patience)
	assert.NoError(t, hp.Validate())
}

func TestLoadGrid(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "grid.toml")
	require.NoError(t, os.WriteFile(valid, []byte("widths = [8, 12]\nlearning_rates = [0.01]\n"), 0o644))

	g, err := LoadGrid(valid)
	require.NoError(t, err)
	assert.Equal(t, []int{8, 12}, g.Widths)
	assert.Equal(t, []float64{0.01}, g.LearningRates)
	assert.Equal(t, DefaultGrid().Dropouts, g.Dropouts)

	invalid := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("widths = [10]\n"), 0o644))
	_, err = LoadGrid(invalid)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte("epochs = []\n"), 0o644))
	_, err = LoadGrid(empty)
	assert.Error(t, err)

	_, err = LoadGrid(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestAutoencoderEvaluator(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	raw := make([][]float64, 250)
	for i := range raw {
		x := rng.NormFloat64()
		raw[i] = []float64{x, 0.5*x + 0.2*rng.NormFloat64()}
	}

	var scaler preprocess.StandardScaler
	normalized, err := scaler.FitTransform(raw)
	require.NoError(t, err)

	evaluate := AutoencoderEvaluator(normalized, scaler, 42, 95)
	candidates := []Candidate{
		{Width: 8, Dropout: 0.1, LearningRate: 5e-3, Epochs: 15},
		{Width: 16, Dropout: 0.2, LearningRate: 5e-3, Epochs: 15},
	}

	outcome, err := Search(context.Background(), candidates, evaluate, 2)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)

	for _, r := range outcome.Results {
		s := r.Score
		assert.GreaterOrEqual(t, s.Silhouette, -1.0)
		assert.LessOrEqual(t, s.Silhouette, 1.0)
		// 50 holdout samples above their own 95th percentile
		assert.InDelta(t, 0.06, s.AnomalyRate, 0.021)
		assert.GreaterOrEqual(t, s.Agreement, 0.0)
		assert.LessOrEqual(t, s.Agreement, 1.0)
		assert.Greater(t, s.Threshold, 0.0)
	}

	// evaluation is deterministic per candidate regardless of scheduling
	again, err := evaluate(context.Background(), candidates[0])
	require.NoError(t, err)
	assert.Equal(t, outcome.Results[0].Score, again)
}

func TestAutoencoderEvaluatorDegenerate(t *testing.T) {
	// constant data reconstructs perfectly flat errors: a single cluster
	raw := make([][]float64, 50)
	for i := range raw {
		raw[i] = []float64{1, 1}
	}
	var scaler preprocess.StandardScaler
	normalized, err := scaler.FitTransform(raw)
	require.NoError(t, err)

	score, err := AutoencoderEvaluator(normalized, scaler, 1, 95)(context.Background(),
		Candidate{Width: 8, Dropout: 0, LearningRate: 1e-3, Epochs: 2})
	require.NoError(t, err)
	assert.Equal(t, -1.0, score.Silhouette)
	assert.Zero(t, score.AnomalyRate)
}

func TestAutoencoderEvaluatorInsufficientData(t *testing.T) {
	_, err := AutoencoderEvaluator([][]float64{{0, 0}}, preprocess.StandardScaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}}, 1, 95)(
		context.Background(), Candidate{Width: 8, Dropout: 0.1, LearningRate: 1e-3, Epochs: 1})
	assert.ErrorIs(t, err, detectors.ErrInsufficientData)
}
