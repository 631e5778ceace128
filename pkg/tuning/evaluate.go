package tuning

import (
	"context"
	"errors"
	"fmt"

	"github.com/hed1ad/sensorguard/pkg/detectors"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	"github.com/hed1ad/sensorguard/pkg/preprocess"
	"github.com/hed1ad/sensorguard/pkg/stats"
)

// HoldoutFraction is the trailing share of the training set held out per candidate.
const HoldoutFraction = 0.2

// AutoencoderEvaluator scores candidates on normalized training data.
// Each candidate trains a fresh model on the head of the data with early
// stopping on the holdout tail, flags holdout samples above the percentile of
// the holdout's own errors and is scored by the silhouette of that split.
// Errors are measured in original units through scaler.
func AutoencoderEvaluator(normalized [][]float64, scaler preprocess.StandardScaler, seed int64, percentile float64) EvaluateFunc {
	tuneTrain, holdout := autoencoder.SplitTail(normalized, HoldoutFraction)

	return func(ctx context.Context, c Candidate) (Score, error) {
		if len(tuneTrain) == 0 || len(holdout) == 0 {
			return Score{}, fmt.Errorf("%d samples cannot be split for tuning: %w", len(normalized), detectors.ErrInsufficientData)
		}

		m, err := autoencoder.Build(len(tuneTrain[0]), c.Hyperparams(), seed)
		if err != nil {
			return Score{}, err
		}
		history, err := m.Fit(ctx, tuneTrain, holdout)
		if err != nil {
			return Score{}, err
		}

		holdoutErrors, err := originalErrors(m, scaler, holdout)
		if err != nil {
			return Score{}, err
		}
		trainErrors, err := originalErrors(m, scaler, tuneTrain)
		if err != nil {
			return Score{}, err
		}

		threshold := stats.Percentile(holdoutErrors, percentile)
		reference := stats.Percentile(trainErrors, percentile)

		flags := make([]bool, len(holdoutErrors))
		var flagged, agree int
		for i, e := range holdoutErrors {
			flags[i] = e > threshold
			if flags[i] {
				flagged++
			}
			if flags[i] == (e > reference) {
				agree++
			}
		}

		return Score{
			Silhouette:  stats.SilhouetteOrDegenerate(holdoutErrors, flags),
			AnomalyRate: float64(flagged) / float64(len(flags)),
			Threshold:   threshold,
			Agreement:   float64(agree) / float64(len(flags)),
			ValLoss:     history.BestValLoss(),
		}, nil
	}
}

// originalErrors reconstructs normalized samples and returns the per-sample
// mean squared error after mapping both sides back to original units.
func originalErrors(m *autoencoder.Model, scaler preprocess.StandardScaler, normalized [][]float64) ([]float64, error) {
	recon, err := m.Reconstruct(normalized)
	if err != nil {
		return nil, err
	}
	original, err := scaler.InverseTransform(normalized)
	if err != nil {
		return nil, err
	}
	restored, err := scaler.InverseTransform(recon)
	if err != nil {
		return nil, err
	}
	if len(original) != len(restored) {
		return nil, errors.New("reconstruction length mismatch")
	}

	out := make([]float64, len(original))
	for i, row := range original {
		var sum float64
		for j, v := range row {
			d := v - restored[i][j]
			sum += d * d
		}
		out[i] = sum / float64(len(row))
	}
	return out, nil
}
