package tuning

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/sensorguard/internal/logging"
)

// ErrNoCandidates is returned by Search for an empty candidate list.
var ErrNoCandidates = errors.New("no candidates to search")

// Score is the outcome of evaluating one candidate.
type Score struct {
	// Silhouette of the holdout anomaly split, -1 when degenerate.
	Silhouette float64 `json:"silhouette"`
	// AnomalyRate is the fraction of holdout samples flagged.
	AnomalyRate float64 `json:"anomaly_rate"`
	// Threshold is the holdout error percentile used for flagging.
	Threshold float64 `json:"threshold"`
	// Agreement is the fraction of holdout flags that match flags derived
	// from the tuning-train error distribution.
	Agreement float64 `json:"agreement"`
	// ValLoss is the best validation loss reached while training.
	ValLoss float64 `json:"val_loss"`
}

// EvaluateFunc scores a single candidate. It must not depend on other
// candidates so evaluations can run in any order.
type EvaluateFunc func(ctx context.Context, c Candidate) (Score, error)

// Result pairs a candidate with its score.
type Result struct {
	Candidate Candidate `json:"candidate"`
	Score     Score     `json:"score"`
}

// Outcome is the full search result.
type Outcome struct {
	// Results are in candidate order.
	Results []Result `json:"results"`
	// Best indexes Results.
	Best int `json:"best"`
}

// BestResult returns the selected result.
func (o *Outcome) BestResult() Result {
	return o.Results[o.Best]
}

// Search evaluates every candidate with up to workers concurrent
// evaluations and selects the highest silhouette. workers <= 0 uses
// GOMAXPROCS. The first error cancels the remaining evaluations.
func Search(ctx context.Context, candidates []Candidate, evaluate EvaluateFunc, workers int) (*Outcome, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	logger := logging.FromContext(ctx)
	results := make([]Result, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			score, err := evaluate(gctx, c)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", c, err)
			}
			// each goroutine owns its slot, so results keep grid order
			results[i] = Result{Candidate: c, Score: score}
			logger.Debugw("candidate evaluated", "index", i, "candidate", c.String(), "silhouette", score.Silhouette)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score.Silhouette
	}
	return &Outcome{Results: results, Best: SelectBest(scores)}, nil
}

// SelectBest returns the index of the highest score. Ties keep the earliest
// index because only a strictly greater score replaces the current best.
func SelectBest(scores []float64) int {
	best := -1
	for i, s := range scores {
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}
