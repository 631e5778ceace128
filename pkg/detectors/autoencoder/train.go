package autoencoder

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hed1ad/sensorguard/internal/logging"
)

// History records the per-epoch losses of one training run.
type History struct {
	Loss    []float64 `json:"loss"`
	ValLoss []float64 `json:"val_loss"`
	// BestEpoch is the 0-based epoch whose weights the model holds.
	BestEpoch int `json:"best_epoch"`
	// StoppedEpoch is the 0-based epoch after which early stopping fired,
	// or -1 if training ran for all epochs.
	StoppedEpoch int `json:"stopped_epoch"`
}

// BestValLoss returns the monitored loss of the restored checkpoint.
func (h *History) BestValLoss() float64 {
	if h == nil || h.BestEpoch < 0 || h.BestEpoch >= len(h.ValLoss) {
		return math.NaN()
	}
	return h.ValLoss[h.BestEpoch]
}

// SplitTail splits data into a head and the trailing fraction of it.
func SplitTail(data [][]float64, fraction float64) (head, tail [][]float64) {
	n := len(data)
	cut := n - int(float64(n)*fraction)
	if cut < 0 {
		cut = 0
	}
	return data[:cut], data[cut:]
}

// Fit trains the model on train with early stopping on the loss over val.
// The training part is shuffled every epoch. When val is empty the training
// loss is monitored instead. On return the model holds the weights of the
// epoch with the lowest monitored loss, not the last epoch's weights.
func (m *Model) Fit(ctx context.Context, train, val [][]float64) (*History, error) {
	if len(train) == 0 {
		return nil, errors.New("empty training data")
	}
	x, err := toDense(train, m.inputDim)
	if err != nil {
		return nil, err
	}
	var vx *mat.Dense
	if len(val) > 0 {
		if vx, err = toDense(val, m.inputDim); err != nil {
			return nil, err
		}
	}

	logger := logging.FromContext(ctx)
	n := len(train)
	bs := m.hp.BatchSize
	if bs > n {
		bs = n
	}

	history := &History{BestEpoch: -1, StoppedEpoch: -1}
	best := math.Inf(1)
	var bestWeights weights
	wait := 0

	for epoch := 0; epoch < m.hp.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		perm := m.rng.Perm(n)
		var epochLoss float64
		for start := 0; start < n; start += bs {
			end := start + bs
			if end > n {
				end = n
			}
			batch := gatherRows(x, perm[start:end])
			epochLoss += m.trainStep(batch) * float64(end-start)
		}
		epochLoss /= float64(n)

		monitored := epochLoss
		if vx != nil {
			p := m.forward(vx, len(m.layers), false)
			monitored = mse(p.out, vx)
		}
		history.Loss = append(history.Loss, epochLoss)
		history.ValLoss = append(history.ValLoss, monitored)

		if monitored < best {
			best = monitored
			bestWeights = m.snapshot()
			history.BestEpoch = epoch
			wait = 0
		} else {
			wait++
			if wait >= m.hp.Patience {
				history.StoppedEpoch = epoch
				logger.Debugw("early stopping", "epoch", epoch, "best_epoch", history.BestEpoch, "best_val_loss", best)
				break
			}
		}
	}

	if history.BestEpoch >= 0 {
		if err := m.restore(bestWeights); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func gatherRows(x *mat.Dense, idx []int) *mat.Dense {
	_, c := x.Dims()
	raw := x.RawMatrix().Data
	out := make([]float64, 0, len(idx)*c)
	for _, i := range idx {
		out = append(out, raw[i*c:(i+1)*c]...)
	}
	return mat.NewDense(len(idx), c, out)
}
