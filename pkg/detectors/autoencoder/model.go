// Package autoencoder implements a per-sensor anomaly detector built on a
// small feed-forward autoencoder. Samples whose reconstruction error exceeds
// a percentile of the training errors are flagged.
package autoencoder

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Hyperparams configures the network topology and its training.
type Hyperparams struct {
	// Width of the outer hidden layers. The bottleneck is Width/4.
	Width int `toml:"width" json:"width"`
	// Dropout rate applied after the first, second and fourth hidden layers.
	Dropout float64 `toml:"dropout" json:"dropout"`
	// LearningRate of the Adam optimizer.
	LearningRate float64 `toml:"learning_rate" json:"learning_rate"`
	// Epochs is the maximum number of passes over the training set.
	Epochs int `toml:"epochs" json:"epochs"`
	// BatchSize is the number of samples per gradient step.
	BatchSize int `toml:"batch_size" json:"batch_size"`
	// Patience is the number of epochs without validation improvement
	// tolerated before training stops.
	Patience int `toml:"patience" json:"patience"`
}

// DefaultHyperparams returns the configuration used when tuning is off.
func DefaultHyperparams() Hyperparams {
	return Hyperparams{
		Width:        64,
		Dropout:      0.2,
		LearningRate: 3e-4,
		Epochs:       300,
		BatchSize:    32,
		Patience:     20,
	}
}

// Validate checks that the hyperparameters describe a buildable model.
func (h Hyperparams) Validate() error {
	switch {
	case h.Width < 4 || h.Width%4 != 0:
		return fmt.Errorf("width %d must be a positive multiple of 4", h.Width)
	case h.Dropout < 0 || h.Dropout >= 1:
		return fmt.Errorf("dropout %v must be in [0, 1)", h.Dropout)
	case h.LearningRate <= 0:
		return fmt.Errorf("learning rate %v must be positive", h.LearningRate)
	case h.Epochs <= 0:
		return fmt.Errorf("epochs %d must be positive", h.Epochs)
	case h.BatchSize <= 0:
		return fmt.Errorf("batch size %d must be positive", h.BatchSize)
	case h.Patience < 0:
		return fmt.Errorf("patience %d must not be negative", h.Patience)
	}
	return nil
}

// bottleneck is the index of the narrowest layer.
const bottleneck = 2

// Model is the autoencoder network:
//
//	input -> dense(w) -> dropout -> dense(w/2) -> dropout -> dense(w/4)
//	      -> dense(w/2) -> dropout -> dense(w) -> dense(input, linear)
//
// Hidden layers use ReLU. A Model is not safe for concurrent training.
type Model struct {
	inputDim int
	hp       Hyperparams
	layers   []*dense
	dropout  []float64 // rate applied after layer i, 0 for none

	rng  *rand.Rand
	step int
}

// Build constructs an untrained model with seeded initial weights.
func Build(inputDim int, hp Hyperparams, seed int64) (*Model, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("input dimension %d must be positive", inputDim)
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	w := hp.Width
	sizes := []int{inputDim, w, w / 2, w / 4, w / 2, w, inputDim}

	m := &Model{
		inputDim: inputDim,
		hp:       hp,
		layers:   make([]*dense, len(sizes)-1),
		dropout:  []float64{hp.Dropout, hp.Dropout, 0, hp.Dropout, 0, 0},
		rng:      rng,
	}
	for i := range m.layers {
		act := relu
		if i == len(m.layers)-1 {
			act = linear
		}
		m.layers[i] = newDense(sizes[i], sizes[i+1], act, rng)
	}
	return m, nil
}

// Hyperparams returns the configuration the model was built with.
func (m *Model) Hyperparams() Hyperparams {
	return m.hp
}

// InputDim returns the number of features the model reconstructs.
func (m *Model) InputDim() int {
	return m.inputDim
}

// LatentDim returns the width of the bottleneck.
func (m *Model) LatentDim() int {
	_, out := m.layers[bottleneck].dims()
	return out
}

// Reconstruct runs inference without dropout.
func (m *Model) Reconstruct(data [][]float64) ([][]float64, error) {
	return m.infer(data, len(m.layers))
}

// Encode returns the bottleneck activations of data.
func (m *Model) Encode(data [][]float64) ([][]float64, error) {
	return m.infer(data, bottleneck+1)
}

// Loss returns the mean squared reconstruction error of data in the space it
// is given in.
func (m *Model) Loss(data [][]float64) (float64, error) {
	if len(data) == 0 {
		return 0, errors.New("empty data")
	}
	x, err := toDense(data, m.inputDim)
	if err != nil {
		return 0, err
	}
	p := m.forward(x, len(m.layers), false)
	return mse(p.out, x), nil
}

func (m *Model) infer(data [][]float64, depth int) ([][]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	x, err := toDense(data, m.inputDim)
	if err != nil {
		return nil, err
	}
	return fromDense(m.forward(x, depth, false).out), nil
}

// pass caches what backpropagation needs from a forward pass.
type pass struct {
	inputs []*mat.Dense // input of layer i, after the previous dropout
	pre    []*mat.Dense // pre-activation of layer i
	masks  []*mat.Dense // scaled dropout mask after layer i
	out    *mat.Dense
}

func (m *Model) forward(x *mat.Dense, depth int, training bool) *pass {
	p := &pass{
		inputs: make([]*mat.Dense, depth),
		pre:    make([]*mat.Dense, depth),
		masks:  make([]*mat.Dense, depth),
	}

	a := x
	for i := 0; i < depth; i++ {
		p.inputs[i] = a
		z, act := m.layers[i].forward(a)
		p.pre[i] = z
		if training && m.dropout[i] > 0 {
			mask := m.dropoutMask(act, m.dropout[i])
			act.MulElem(act, mask)
			p.masks[i] = mask
		}
		a = act
	}
	p.out = a
	return p
}

// dropoutMask keeps each unit with probability 1-rate and rescales kept units.
func (m *Model) dropoutMask(like *mat.Dense, rate float64) *mat.Dense {
	r, c := like.Dims()
	keep := 1 / (1 - rate)
	data := make([]float64, r*c)
	for i := range data {
		if m.rng.Float64() >= rate {
			data[i] = keep
		}
	}
	return mat.NewDense(r, c, data)
}

// trainStep does one forward/backward pass on a batch and applies Adam.
// It returns the batch loss.
func (m *Model) trainStep(x *mat.Dense) float64 {
	loss, grads := m.lossGradients(x, true)

	m.step++
	for i, l := range m.layers {
		l.adamStep(grads[i], m.hp.LearningRate, m.step)
	}
	return loss
}

// lossGradients returns the MSE loss of x and its gradient for every layer.
func (m *Model) lossGradients(x *mat.Dense, training bool) (float64, []gradients) {
	p := m.forward(x, len(m.layers), training)
	loss := mse(p.out, x)

	rows, cols := x.Dims()
	grad := mat.NewDense(rows, cols, nil)
	grad.Sub(p.out, x)
	grad.Scale(2/float64(rows*cols), grad)

	grads := make([]gradients, len(m.layers))
	for i := len(m.layers) - 1; i >= 0; i-- {
		if p.masks[i] != nil {
			grad.MulElem(grad, p.masks[i])
		}
		var next *mat.Dense
		grads[i], next = m.layers[i].backward(p.inputs[i], p.pre[i], grad, i > 0)
		grad = next
	}
	return loss, grads
}

// weights is a copy of every layer's parameters.
type weights struct {
	W [][]float64
	B [][]float64
}

func (m *Model) snapshot() weights {
	s := weights{W: make([][]float64, len(m.layers)), B: make([][]float64, len(m.layers))}
	for i, l := range m.layers {
		s.W[i] = append([]float64(nil), l.w.RawMatrix().Data...)
		s.B[i] = append([]float64(nil), l.b...)
	}
	return s
}

func (m *Model) restore(s weights) error {
	if len(s.W) != len(m.layers) || len(s.B) != len(m.layers) {
		return fmt.Errorf("weights for %d layers, model has %d", len(s.W), len(m.layers))
	}
	for i, l := range m.layers {
		w := l.w.RawMatrix().Data
		if len(s.W[i]) != len(w) || len(s.B[i]) != len(l.b) {
			return fmt.Errorf("layer %d shape mismatch", i)
		}
		copy(w, s.W[i])
		copy(l.b, s.B[i])
	}
	return nil
}

func mse(out, x *mat.Dense) float64 {
	o := out.RawMatrix().Data
	var sum float64
	for i, v := range x.RawMatrix().Data {
		d := o[i] - v
		sum += d * d
	}
	return sum / float64(len(o))
}

func toDense(data [][]float64, cols int) (*mat.Dense, error) {
	flat := make([]float64, 0, len(data)*cols)
	for i, row := range data {
		if len(row) != cols {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(len(data), cols, flat), nil
}

func fromDense(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	raw := m.RawMatrix().Data
	out := make([][]float64, r)
	for i := range out {
		out[i] = append([]float64(nil), raw[i*c:(i+1)*c]...)
	}
	return out
}
