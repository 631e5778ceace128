package autoencoder

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Adam defaults, matching the common deep learning framework values.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

type activation int

const (
	linear activation = iota
	relu
)

// dense is a fully connected layer y = act(xW + b) with its Adam moments.
type dense struct {
	w   *mat.Dense // in x out
	b   []float64
	act activation

	mw, vw *mat.Dense
	mb, vb []float64
}

// newDense initialises weights with Glorot uniform and zero biases.
func newDense(in, out int, act activation, rng *rand.Rand) *dense {
	limit := math.Sqrt(6 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}

	return &dense{
		w:   mat.NewDense(in, out, w),
		b:   make([]float64, out),
		act: act,
		mw:  mat.NewDense(in, out, nil),
		vw:  mat.NewDense(in, out, nil),
		mb:  make([]float64, out),
		vb:  make([]float64, out),
	}
}

func (l *dense) dims() (in, out int) {
	return l.w.Dims()
}

// forward returns the pre-activation and the activation for a batch.
func (l *dense) forward(x *mat.Dense) (z, a *mat.Dense) {
	rows, _ := x.Dims()
	_, out := l.dims()

	z = mat.NewDense(rows, out, nil)
	z.Mul(x, l.w)
	zData := z.RawMatrix().Data
	for i := 0; i < rows; i++ {
		row := zData[i*out : (i+1)*out]
		for j := range row {
			row[j] += l.b[j]
		}
	}

	if l.act == linear {
		return z, z
	}

	a = mat.NewDense(rows, out, nil)
	aData := a.RawMatrix().Data
	for i, v := range zData {
		if v > 0 {
			aData[i] = v
		}
	}
	return z, a
}

// gradients holds the parameter gradients of one layer.
type gradients struct {
	w *mat.Dense
	b []float64
}

// backward turns the gradient w.r.t. the activation into parameter
// gradients and the gradient w.r.t. the layer input. grad is overwritten.
func (l *dense) backward(x, z, grad *mat.Dense, needInput bool) (gradients, *mat.Dense) {
	rows, out := grad.Dims()
	gData := grad.RawMatrix().Data

	if l.act == relu {
		zData := z.RawMatrix().Data
		for i, v := range zData {
			if v <= 0 {
				gData[i] = 0
			}
		}
	}

	in, _ := l.dims()
	dw := mat.NewDense(in, out, nil)
	dw.Mul(x.T(), grad)

	db := make([]float64, out)
	for i := 0; i < rows; i++ {
		row := gData[i*out : (i+1)*out]
		for j, v := range row {
			db[j] += v
		}
	}

	var dx *mat.Dense
	if needInput {
		dx = mat.NewDense(rows, in, nil)
		dx.Mul(grad, l.w.T())
	}
	return gradients{w: dw, b: db}, dx
}

// adamStep applies one bias-corrected Adam update at step t (1-based).
func (l *dense) adamStep(g gradients, lr float64, t int) {
	lrT := lr * math.Sqrt(1-math.Pow(adamBeta2, float64(t))) / (1 - math.Pow(adamBeta1, float64(t)))
	adam(l.w.RawMatrix().Data, g.w.RawMatrix().Data, l.mw.RawMatrix().Data, l.vw.RawMatrix().Data, lrT)
	adam(l.b, g.b, l.mb, l.vb, lrT)
}

func adam(p, g, m, v []float64, lrT float64) {
	for i := range p {
		m[i] = adamBeta1*m[i] + (1-adamBeta1)*g[i]
		v[i] = adamBeta2*v[i] + (1-adamBeta2)*g[i]*g[i]
		p[i] -= lrT * m[i] / (math.Sqrt(v[i]) + adamEpsilon)
	}
}
