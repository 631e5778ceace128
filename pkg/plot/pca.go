package plot

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewSamples is returned by Project for fewer than two samples.
var ErrTooFewSamples = errors.New("projection needs at least two samples")

// Project maps rows of data onto their first k principal components. It
// also returns the fraction of the total variance each kept component
// explains. k is capped by the data dimensions.
func Project(data [][]float64, k int) ([][]float64, []float64, error) {
	n := len(data)
	if n < 2 {
		return nil, nil, ErrTooFewSamples
	}
	d := len(data[0])

	x := mat.NewDense(n, d, nil)
	for i, row := range data {
		if len(row) != d {
			return nil, nil, errors.New("rows differ in width")
		}
		x.SetRow(i, row)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(x, nil) {
		return nil, nil, errors.New("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, cols := vecs.Dims()
	if k > cols {
		k = cols
	}

	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, x)
		mean := stat.Mean(col, nil)
		for i := range col {
			x.Set(i, j, col[i]-mean)
		}
	}

	var proj mat.Dense
	proj.Mul(x, vecs.Slice(0, d, 0, k))

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &proj)
	}

	var total float64
	for _, v := range vars {
		total += v
	}
	explained := make([]float64, k)
	if total > 0 {
		for i := range explained {
			explained[i] = vars[i] / total
		}
	}
	return out, explained, nil
}

func component(explained []float64, i int) float64 {
	if i < len(explained) {
		return explained[i]
	}
	return 0
}
