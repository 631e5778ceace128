package plot

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/hed1ad/sensorguard/pkg/correlation"
)

// correlationGrid adapts a correlation matrix to plotter.GridXYZ.
type correlationGrid struct {
	values [][]float64
}

func (g correlationGrid) Dims() (c, r int)   { return len(g.values), len(g.values) }
func (g correlationGrid) Z(c, r int) float64 { return g.values[r][c] }
func (g correlationGrid) X(c int) float64    { return float64(c) }
func (g correlationGrid) Y(r int) float64    { return float64(r) }

// CorrelationHeatmap renders the matrix on a fixed [-1, 1] diverging scale
// with each cell annotated.
func CorrelationHeatmap(path string, m *correlation.Matrix) error {
	if m == nil || len(m.Values) == 0 {
		return fmt.Errorf("empty correlation matrix")
	}

	colors := moreland.SmoothBlueRed()
	colors.SetMin(-1)
	colors.SetMax(1)

	grid := correlationGrid{values: m.Values}
	hm := plotter.NewHeatMap(grid, colors.Palette(255))
	hm.Min = -1
	hm.Max = 1

	p := plot.New()
	p.Title.Text = "Cross-sensor error correlation"
	p.Add(hm)
	p.NominalX(m.Names...)
	p.NominalY(m.Names...)

	var cells plotter.XYLabels
	for r, row := range m.Values {
		for c, v := range row {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(c), Y: float64(r)})
			cells.Labels = append(cells.Labels, fmt.Sprintf("%.2f", v))
		}
	}
	labels, err := plotter.NewLabels(cells)
	if err != nil {
		return err
	}
	p.Add(labels)

	side := vg.Length(len(m.Values)) * 1.5 * vg.Inch
	if side < 5*vg.Inch {
		side = 5 * vg.Inch
	}
	return saveSized(p, path, side, side)
}
