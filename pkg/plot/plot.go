// Package plot renders the per-sensor and cross-sensor figures of a run as
// PNG files.
package plot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
)

// Figure sizes.
var (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

var (
	normalColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	anomalyColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	accentColor  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	thresholdRed = color.RGBA{R: 200, A: 255}
)

// FileName returns the figure file name of a sensor and figure kind, for
// example Sensor_1_history.png.
func FileName(sensor, kind string) string {
	return strings.ReplaceAll(sensor, " ", "_") + "_" + kind + ".png"
}

// History plots the training and validation loss per epoch and marks the
// restored epoch.
func History(path, sensor string, h *autoencoder.History) error {
	if h == nil || len(h.Loss) == 0 {
		return fmt.Errorf("sensor %s: no training history", sensor)
	}

	p := plot.New()
	p.Title.Text = sensor + " - training history"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = "Loss (MSE)"
	p.Add(plotter.NewGrid())

	train, err := lineOf(indexed(h.Loss), normalColor)
	if err != nil {
		return err
	}
	p.Add(train)
	p.Legend.Add("train", train)

	if len(h.ValLoss) > 0 {
		val, err := lineOf(indexed(h.ValLoss), accentColor)
		if err != nil {
			return err
		}
		p.Add(val)
		p.Legend.Add("validation", val)

		if h.BestEpoch >= 0 && h.BestEpoch < len(h.ValLoss) {
			best, err := plotter.NewScatter(plotter.XYs{{X: float64(h.BestEpoch), Y: h.ValLoss[h.BestEpoch]}})
			if err != nil {
				return err
			}
			best.GlyphStyle.Color = anomalyColor
			best.GlyphStyle.Shape = draw.CircleGlyph{}
			best.GlyphStyle.Radius = vg.Points(4)
			p.Add(best)
			p.Legend.Add("restored", best)
		}
	}
	p.Legend.Top = true

	return save(p, path)
}

// Latent scatters the first two principal components of the bottleneck
// activations, coloured by anomaly flag.
func Latent(path, sensor string, latent [][]float64, flags []bool) error {
	projected, explained, err := Project(latent, 2)
	if err != nil {
		return fmt.Errorf("sensor %s: %w", sensor, err)
	}

	var normal, anomalous plotter.XYs
	for i, row := range projected {
		pt := plotter.XY{X: row[0]}
		if len(row) > 1 {
			pt.Y = row[1]
		}
		if i < len(flags) && flags[i] {
			anomalous = append(anomalous, pt)
		} else {
			normal = append(normal, pt)
		}
	}

	p := plot.New()
	p.Title.Text = sensor + " - latent space"
	p.X.Label.Text = fmt.Sprintf("PC1 (%.1f%%)", 100*component(explained, 0))
	p.Y.Label.Text = fmt.Sprintf("PC2 (%.1f%%)", 100*component(explained, 1))

	if err := addScatter(p, "normal", normal, normalColor); err != nil {
		return err
	}
	if err := addScatter(p, "anomaly", anomalous, anomalyColor); err != nil {
		return err
	}

	return save(p, path)
}

// Results renders three panels: the readings with anomalies highlighted, the
// test error over time against the threshold, and the error distribution.
func Results(path, sensor string, test [][]float64, errors []float64, threshold float64, flags []bool) error {
	if len(errors) == 0 {
		return fmt.Errorf("sensor %s: no test errors", sensor)
	}

	readings := plot.New()
	readings.Title.Text = sensor + " - readings"
	readings.X.Label.Text = "X"
	readings.Y.Label.Text = "Y"
	var normal, anomalous plotter.XYs
	for i, row := range test {
		pt := plotter.XY{X: row[0], Y: row[1]}
		if i < len(flags) && flags[i] {
			anomalous = append(anomalous, pt)
		} else {
			normal = append(normal, pt)
		}
	}
	if err := addScatter(readings, "normal", normal, normalColor); err != nil {
		return err
	}
	if err := addScatter(readings, "anomaly", anomalous, anomalyColor); err != nil {
		return err
	}

	series := plot.New()
	series.Title.Text = "Reconstruction error"
	series.X.Label.Text = "Sample"
	series.Y.Label.Text = "Error"
	errLine, err := lineOf(indexed(errors), normalColor)
	if err != nil {
		return err
	}
	series.Add(errLine)
	thr, err := thresholdLine(threshold, 0, float64(len(errors)-1))
	if err != nil {
		return err
	}
	series.Add(thr)
	series.Legend.Add("error", errLine)
	series.Legend.Add(fmt.Sprintf("threshold %.4g", threshold), thr)
	series.Legend.Top = true

	dist := plot.New()
	dist.Title.Text = "Error distribution"
	dist.X.Label.Text = "Error"
	dist.Y.Label.Text = "Count"
	hist, err := plotter.NewHist(plotter.Values(errors), 40)
	if err != nil {
		return err
	}
	hist.FillColor = normalColor
	dist.Add(hist)

	return saveColumn(path, Width, 3*Height, readings, series, dist)
}

// AxisErrors plots the squared reconstruction error of each axis.
func AxisErrors(path, sensor string, axisErrors [][]float64) error {
	if len(axisErrors) == 0 {
		return fmt.Errorf("sensor %s: no axis errors", sensor)
	}

	p := plot.New()
	p.Title.Text = sensor + " - per-axis reconstruction error"
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Squared error"

	colors := []color.Color{normalColor, accentColor}
	for axis, name := range []string{"X", "Y"} {
		values := make([]float64, len(axisErrors))
		for i, row := range axisErrors {
			values[i] = row[axis]
		}
		line, err := lineOf(indexed(values), colors[axis])
		if err != nil {
			return err
		}
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true

	return save(p, path)
}

func indexed(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	return pts
}

func lineOf(pts plotter.XYs, c color.Color) (*plotter.Line, error) {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Color = c
	line.LineStyle.Width = vg.Points(1)
	return line, nil
}

func thresholdLine(threshold, from, to float64) (*plotter.Line, error) {
	if to <= from {
		to = from + 1
	}
	line, err := plotter.NewLine(plotter.XYs{{X: from, Y: threshold}, {X: to, Y: threshold}})
	if err != nil {
		return nil, err
	}
	line.LineStyle.Color = thresholdRed
	line.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
	return line, nil
}

func addScatter(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}

func save(p *plot.Plot, path string) error {
	return saveSized(p, path, Width, Height)
}

func saveSized(p *plot.Plot, path string, w, h vg.Length) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(w, h, path)
}

// saveColumn stacks plots vertically into one image.
func saveColumn(path string, w, h vg.Length, plots ...*plot.Plot) error {
	rows := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		rows[i] = []*plot.Plot{p}
	}

	img := vgimg.New(w, h)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(plots),
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: 4 * vg.Millimeter,
	}
	canvases := plot.Align(rows, tiles, dc)
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
