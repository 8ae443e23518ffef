package metrics

import (
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// PlotOptions は予測値プロットの見た目
type PlotOptions struct {
	Title  string
	Label  string
	Width  vg.Length
	Height vg.Length
}

// PlotPredictions は実測値と予測値の散布図に y = x の参照線を重ねてPNGで w に書き出す
func PlotPredictions(w io.Writer, yTrue, yPred []float64, opts PlotOptions) error {
	if len(yTrue) == 0 {
		return errors.NewValueError("PlotPredictions", "empty vector")
	}
	if len(yTrue) != len(yPred) {
		return errors.NewDimensionError("PlotPredictions", len(yTrue), len(yPred), 0)
	}
	if opts.Width == 0 {
		opts.Width = 6 * vg.Inch
	}
	if opts.Height == 0 {
		opts.Height = 6 * vg.Inch
	}
	if opts.Label == "" {
		opts.Label = "y"
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "actual " + opts.Label
	p.Y.Label.Text = "predicted " + opts.Label
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(yTrue))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range yTrue {
		xys[i] = plotter.XY{X: yTrue[i], Y: yPred[i]}
		lo = math.Min(lo, math.Min(yTrue[i], yPred[i]))
		hi = math.Max(hi, math.Max(yTrue[i], yPred[i]))
	}

	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return errors.Wrap(err, "build scatter")
	}
	sc.GlyphStyle.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	sc.GlyphStyle.Radius = vg.Points(2.5)
	p.Add(sc)
	p.Legend.Add("test samples", sc)

	ref, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "build reference line")
	}
	ref.Color = color.RGBA{R: 200, G: 30, B: 30, A: 180}
	ref.Width = vg.Points(1)
	p.Add(ref)
	p.Legend.Add("y = x", ref)
	p.Legend.Top = true
	p.Legend.Left = true

	wt, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return errors.Wrap(err, "render plot")
	}
	if _, err := wt.WriteTo(w); err != nil {
		return errors.Wrap(err, "write plot")
	}
	return nil
}
