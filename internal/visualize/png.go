package visualize

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
)

// PNGRenderer saves the histogram as an image. The format follows the
// extension of Path (png, svg, pdf...).
type PNGRenderer struct {
	Path   string
	Width  vg.Length
	Height vg.Length
}

// Render draws bars for the bins and a line for the density overlay
func (r *PNGRenderer) Render(h Histogram) error {
	p := plot.New()
	p.Title.Text = h.Title
	p.X.Label.Text = h.XLabel
	p.Y.Label.Text = h.YLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}
	p.Y.Min = 0

	hist := &plotter.Histogram{
		Bins:      make([]plotter.HistogramBin, len(h.Bins)),
		Width:     h.BinWidth().Seconds(),
		FillColor: color.RGBA{R: 94, G: 234, B: 212, A: 160},
		LineStyle: plotter.DefaultLineStyle,
	}
	for i, b := range h.Bins {
		hist.Bins[i] = plotter.HistogramBin{
			Min:    unixSeconds(b.Start),
			Max:    unixSeconds(b.End),
			Weight: float64(b.Count),
		}
	}
	p.Add(hist)

	if len(h.Density) > 0 {
		xys := make(plotter.XYs, len(h.Density))
		for i, d := range h.Density {
			xys[i].X = unixSeconds(d.At)
			xys[i].Y = d.Value
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("density line: %w", err)
		}
		line.Color = color.RGBA{R: 45, G: 106, B: 94, A: 255}
		line.Width = vg.Points(2)
		p.Add(line)
	}

	width, height := r.Width, r.Height
	if width == 0 {
		width = 10 * vg.Inch
	}
	if height == 0 {
		height = 5 * vg.Inch
	}
	if err := p.Save(width, height, r.Path); err != nil {
		return fmt.Errorf("save %s: %w", r.Path, err)
	}
	logger.Info("Histogram saved to %s", r.Path)
	return nil
}
