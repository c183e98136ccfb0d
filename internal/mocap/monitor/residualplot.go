// Package monitor renders diagnostic plots for processed runs. Nothing
// in the pipeline depends on this package; it exists for operators
// reviewing cutoff selection by eye.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/kinematics.report/internal/mocap"
)

// ResidualPlotter writes one PNG per filter decision showing the
// residual-RMS curve over the searched cutoff range with the selected
// cutoff marked.
type ResidualPlotter struct {
	outputDir string
}

// NewResidualPlotter creates a plotter writing into outputDir, creating
// it if needed.
func NewResidualPlotter(outputDir string) (*ResidualPlotter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &ResidualPlotter{outputDir: outputDir}, nil
}

// Generate renders a residual-curve PNG for each decision and returns
// the number of plots written.
func (rp *ResidualPlotter) Generate(runID string, decisions []mocap.FilterDecision) (int, error) {
	count := 0
	for _, d := range decisions {
		if len(d.ResidualRMS) == 0 {
			continue
		}
		if err := rp.plotDecision(runID, d); err != nil {
			return count, fmt.Errorf("region %s: %w", d.Region, err)
		}
		count++
	}
	return count, nil
}

func (rp *ResidualPlotter) plotDecision(runID string, d mocap.FilterDecision) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - %s residual curve (%s)", runID, d.Region, d.Method)
	p.X.Label.Text = "Cutoff (Hz)"
	p.Y.Label.Text = "Residual RMS (m)"

	pts := make(plotter.XYs, len(d.ResidualRMS))
	for i, r := range d.ResidualRMS {
		pts[i].X = float64(d.SearchMinHz + i)
		pts[i].Y = r
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("residual line: %w", err)
	}
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)
	p.Legend.Add("residual RMS", line)

	// Vertical marker at the selected cutoff
	minY, maxY := pts[0].Y, pts[0].Y
	for _, pt := range pts {
		if pt.Y < minY {
			minY = pt.Y
		}
		if pt.Y > maxY {
			maxY = pt.Y
		}
	}
	marker, err := plotter.NewLine(plotter.XYs{
		{X: float64(d.SelectedHz), Y: minY},
		{X: float64(d.SelectedHz), Y: maxY},
	})
	if err != nil {
		return fmt.Errorf("cutoff marker: %w", err)
	}
	marker.Color = color.RGBA{R: 200, A: 255}
	marker.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
	p.Add(marker)
	p.Legend.Add(fmt.Sprintf("selected %d Hz", d.SelectedHz), marker)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(rp.outputDir, fmt.Sprintf("%s_%s_residuals.png", runID, d.Region))
	if err := p.Save(10*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save residual plot: %w", err)
	}
	return nil
}
