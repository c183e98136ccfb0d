package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/kinematics.report/internal/mocap"
)

func TestResidualPlotterGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	rp, err := NewResidualPlotter(dir)
	if err != nil {
		t.Fatalf("NewResidualPlotter failed: %v", err)
	}

	decisions := []mocap.FilterDecision{
		{
			Region:      mocap.RegionTrunk,
			SelectedHz:  6,
			SearchMinHz: 2,
			SearchMaxHz: 20,
			Method:      "strict_knee",
			ResidualRMS: []float64{0.050, 0.032, 0.020, 0.012, 0.008, 0.006, 0.005, 0.005, 0.004, 0.004, 0.004, 0.004, 0.004, 0.004, 0.003, 0.003, 0.003, 0.003, 0.003},
		},
		{
			// No curve recorded: must be skipped, not fail
			Region:     mocap.RegionDistal,
			SelectedHz: 10,
			Method:     "relaxed_knee",
		},
	}

	n, err := rp.Generate("run-123", decisions)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 plot, got %d", n)
	}

	file := filepath.Join(dir, "run-123_trunk_residuals.png")
	info, err := os.Stat(file)
	if err != nil {
		t.Fatalf("expected plot file at %s: %v", file, err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}
}
