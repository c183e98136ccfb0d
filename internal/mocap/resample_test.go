package mocap

import (
	"math"
	"testing"
)

func TestUniformGrid(t *testing.T) {
	tests := []struct {
		name       string
		t0, t1, fs float64
		wantFrames int
	}{
		{"one second at 120", 0, 1, 120, 121},
		{"non-integer span", 0, 1.004, 120, 121},
		{"offset origin", 2.5, 3.5, 100, 101},
		{"zero rate", 0, 1, 0, 0},
		{"reversed span", 1, 0, 120, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid := UniformGrid(tt.t0, tt.t1, tt.fs)
			if len(grid) != tt.wantFrames {
				t.Fatalf("got %d frames, want %d", len(grid), tt.wantFrames)
			}
			if len(grid) == 0 {
				return
			}
			if grid[0] != tt.t0 {
				t.Errorf("grid[0] = %g, want %g", grid[0], tt.t0)
			}
			// Index-based construction keeps the deltas from accumulating
			// floating-point drift.
			if sd := gridDeltaStdDev(grid); sd > 1e-12 {
				t.Errorf("grid delta stddev = %g, want ~0", sd)
			}
		})
	}
}

func TestMadSigma(t *testing.T) {
	flat := []float64{1, 1, 1, 1, 1}
	if got := madSigma(flat); got != 0 {
		t.Errorf("madSigma(flat) = %g, want 0", got)
	}

	// One outlier in an otherwise tight set must not inflate the robust
	// sigma the way a standard deviation would.
	vals := []float64{1, 1.01, 0.99, 1.02, 0.98, 50}
	if got := madSigma(vals); got > 0.1 {
		t.Errorf("madSigma with outlier = %g, want < 0.1", got)
	}
}

func TestDetectVelocityArtifacts(t *testing.T) {
	n := 101
	times := make([]float64, n)
	pos := make([]Vec3, n)
	for i := range times {
		times[i] = float64(i) / 100
		pos[i] = Vec3{0.1 * times[i], 0, 1}
	}
	pos[50][0] += 0.5 // single-sample position jump

	mask := detectVelocityArtifacts(times, pos, DefaultResampleConfig())
	if !mask[50] {
		t.Error("spike sample not masked")
	}
	if !mask[49] || !mask[51] {
		t.Error("spike neighbours not masked")
	}
	masked := 0
	for _, m := range mask {
		if m {
			masked++
		}
	}
	if masked > 10 {
		t.Errorf("%d samples masked, want a tight window around the spike", masked)
	}
}

func TestResampleStill(t *testing.T) {
	raw := rawFromSession(stillSession(t, 1, 60))

	s, report, err := Resample(raw, DefaultResampleConfig())
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if s.Rate != 120 {
		t.Errorf("Rate = %g, want 120", s.Rate)
	}
	if report.GridFrames != 121 || s.NumFrames() != 121 {
		t.Errorf("GridFrames = %d, frames = %d, want 121", report.GridFrames, s.NumFrames())
	}
	if report.GridDeltaStdDev > 1e-9 {
		t.Errorf("GridDeltaStdDev = %g, want ~0", report.GridDeltaStdDev)
	}
	if report.MaskedSamples != 0 || report.UnfilledSamples != 0 {
		t.Errorf("masked %d, unfilled %d on a clean recording", report.MaskedSamples, report.UnfilledSamples)
	}
	if !report.Result.IsOK() {
		t.Errorf("Result = %+v, want ok", report.Result)
	}

	for f := 0; f < s.NumFrames(); f += 17 {
		if !quatsClose(s.Quats[s.Idx(f, 1)], QuatIdentity(), 1e-9) {
			t.Fatalf("frame %d: orientation drifted from identity", f)
		}
		if p := s.Pos[s.Idx(f, 2)]; !almostEqual(p[0], testRestPos[2][0], 1e-6) {
			t.Fatalf("frame %d: position %v, want %v", f, p, testRestPos[2])
		}
	}
}

func TestResampleSlerpTracksRotation(t *testing.T) {
	// 10 Hz source rotating at 90 deg/s; resampled orientations must land
	// on the true rotation at every 120 Hz grid instant.
	src := zRotationSession(t, 1, 10, 2, 90)
	raw := rawFromSession(src)

	s, _, err := Resample(raw, DefaultResampleConfig())
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for f := 0; f < s.NumFrames(); f += 13 {
		theta := 90 * s.Times[f] * math.Pi / 180
		want := QuatFromRotVec([3]float64{0, 0, theta})
		if got := s.Quats[s.Idx(f, 2)]; !quatsClose(got, want, 1e-9) {
			t.Fatalf("frame %d (t=%.4f): got %+v, want %+v", f, s.Times[f], got, want)
		}
	}
}

func TestResampleSameRateRoundTrip(t *testing.T) {
	// Resampling a clean 120 Hz recording at 120 Hz must reproduce it:
	// the grid lands on the source instants, slerp and the position
	// interpolant both pass through their knots.
	src := zRotationSession(t, 1, 120, 2, 90)
	for f := 0; f < src.NumFrames(); f++ {
		src.Pos[src.Idx(f, 2)][2] = testRestPos[2][2] + 0.05*math.Sin(2*math.Pi*1.5*src.Times[f])
	}
	raw := rawFromSession(src)

	s, report, err := Resample(raw, DefaultResampleConfig())
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if s.NumFrames() != src.NumFrames() {
		t.Fatalf("frames = %d, want %d", s.NumFrames(), src.NumFrames())
	}
	if report.MaskedSamples != 0 || report.UnfilledSamples != 0 {
		t.Errorf("masked %d, unfilled %d on a clean recording", report.MaskedSamples, report.UnfilledSamples)
	}
	for f := 0; f < s.NumFrames(); f++ {
		if !almostEqual(s.Times[f], src.Times[f], 1e-9) {
			t.Fatalf("frame %d: grid instant %.12f, source %.12f", f, s.Times[f], src.Times[f])
		}
		for j := 0; j < s.Skeleton.NumJoints(); j++ {
			if !quatsClose(s.Quats[s.Idx(f, j)], src.Quats[src.Idx(f, j)], 1e-9) {
				t.Fatalf("frame %d joint %d: orientation not reproduced", f, j)
			}
			for axis := 0; axis < 3; axis++ {
				if !almostEqual(s.Pos[s.Idx(f, j)][axis], src.Pos[src.Idx(f, j)][axis], 1e-9) {
					t.Fatalf("frame %d joint %d axis %d: %.12f, want %.12f",
						f, j, axis, s.Pos[s.Idx(f, j)][axis], src.Pos[src.Idx(f, j)][axis])
				}
			}
		}
	}
}

func TestResamplePositionGaps(t *testing.T) {
	nanVec := Vec3{math.NaN(), math.NaN(), math.NaN()}

	t.Run("short gap bridged", func(t *testing.T) {
		raw := rawFromSession(stillSession(t, 2, 100))
		for f := 0; f < raw.NumFrames(); f++ {
			if raw.Times[f] > 0.50 && raw.Times[f] < 0.60 {
				raw.Pos[raw.Idx(f, 2)] = nanVec
			}
		}
		_, report, err := Resample(raw, DefaultResampleConfig())
		if err != nil {
			t.Fatalf("Resample: %v", err)
		}
		if report.BridgedGaps == 0 {
			t.Error("interior gap under the ceiling was not counted as bridged")
		}
		if report.LongestBridgedS > DefaultResampleConfig().MaxBridgeSeconds {
			t.Errorf("LongestBridgedS = %g beyond the ceiling", report.LongestBridgedS)
		}
		if !report.Result.IsOK() {
			t.Errorf("Result = %+v, want ok for a bridgeable gap", report.Result)
		}
	})

	t.Run("long gap refused", func(t *testing.T) {
		raw := rawFromSession(stillSession(t, 2, 100))
		for f := 0; f < raw.NumFrames(); f++ {
			if raw.Times[f] > 0.5 && raw.Times[f] < 1.2 {
				raw.Pos[raw.Idx(f, 2)] = nanVec
			}
		}
		s, report, err := Resample(raw, DefaultResampleConfig())
		if err != nil {
			t.Fatalf("Resample: %v", err)
		}
		if report.UnfilledSamples == 0 {
			t.Fatal("over-long gap was silently filled")
		}
		if report.Result.Status != StageDegraded {
			t.Errorf("Result.Status = %s, want %s", report.Result.Status, StageDegraded)
		}
		sawNaN := false
		for f := 0; f < s.NumFrames(); f++ {
			if s.Times[f] > 0.6 && s.Times[f] < 1.1 && math.IsNaN(s.Pos[s.Idx(f, 2)][0]) {
				sawNaN = true
				break
			}
		}
		if !sawNaN {
			t.Error("grid positions inside the refused gap are not NaN")
		}
	})
}

func TestResampleRejectsBadInput(t *testing.T) {
	raw := rawFromSession(stillSession(t, 1, 60))

	cfg := DefaultResampleConfig()
	cfg.TargetRate = 0
	if _, _, err := Resample(raw, cfg); err == nil {
		t.Error("expected error for non-positive target rate")
	}

	raw.Times[3] = raw.Times[2] - 0.001
	if _, _, err := Resample(raw, DefaultResampleConfig()); err == nil {
		t.Error("expected validation error for non-monotonic time")
	}
}
