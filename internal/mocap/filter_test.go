package mocap

import (
	"math"
	"testing"
)

func sine(n int, rate, freqHz, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freqHz*float64(i)/rate)
	}
	return out
}

func rms(x []float64) float64 {
	var ss float64
	for _, v := range x {
		ss += v * v
	}
	return math.Sqrt(ss / float64(len(x)))
}

func TestLowPassZeroPhasePassband(t *testing.T) {
	const rate = 120.0
	in := sine(600, rate, 1, 1)

	out, err := LowPassZeroPhase(in, 10, rate)
	if err != nil {
		t.Fatalf("LowPassZeroPhase: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("output length %d, want %d", len(out), len(in))
	}

	// A 1 Hz tone under a 10 Hz cutoff must come through with neither
	// attenuation nor phase lag; comparing sample for sample checks both.
	for i := 50; i < len(in)-50; i++ {
		if !almostEqual(out[i], in[i], 0.02) {
			t.Fatalf("sample %d: out %g, in %g; passband distorted", i, out[i], in[i])
		}
	}
}

func TestLowPassZeroPhaseStopband(t *testing.T) {
	const rate = 120.0
	in := sine(600, rate, 40, 1)

	out, err := LowPassZeroPhase(in, 5, rate)
	if err != nil {
		t.Fatalf("LowPassZeroPhase: %v", err)
	}
	inRMS := rms(in[50 : len(in)-50])
	outRMS := rms(out[50 : len(out)-50])
	if outRMS > 0.05*inRMS {
		t.Errorf("stopband RMS ratio %g, want < 0.05", outRMS/inRMS)
	}
}

func TestLowPassZeroPhaseEdges(t *testing.T) {
	if _, err := LowPassZeroPhase(sine(100, 120, 1, 1), 60, 120); err == nil {
		t.Error("expected error for cutoff at Nyquist")
	}
	if _, err := LowPassZeroPhase(sine(100, 120, 1, 1), 0, 120); err == nil {
		t.Error("expected error for zero cutoff")
	}

	out, err := LowPassZeroPhase(nil, 5, 120)
	if err != nil || out != nil {
		t.Errorf("empty input: got (%v, %v), want (nil, nil)", out, err)
	}

	// Shorter than the reflection pad still works.
	short := []float64{1, 2, 3, 4, 5}
	if _, err := LowPassZeroPhase(short, 5, 120); err != nil {
		t.Errorf("short input: %v", err)
	}
}

func TestFilterPositionsPreservesNaN(t *testing.T) {
	s := stillSession(t, 2, 120)
	// Noisy x axis on the elbow plus an unfilled stretch.
	noise := sine(s.NumFrames(), s.Rate, 45, 0.01)
	for f := 0; f < s.NumFrames(); f++ {
		s.Pos[s.Idx(f, 2)][0] = testRestPos[2][0] + noise[f]
	}
	for f := 100; f < 110; f++ {
		s.Pos[s.Idx(f, 2)] = Vec3{math.NaN(), math.NaN(), math.NaN()}
	}

	out, err := FilterPositions(s, 6)
	if err != nil {
		t.Fatalf("FilterPositions: %v", err)
	}
	for f := 100; f < 110; f++ {
		if !math.IsNaN(out.Pos[out.Idx(f, 2)][0]) {
			t.Fatalf("frame %d: NaN stretch was filled by the filter", f)
		}
	}
	if v := out.Pos[out.Idx(50, 2)][0]; !almostEqual(v, testRestPos[2][0], 0.002) {
		t.Errorf("filtered value %g, want ~%g with the 45 Hz noise removed", v, testRestPos[2][0])
	}
	// Original untouched.
	if v := s.Pos[s.Idx(50, 2)][0]; v != testRestPos[2][0]+noise[50] {
		t.Error("input session was mutated")
	}
}

func TestFilterSessionPositionsPerRegion(t *testing.T) {
	s := stillSession(t, 2, 120)
	noise := sine(s.NumFrames(), s.Rate, 45, 0.01)
	for f := 0; f < s.NumFrames(); f++ {
		s.Pos[s.Idx(f, 0)][2] = testRestPos[0][2] + noise[f]
		s.Pos[s.Idx(f, 2)][2] = testRestPos[2][2] + noise[f]
	}

	decisions := []FilterDecision{
		{Region: RegionTrunk, SelectedHz: 4, Result: OK()},
		{Region: RegionDistal, SelectedHz: 8, Result: OK()},
	}
	out, err := FilterSessionPositions(s, decisions)
	if err != nil {
		t.Fatalf("FilterSessionPositions: %v", err)
	}
	if v := out.Pos[out.Idx(120, 0)][2]; !almostEqual(v, testRestPos[0][2], 0.002) {
		t.Errorf("trunk joint not smoothed: %g", v)
	}
	if v := out.Pos[out.Idx(120, 2)][2]; !almostEqual(v, testRestPos[2][2], 0.002) {
		t.Errorf("distal joint not smoothed: %g", v)
	}
}

func TestFilterSessionPositionsGlobalFallback(t *testing.T) {
	s := stillSession(t, 1, 120)
	decisions := []FilterDecision{{Region: GlobalRegion, SelectedHz: 6, Result: OK()}}
	if _, err := FilterSessionPositions(s, decisions); err != nil {
		t.Fatalf("global decision did not apply to all joints: %v", err)
	}
}
