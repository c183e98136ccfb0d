package mocap

import (
	"fmt"
	"math"
)

// butterworth2 holds second-order low-pass coefficients from the bilinear
// transform of the analog Butterworth prototype.
type butterworth2 struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func newButterworth2(cutoffHz, sampleRate float64) (butterworth2, error) {
	if sampleRate <= 0 {
		return butterworth2{}, fmt.Errorf("non-positive sample rate %g", sampleRate)
	}
	nyquist := sampleRate / 2
	if cutoffHz <= 0 || cutoffHz >= nyquist {
		return butterworth2{}, fmt.Errorf("cutoff %g Hz outside (0, %g)", cutoffHz, nyquist)
	}
	wc := math.Tan(math.Pi * cutoffHz / sampleRate)
	k1 := math.Sqrt2 * wc
	k2 := wc * wc
	a0 := 1 + k1 + k2
	return butterworth2{
		b0: k2 / a0,
		b1: 2 * k2 / a0,
		b2: k2 / a0,
		a1: 2 * (k2 - 1) / a0,
		a2: (1 - k1 + k2) / a0,
	}, nil
}

// apply runs the biquad recurrence over x, seeding the delay line with
// the first sample to suppress the startup transient.
func (f butterworth2) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	x1, x2 := x[0], x[0]
	y1, y2 := x[0], x[0]
	for i, v := range x {
		out := f.b0*v + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, out
		y[i] = out
	}
	return y
}

// filtfiltPadLen is the reflective pad applied on each side before the
// forward-backward pass, long enough to absorb the filter transient.
const filtfiltPadLen = 12

// LowPassZeroPhase applies a second-order Butterworth low-pass forward
// and backward so the output has no phase lag relative to the input.
// The signal is extended on both sides by point reflection before
// filtering and the pad is stripped afterwards.
//
// This stage is for position channels only; orientation channels are
// interpolated on the rotation manifold and never run through here.
func LowPassZeroPhase(signal []float64, cutoffHz, sampleRate float64) ([]float64, error) {
	f, err := newButterworth2(cutoffHz, sampleRate)
	if err != nil {
		return nil, err
	}
	n := len(signal)
	if n == 0 {
		return nil, nil
	}
	pad := filtfiltPadLen
	if pad > n-1 {
		pad = n - 1
	}
	if pad < 1 {
		return append([]float64(nil), signal...), nil
	}

	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		// Point reflection: 2*edge - mirror, preserves slope at the edge.
		ext[i] = 2*signal[0] - signal[pad-i]
		ext[n+pad+i] = 2*signal[n-1] - signal[n-2-i]
	}
	copy(ext[pad:], signal)

	fwd := f.apply(ext)
	reverse(fwd)
	bwd := f.apply(fwd)
	reverse(bwd)

	return bwd[pad : pad+n], nil
}

// FilterPositions low-passes every position axis of the session in a new
// session; unfilled (NaN) stretches are left untouched, with each finite
// run filtered independently.
func FilterPositions(s *Session, cutoffHz float64) (*Session, error) {
	out := s.Clone()
	nj := s.Skeleton.NumJoints()
	nf := s.NumFrames()

	for j := 0; j < nj; j++ {
		for axis := 0; axis < 3; axis++ {
			track := make([]float64, nf)
			for f := 0; f < nf; f++ {
				track[f] = s.Pos[s.Idx(f, j)][axis]
			}
			filtered, err := filterFiniteRuns(track, cutoffHz, s.Rate)
			if err != nil {
				return nil, fmt.Errorf("run %s joint %q axis %d: %w", s.RunID, s.Skeleton.Names[j], axis, err)
			}
			for f := 0; f < nf; f++ {
				out.Pos[out.Idx(f, j)][axis] = filtered[f]
			}
		}
	}
	return out, nil
}

// FilterSessionPositions applies the per-region (or global) cutoff
// decisions to a session's position channels, returning a new session.
// A failed decision still carries its ceiling cutoff; applying it is the
// caller's explicit acceptance and the filtering gate flags it anyway.
func FilterSessionPositions(s *Session, decisions []FilterDecision) (*Session, error) {
	cutoffByRegion := map[BodyRegion]int{}
	for _, d := range decisions {
		cutoffByRegion[d.Region] = d.SelectedHz
	}

	out := s.Clone()
	nf := s.NumFrames()
	for j := 0; j < s.Skeleton.NumJoints(); j++ {
		cutoff, ok := cutoffByRegion[s.Skeleton.Region[j]]
		if !ok {
			cutoff, ok = cutoffByRegion[GlobalRegion]
		}
		if !ok {
			return nil, fmt.Errorf("run %s joint %q: no cutoff decision for region %q", s.RunID, s.Skeleton.Names[j], s.Skeleton.Region[j])
		}
		for axis := 0; axis < 3; axis++ {
			track := make([]float64, nf)
			for f := 0; f < nf; f++ {
				track[f] = s.Pos[s.Idx(f, j)][axis]
			}
			filtered, err := filterFiniteRuns(track, float64(cutoff), s.Rate)
			if err != nil {
				return nil, fmt.Errorf("run %s joint %q axis %d: %w", s.RunID, s.Skeleton.Names[j], axis, err)
			}
			for f := 0; f < nf; f++ {
				out.Pos[out.Idx(f, j)][axis] = filtered[f]
			}
		}
	}
	return out, nil
}

// filterFiniteRuns filters each maximal NaN-free run of track separately.
// Runs shorter than the pad length pass through unchanged; there is not
// enough support to filter them without smearing the edges.
func filterFiniteRuns(track []float64, cutoffHz, sampleRate float64) ([]float64, error) {
	out := append([]float64(nil), track...)
	start := -1
	flush := func(end int) error {
		if start < 0 {
			return nil
		}
		run := track[start:end]
		if len(run) > filtfiltPadLen {
			filtered, err := LowPassZeroPhase(run, cutoffHz, sampleRate)
			if err != nil {
				return err
			}
			copy(out[start:end], filtered)
		}
		start = -1
		return nil
	}
	for i, v := range track {
		if math.IsNaN(v) {
			if err := flush(i); err != nil {
				return nil, err
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if err := flush(len(track)); err != nil {
		return nil, err
	}
	return out, nil
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
