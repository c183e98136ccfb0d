package mocap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Cutoff selection methods recorded on the decision for audit.
const (
	CutoffMethodStrictKnee   = "strict_knee"
	CutoffMethodRelaxedKnee  = "relaxed_knee"
	CutoffMethodSteepestDrop = "steepest_drop"
	CutoffMethodNone         = "none"
)

// GlobalRegion labels a decision made over the whole body rather than one
// body region.
const GlobalRegion BodyRegion = "global"

// CutoffConfig controls the residual-curve search.
type CutoffConfig struct {
	MinHz int
	MaxHz int

	// StrictKneeTol and RelaxedKneeTol accept the smallest cutoff whose
	// residual is within the given fraction of the floor residual at MaxHz.
	StrictKneeTol  float64
	RelaxedKneeTol float64

	// SteepestDropFloorHz clamps the steepest-relative-drop candidate.
	SteepestDropFloorHz int

	// RegionFloorHz clamps the final selection per body region; distal
	// segments carry faster real motion and need a higher floor.
	RegionFloorHz map[BodyRegion]int

	// PerRegion selects the canonical per-region mode; when false a single
	// global decision is made instead. The two modes never both run.
	PerRegion bool
}

// DefaultCutoffConfig returns the search range used for dance capture.
func DefaultCutoffConfig() CutoffConfig {
	return CutoffConfig{
		MinHz:               2,
		MaxHz:               20,
		StrictKneeTol:       0.05,
		RelaxedKneeTol:      0.10,
		SteepestDropFloorHz: 3,
		RegionFloorHz: map[BodyRegion]int{
			RegionTrunk:  4,
			RegionDistal: 8,
		},
		PerRegion: true,
	}
}

// FilterDecision is the session-scoped (or region-scoped) record of a
// cutoff choice, persisted for audit alongside the residual curve.
type FilterDecision struct {
	Region      BodyRegion  `json:"region"`
	SelectedHz  int         `json:"selected_hz"`
	SearchMinHz int         `json:"search_min_hz"`
	SearchMaxHz int         `json:"search_max_hz"`
	Method      string      `json:"method"`
	Signals     []string    `json:"signals"`
	ResidualRMS []float64   `json:"residual_rms"` // index 0 = MinHz
	Result      StageResult `json:"result"`

	// Failed marks a decision that collapsed to the search ceiling or had
	// no usable signal content. Callers may accept this explicitly; it is
	// never silently replaced with a default.
	Failed bool `json:"failed"`
}

// detrend removes the least-squares line from signal.
func detrend(signal []float64) []float64 {
	n := len(signal)
	out := make([]float64, n)
	if n < 2 {
		copy(out, signal)
		return out
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, signal, nil, false)
	for i, v := range signal {
		out[i] = v - (alpha + beta*xs[i])
	}
	return out
}

// residualCurve evaluates the zero-phase filter at every integer cutoff in
// [minHz, maxHz] and returns the residual RMS at each. The curve is
// monotonically non-increasing for well-behaved signals.
func residualCurve(signal []float64, rate float64, minHz, maxHz int) ([]float64, error) {
	if minHz < 1 || maxHz <= minHz {
		return nil, fmt.Errorf("invalid cutoff search range [%d, %d]", minHz, maxHz)
	}
	if float64(maxHz) >= rate/2 {
		return nil, fmt.Errorf("cutoff search ceiling %d Hz at or above Nyquist (%g Hz)", maxHz, rate/2)
	}
	curve := make([]float64, maxHz-minHz+1)
	for fc := minHz; fc <= maxHz; fc++ {
		filtered, err := LowPassZeroPhase(signal, float64(fc), rate)
		if err != nil {
			return nil, err
		}
		var ss float64
		for i := range signal {
			d := signal[i] - filtered[i]
			ss += d * d
		}
		curve[fc-minHz] = math.Sqrt(ss / float64(len(signal)))
	}
	return curve, nil
}

// SelectCutoff chooses a low-pass cutoff for one detrended signal by
// combining three heuristics and taking the most conservative (lowest)
// plausible answer:
//
//  1. strict knee: smallest cutoff whose residual is within StrictKneeTol
//     of the floor residual at MaxHz,
//  2. relaxed knee: same with RelaxedKneeTol,
//  3. steepest relative decrease of the residual curve, clamped to
//     SteepestDropFloorHz.
//
// A flat (near-zero-variance) signal, or a curve whose only viable answer
// is MaxHz itself, is an explicit failure: it means the signal was already
// smoothed upstream or carries no usable high-frequency content.
func SelectCutoff(signal []float64, rate float64, cfg CutoffConfig) (FilterDecision, error) {
	dec := FilterDecision{
		Region:      GlobalRegion,
		SearchMinHz: cfg.MinHz,
		SearchMaxHz: cfg.MaxHz,
		Method:      CutoffMethodNone,
		SelectedHz:  cfg.MaxHz,
	}

	work := detrend(signal)
	if stat.Variance(work, nil) < 1e-12 {
		dec.Failed = true
		dec.Result = Failed("zero-variance signal: nothing to select a cutoff from")
		return dec, nil
	}

	curve, err := residualCurve(work, rate, cfg.MinHz, cfg.MaxHz)
	if err != nil {
		return dec, err
	}
	out, err := selectFromCurve(curve, cfg)
	if err != nil {
		return dec, err
	}
	out.Region = GlobalRegion
	return out, nil
}

// representativeSignal extracts the detrended highest-variance position
// axis of joint j, the signal most likely to expose the noise knee.
func representativeSignal(s *Session, j int) []float64 {
	best := 0
	bestVar := -1.0
	tracks := make([][]float64, 3)
	for axis := 0; axis < 3; axis++ {
		track := make([]float64, 0, s.NumFrames())
		for f := 0; f < s.NumFrames(); f++ {
			v := s.Pos[s.Idx(f, j)][axis]
			if !math.IsNaN(v) {
				track = append(track, v)
			}
		}
		tracks[axis] = track
		if len(track) < 2 {
			continue
		}
		if v := stat.Variance(track, nil); v > bestVar {
			bestVar = v
			best = axis
		}
	}
	return tracks[best]
}

// SelectSessionCutoffs makes the canonical cutoff decision(s) for a
// session: one per body region when cfg.PerRegion is set, otherwise a
// single global decision. Region floors are applied after selection and
// recorded on the decision when they raise it.
func SelectSessionCutoffs(s *Session, cfg CutoffConfig) ([]FilterDecision, error) {
	groups := map[BodyRegion][]int{}
	if cfg.PerRegion {
		for j := 0; j < s.Skeleton.NumJoints(); j++ {
			r := s.Skeleton.Region[j]
			groups[r] = append(groups[r], j)
		}
	} else {
		all := make([]int, s.Skeleton.NumJoints())
		for j := range all {
			all[j] = j
		}
		groups[GlobalRegion] = all
	}

	decisions := make([]FilterDecision, 0, len(groups))
	for _, region := range []BodyRegion{RegionTrunk, RegionDistal, GlobalRegion} {
		joints, ok := groups[region]
		if !ok || len(joints) == 0 {
			continue
		}
		// Average the residual curves of up to three representative
		// joints so one noisy marker cannot dominate the knee.
		reps := joints
		if len(reps) > 3 {
			reps = pickSpread(joints, 3)
		}

		var merged FilterDecision
		var acc []float64
		names := make([]string, 0, len(reps))
		failures := 0
		for _, j := range reps {
			sig := representativeSignal(s, j)
			dec, err := SelectCutoff(sig, s.Rate, cfg)
			if err != nil {
				return nil, fmt.Errorf("run %s region %s joint %q: %w", s.RunID, region, s.Skeleton.Names[j], err)
			}
			names = append(names, s.Skeleton.Names[j])
			if dec.Failed {
				failures++
				continue
			}
			if acc == nil {
				acc = append([]float64(nil), dec.ResidualRMS...)
			} else {
				floats.Add(acc, dec.ResidualRMS)
			}
		}

		if acc == nil {
			merged = FilterDecision{
				Region:      region,
				SearchMinHz: cfg.MinHz,
				SearchMaxHz: cfg.MaxHz,
				SelectedHz:  cfg.MaxHz,
				Method:      CutoffMethodNone,
				Signals:     names,
				Failed:      true,
				Result:      Failed(fmt.Sprintf("all %d representative signals failed cutoff selection", len(reps))),
			}
			decisions = append(decisions, merged)
			continue
		}
		floats.Scale(1/float64(len(reps)-failures), acc)

		merged, err := selectFromCurve(acc, cfg)
		if err != nil {
			return nil, err
		}
		merged.Region = region
		merged.Signals = names

		if floorHz, ok := cfg.RegionFloorHz[region]; ok && !merged.Failed && merged.SelectedHz < floorHz {
			merged.SelectedHz = floorHz
			merged.Result = Degraded(fmt.Sprintf("selected cutoff raised to %d Hz region floor", floorHz))
		}
		if failures > 0 && !merged.Failed {
			merged.Result = Degraded(fmt.Sprintf("%d of %d representative signals failed selection", failures, len(reps)))
		}
		decisions = append(decisions, merged)
	}
	if len(decisions) == 0 {
		return nil, fmt.Errorf("run %s: no joints available for cutoff selection", s.RunID)
	}
	return decisions, nil
}

// selectFromCurve applies the three knee heuristics to a residual curve
// (single-signal or averaged) and takes the most conservative candidate.
func selectFromCurve(curve []float64, cfg CutoffConfig) (FilterDecision, error) {
	dec := FilterDecision{
		SearchMinHz: cfg.MinHz,
		SearchMaxHz: cfg.MaxHz,
		ResidualRMS: curve,
		SelectedHz:  cfg.MaxHz,
		Method:      CutoffMethodNone,
	}
	floor := curve[len(curve)-1]
	strict, relaxed, steepest := -1, -1, -1
	bestDrop := 0.0
	for i, r := range curve {
		fc := cfg.MinHz + i
		if strict < 0 && r <= floor*(1+cfg.StrictKneeTol) {
			strict = fc
		}
		if relaxed < 0 && r <= floor*(1+cfg.RelaxedKneeTol) {
			relaxed = fc
		}
		if i > 0 && curve[i-1] > 0 {
			if drop := (curve[i-1] - r) / curve[i-1]; drop > bestDrop {
				bestDrop = drop
				steepest = fc
			}
		}
	}
	if steepest >= 0 && steepest < cfg.SteepestDropFloorHz {
		steepest = cfg.SteepestDropFloorHz
	}
	selected, method := cfg.MaxHz, CutoffMethodNone
	consider := func(fc int, m string) {
		if fc > 0 && fc < selected {
			selected, method = fc, m
		}
	}
	consider(strict, CutoffMethodStrictKnee)
	consider(relaxed, CutoffMethodRelaxedKnee)
	consider(steepest, CutoffMethodSteepestDrop)

	dec.SelectedHz = selected
	dec.Method = method
	if selected >= cfg.MaxHz {
		dec.Failed = true
		dec.Result = Failed(fmt.Sprintf("cutoff collapsed to search ceiling %d Hz: no knee in residual curve", cfg.MaxHz))
		return dec, nil
	}
	dec.Result = OK()
	return dec, nil
}

// pickSpread selects k joints spread evenly across the group.
func pickSpread(joints []int, k int) []int {
	out := make([]int, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, joints[i*(len(joints)-1)/(k-1)])
	}
	return out
}
