package mocap

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Position interpolation modes.
const (
	InterpLinear = "linear"
	InterpCubic  = "cubic" // monotone cubic (Fritsch-Butland)
)

// ResampleConfig controls grid construction and artifact masking.
type ResampleConfig struct {
	// TargetRate is the output frame rate in Hz.
	TargetRate float64

	// PositionInterp selects InterpLinear or InterpCubic.
	PositionInterp string

	// MADSigmaThreshold masks a per-axis velocity sample whose robust
	// z-score exceeds this value.
	MADSigmaThreshold float64

	// MADFloorMps floors the robust sigma so stationary joints are not
	// over-masked by their own noise floor.
	MADFloorMps float64

	// MaskDilation expands each masked run by this many samples on both
	// sides to cover artifact ramp-in and ramp-out.
	MaskDilation int

	// MaxBridgeSeconds is the longest masked gap the interpolator may
	// close. Longer gaps, and gaps touching the sequence boundary, stay
	// unfilled.
	MaxBridgeSeconds float64
}

// DefaultResampleConfig returns the defaults used for 120 Hz capture.
func DefaultResampleConfig() ResampleConfig {
	return ResampleConfig{
		TargetRate:        120,
		PositionInterp:    InterpCubic,
		MADSigmaThreshold: 6,
		MADFloorMps:       0.05,
		MaskDilation:      2,
		MaxBridgeSeconds:  0.25,
	}
}

// ResampleReport records what the resampler did, for the temporal gate.
type ResampleReport struct {
	Result StageResult `json:"result"`

	GridFrames       int         `json:"grid_frames"`
	GridDeltaStdDev  float64     `json:"grid_delta_std_dev"`
	SourceMeanDelta  float64     `json:"source_mean_delta_s"`
	SourceJitter     float64     `json:"source_jitter_s"`
	SourceMaxGap     float64     `json:"source_max_gap_s"`
	MaskedSamples    int         `json:"masked_samples"`
	UnfilledSamples  int         `json:"unfilled_samples"`
	BridgedGaps      int         `json:"bridged_gaps"`
	LongestBridgedS  float64     `json:"longest_bridged_s"`
	FallbackRate     float64     `json:"fallback_rate"`
	OrientationDrift DriftReport `json:"orientation_drift"`
}

// UniformGrid builds the output time base index-wise as t0 + i/fs.
// Repeated addition would accumulate float error and give the grid a
// measurable delta variance; the index form keeps it at machine epsilon.
// The grid covers [t0, t1] exactly, never extrapolating past t1.
func UniformGrid(t0, t1, fs float64) []float64 {
	if fs <= 0 || t1 < t0 {
		return nil
	}
	n := int(math.Floor((t1-t0)*fs+1e-9)) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = t0 + float64(i)/fs
	}
	return grid
}

// gridDeltaStdDev measures the delta spread of a grid; an invariant check
// surfaced on the report rather than asserted.
func gridDeltaStdDev(grid []float64) float64 {
	if len(grid) < 3 {
		return 0
	}
	var sum float64
	deltas := make([]float64, len(grid)-1)
	for i := 1; i < len(grid); i++ {
		deltas[i-1] = grid[i] - grid[i-1]
		sum += deltas[i-1]
	}
	mean := sum / float64(len(deltas))
	var ss float64
	for _, d := range deltas {
		ss += (d - mean) * (d - mean)
	}
	return math.Sqrt(ss / float64(len(deltas)))
}

// medianOf returns the median of values (values is clobbered).
func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// madSigma estimates a normal-equivalent sigma from the median absolute
// deviation (scale factor 1.4826).
func madSigma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	work := append([]float64(nil), values...)
	med := medianOf(work)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - med)
	}
	return 1.4826 * medianOf(dev)
}

// detectVelocityArtifacts flags raw position samples whose per-axis
// finite-difference velocity is a robust outlier, then dilates each
// flagged run to cover the ramp in and out of the spike.
func detectVelocityArtifacts(times []float64, pos []Vec3, cfg ResampleConfig) []bool {
	n := len(times)
	mask := make([]bool, n)
	if n < 3 {
		return mask
	}

	for axis := 0; axis < 3; axis++ {
		vel := make([]float64, 0, n-1)
		for i := 1; i < n; i++ {
			dt := times[i] - times[i-1]
			if dt <= 0 {
				continue
			}
			vel = append(vel, (pos[i][axis]-pos[i-1][axis])/dt)
		}
		sigma := madSigma(vel)
		if sigma < cfg.MADFloorMps {
			sigma = cfg.MADFloorMps
		}
		med := medianOf(append([]float64(nil), vel...))

		for i := 1; i < n; i++ {
			dt := times[i] - times[i-1]
			if dt <= 0 {
				continue
			}
			v := (pos[i][axis] - pos[i-1][axis]) / dt
			if math.Abs(v-med) > cfg.MADSigmaThreshold*sigma {
				mask[i] = true
				mask[i-1] = true
			}
		}
	}

	if cfg.MaskDilation > 0 {
		dilated := make([]bool, n)
		copy(dilated, mask)
		for i, m := range mask {
			if !m {
				continue
			}
			lo := i - cfg.MaskDilation
			hi := i + cfg.MaskDilation
			if lo < 0 {
				lo = 0
			}
			if hi > n-1 {
				hi = n - 1
			}
			for j := lo; j <= hi; j++ {
				dilated[j] = true
			}
		}
		mask = dilated
	}
	return mask
}

// axisPredictor fits a 1-D interpolator over the valid samples of one
// position axis.
func axisPredictor(mode string, xs, ys []float64) (interp.Predictor, error) {
	switch mode {
	case InterpCubic:
		var fb interp.FritschButland
		if err := fb.Fit(xs, ys); err != nil {
			return nil, err
		}
		return &fb, nil
	case InterpLinear:
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, err
		}
		return &pl, nil
	default:
		return nil, fmt.Errorf("unknown interpolation mode %q", mode)
	}
}

// Resample converts raw, irregularly-timed samples onto a uniform grid at
// cfg.TargetRate. Orientation channels must be complete (Validate enforces
// this); masked or missing position samples are bridged only when the gap
// is interior and shorter than the bridge ceiling.
func Resample(raw *RawSession, cfg ResampleConfig) (*Session, *ResampleReport, error) {
	if err := raw.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.TargetRate <= 0 {
		return nil, nil, fmt.Errorf("run %s: non-positive target rate %g", raw.RunID, cfg.TargetRate)
	}

	grid := UniformGrid(raw.Times[0], raw.Times[len(raw.Times)-1], cfg.TargetRate)
	if len(grid) < 2 {
		return nil, nil, fmt.Errorf("run %s: recording too short to resample (%d grid frames)", raw.RunID, len(grid))
	}

	nj := raw.Skeleton.NumJoints()
	nf := len(grid)
	out := &Session{
		RunID:    raw.RunID,
		Skeleton: raw.Skeleton,
		Rate:     cfg.TargetRate,
		Times:    grid,
		Quats:    make([]Quat, nf*nj),
		Pos:      make([]Vec3, nf*nj),
	}

	report := &ResampleReport{
		GridFrames:      nf,
		GridDeltaStdDev: gridDeltaStdDev(grid),
	}
	report.SourceMeanDelta, report.SourceJitter, report.SourceMaxGap = raw.SourceJitter()

	for j := 0; j < nj; j++ {
		// Orientation: hemisphere-align the input keyframes, then slerp.
		track := make([]Quat, raw.NumFrames())
		for f := range track {
			track[f] = raw.Quats[raw.Idx(f, j)]
		}
		drift := DetectDrift(track)
		if drift.MaxNormError > report.OrientationDrift.MaxNormError {
			report.OrientationDrift = drift
		}
		if err := CorrectDrift(track); err != nil {
			return nil, nil, fmt.Errorf("run %s joint %q: %w", raw.RunID, raw.Skeleton.Names[j], err)
		}

		seg := 0
		for f, t := range grid {
			for seg < len(raw.Times)-2 && raw.Times[seg+1] < t {
				seg++
			}
			t0, t1 := raw.Times[seg], raw.Times[seg+1]
			u := 0.0
			if t1 > t0 {
				u = (t - t0) / (t1 - t0)
			}
			if u < 0 {
				u = 0
			}
			if u > 1 {
				u = 1
			}
			out.Quats[out.Idx(f, j)] = track[seg].Slerp(track[seg+1], u)
		}

		// Positions: mask velocity artifacts, fit over valid samples,
		// then refuse grid points in boundary windows or over-long gaps.
		ppos := make([]Vec3, raw.NumFrames())
		for f := range ppos {
			ppos[f] = raw.Pos[raw.Idx(f, j)]
		}
		mask := detectVelocityArtifacts(raw.Times, ppos, cfg)
		for f := range ppos {
			if mask[f] {
				report.MaskedSamples++
			}
		}

		for axis := 0; axis < 3; axis++ {
			xs := make([]float64, 0, raw.NumFrames())
			ys := make([]float64, 0, raw.NumFrames())
			for f := 0; f < raw.NumFrames(); f++ {
				v := ppos[f][axis]
				if mask[f] || math.IsNaN(v) {
					continue
				}
				xs = append(xs, raw.Times[f])
				ys = append(ys, v)
			}
			if len(xs) < 2 {
				return nil, nil, fmt.Errorf("run %s joint %q axis %d: fewer than two valid position samples",
					raw.RunID, raw.Skeleton.Names[j], axis)
			}

			pred, err := axisPredictor(cfg.PositionInterp, xs, ys)
			if err != nil {
				return nil, nil, fmt.Errorf("run %s joint %q axis %d: %w", raw.RunID, raw.Skeleton.Names[j], axis, err)
			}

			lastCountedGap := -1.0
			for f, t := range grid {
				idx := out.Idx(f, j)
				switch {
				case t < xs[0] || t > xs[len(xs)-1]:
					// Boundary window: never filled.
					out.Pos[idx][axis] = math.NaN()
					report.UnfilledSamples++
				default:
					k := sort.SearchFloat64s(xs, t)
					if k > 0 && k < len(xs) && xs[k] != t {
						gap := xs[k] - xs[k-1]
						if gap > cfg.MaxBridgeSeconds {
							out.Pos[idx][axis] = math.NaN()
							report.UnfilledSamples++
							continue
						}
						srcDelta := report.SourceMeanDelta
						if srcDelta > 0 && gap > 1.5*srcDelta && xs[k-1] != lastCountedGap {
							lastCountedGap = xs[k-1]
							report.BridgedGaps++
							if gap > report.LongestBridgedS {
								report.LongestBridgedS = gap
							}
						}
					}
					out.Pos[idx][axis] = pred.Predict(t)
				}
			}
		}
	}

	total := nf * nj * 3
	report.FallbackRate = float64(report.UnfilledSamples) / float64(total)
	switch {
	case report.FallbackRate > 0.05:
		report.Result = Degraded(fmt.Sprintf("%.1f%% of grid positions unfilled (boundary or over-long gaps)", report.FallbackRate*100))
	case report.OrientationDrift.Quality == DriftPoor:
		report.Result = Degraded(fmt.Sprintf("orientation norm drift %s (max error %.2g)", report.OrientationDrift.Quality, report.OrientationDrift.MaxNormError))
	default:
		report.Result = OK()
	}
	return out, report, nil
}
