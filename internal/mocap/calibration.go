package mocap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Calibration window detection methods recorded as provenance.
const (
	CalibWindowThreshold = "threshold"
	CalibWindowFallback  = "lowest_motion_fallback"
)

// CalibrationConfig controls reference-window search and validation.
type CalibrationConfig struct {
	// WindowSeconds is the fixed duration of the candidate window.
	WindowSeconds float64

	// SearchSeconds bounds the search to the start of the recording.
	SearchSeconds float64

	// MotionMeanMaxDeg and MotionVarMaxDeg2 are the acceptance thresholds
	// on frame-to-frame rotational motion inside a candidate window.
	MotionMeanMaxDeg float64
	MotionVarMaxDeg2 float64

	// ReferenceMarkers are the joints whose positional variance scores a
	// candidate window. Empty means all joints.
	ReferenceMarkers []string

	// ReferenceLimb names the proximal and distal joints of the limb
	// checked for systematic elevation (in that order).
	ReferenceLimb [2]string

	// ElevationMaxDeg triggers the pose correction when the reference
	// limb sits further from horizontal than this.
	ElevationMaxDeg float64

	// IdentityTolDeg is the validation gate: re-applying each offset to
	// its window must land within this many degrees of identity.
	IdentityTolDeg float64
}

// DefaultCalibrationConfig returns thresholds tuned for a T-pose hold at
// the start of a dance capture.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		WindowSeconds:    1.0,
		SearchSeconds:    10.0,
		MotionMeanMaxDeg: 0.5,
		MotionVarMaxDeg2: 0.25,
		ReferenceLimb:    [2]string{"left_shoulder", "left_elbow"},
		ElevationMaxDeg:  8.0,
		IdentityTolDeg:   2.0,
	}
}

// Calibration holds one static inverse-rotation offset per joint plus the
// provenance needed for audit. The pose correction is stored separately
// and never baked into the offsets, so it can be applied at one controlled
// point later without mixing frames of reference.
type Calibration struct {
	Offsets []Quat `json:"-"`

	WindowStartS float64 `json:"window_start_s"`
	WindowEndS   float64 `json:"window_end_s"`
	Method       string  `json:"method"`

	PoseCorrection        Quat    `json:"-"`
	PoseCorrectionNeeded  bool    `json:"pose_correction_needed"`
	ReferenceElevationDeg float64 `json:"reference_elevation_deg"`

	// MedianResidualDeg is the per-joint identity-validation residual.
	MedianResidualDeg []float64 `json:"median_residual_deg"`

	Result StageResult `json:"result"`
}

// windowMotion measures frame-to-frame rotational motion across all
// joints inside [start, end): mean and variance of the step angle in
// degrees.
func windowMotion(s *Session, start, end int) (meanDeg, varDeg2 float64) {
	angles := make([]float64, 0, (end-start)*s.Skeleton.NumJoints())
	for j := 0; j < s.Skeleton.NumJoints(); j++ {
		for f := start + 1; f < end; f++ {
			rel := s.Quats[s.Idx(f-1, j)].Inverse().Mul(s.Quats[s.Idx(f, j)])
			angles = append(angles, rel.AngleDeg())
		}
	}
	if len(angles) == 0 {
		return 0, 0
	}
	return stat.Mean(angles, nil), stat.PopVariance(angles, nil)
}

// windowPositionScore sums the positional variance of the reference
// markers over [start, end). Lower means stiller.
func windowPositionScore(s *Session, markers []int, start, end int) float64 {
	var score float64
	for _, j := range markers {
		for axis := 0; axis < 3; axis++ {
			track := make([]float64, 0, end-start)
			for f := start; f < end; f++ {
				v := s.Pos[s.Idx(f, j)][axis]
				if !math.IsNaN(v) {
					track = append(track, v)
				}
			}
			if len(track) > 1 {
				score += stat.PopVariance(track, nil)
			}
		}
	}
	return score
}

// SphericalMean computes the rotation average of a quaternion set as the
// dominant eigenvector of the 4x4 outer-product sum. Unlike a Euclidean
// component average this stays on the rotation manifold and is robust to
// the q/-q ambiguity once the set is hemisphere-aligned.
func SphericalMean(quats []Quat) (Quat, error) {
	if len(quats) == 0 {
		return QuatIdentity(), fmt.Errorf("no quaternions for spherical mean")
	}
	work := append([]Quat(nil), quats...)
	AlignHemisphere(work)

	var m [16]float64
	for _, q := range work {
		v := [4]float64{q.W, q.X, q.Y, q.Z}
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				m[r*4+c] += v[r] * v[c]
			}
		}
	}
	sym := mat.NewSymDense(4, m[:])

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return QuatIdentity(), fmt.Errorf("eigendecomposition failed for spherical mean")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Eigenvalues come back ascending; the dominant eigenvector is last.
	col := 3
	q := Quat{
		W: vecs.At(0, col),
		X: vecs.At(1, col),
		Y: vecs.At(2, col),
		Z: vecs.At(3, col),
	}
	return q.Canonical().Normalize(), nil
}

// alignVectors returns the rotation taking unit direction a onto unit
// direction b.
func alignVectors(a, b Vec3) Quat {
	an, bn := a.Norm(), b.Norm()
	if an < 1e-12 || bn < 1e-12 {
		return QuatIdentity()
	}
	for i := 0; i < 3; i++ {
		a[i] /= an
		b[i] /= bn
	}
	cross := Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	angle := math.Acos(dot)
	cn := cross.Norm()
	if cn < 1e-12 {
		return QuatIdentity()
	}
	return QuatFromRotVec([3]float64{cross[0] / cn * angle, cross[1] / cn * angle, cross[2] / cn * angle})
}

// Calibrate runs the calibration state machine over a resampled session:
// window SEARCH, POSE-CORRECTION detection, per-joint OFFSET computation,
// and identity VALIDATION.
func Calibrate(s *Session, cfg CalibrationConfig) (*Calibration, error) {
	winFrames := int(cfg.WindowSeconds * s.Rate)
	if winFrames < 2 {
		return nil, fmt.Errorf("run %s: calibration window of %g s too short at %g Hz", s.RunID, cfg.WindowSeconds, s.Rate)
	}
	searchFrames := int(cfg.SearchSeconds * s.Rate)
	if searchFrames > s.NumFrames() {
		searchFrames = s.NumFrames()
	}
	if searchFrames < winFrames {
		return nil, fmt.Errorf("run %s: recording too short for calibration search (%d frames, window %d)", s.RunID, searchFrames, winFrames)
	}

	markers := make([]int, 0, len(cfg.ReferenceMarkers))
	for _, name := range cfg.ReferenceMarkers {
		if j := s.Skeleton.Index(name); j >= 0 {
			markers = append(markers, j)
		}
	}
	if len(markers) == 0 {
		for j := 0; j < s.Skeleton.NumJoints(); j++ {
			markers = append(markers, j)
		}
	}

	// SEARCH: first window under both motion thresholds wins; otherwise
	// fall back to the stillest window found and flag it.
	cal := &Calibration{Method: CalibWindowFallback}
	bestStart, bestScore := 0, math.Inf(1)
	found := false
	stride := winFrames / 4
	if stride < 1 {
		stride = 1
	}
	for start := 0; start+winFrames <= searchFrames; start += stride {
		end := start + winFrames
		meanDeg, varDeg2 := windowMotion(s, start, end)
		score := windowPositionScore(s, markers, start, end)
		if score < bestScore {
			bestScore = score
			bestStart = start
		}
		if meanDeg <= cfg.MotionMeanMaxDeg && varDeg2 <= cfg.MotionVarMaxDeg2 {
			bestStart = start
			cal.Method = CalibWindowThreshold
			found = true
			break
		}
	}
	winStart, winEnd := bestStart, bestStart+winFrames
	cal.WindowStartS = s.Times[winStart]
	cal.WindowEndS = s.Times[winEnd-1]

	// POSE-CORRECTION: detect systematic elevation of the reference limb
	// relative to horizontal. The corrective rotation is stored on the
	// side; offsets below are computed from the uncorrected data.
	cal.PoseCorrection = QuatIdentity()
	pj := s.Skeleton.Index(cfg.ReferenceLimb[0])
	dj := s.Skeleton.Index(cfg.ReferenceLimb[1])
	if pj >= 0 && dj >= 0 {
		var limb Vec3
		valid := 0
		for f := winStart; f < winEnd; f++ {
			d := s.Pos[s.Idx(f, dj)].Sub(s.Pos[s.Idx(f, pj)])
			if math.IsNaN(d[0]) || math.IsNaN(d[1]) || math.IsNaN(d[2]) {
				continue
			}
			for i := 0; i < 3; i++ {
				limb[i] += d[i]
			}
			valid++
		}
		if valid > 0 {
			for i := 0; i < 3; i++ {
				limb[i] /= float64(valid)
			}
			if n := limb.Norm(); n > 1e-9 {
				cal.ReferenceElevationDeg = math.Asin(limb[2]/n) * 180 / math.Pi
				if math.Abs(cal.ReferenceElevationDeg) > cfg.ElevationMaxDeg {
					horizontal := Vec3{limb[0], limb[1], 0}
					cal.PoseCorrection = alignVectors(limb, horizontal)
					cal.PoseCorrectionNeeded = true
				}
			}
		}
	}

	// OFFSET: robust spherical mean per joint, inverse stored.
	nj := s.Skeleton.NumJoints()
	cal.Offsets = make([]Quat, nj)
	cal.MedianResidualDeg = make([]float64, nj)
	for j := 0; j < nj; j++ {
		window := make([]Quat, 0, winFrames)
		for f := winStart; f < winEnd; f++ {
			window = append(window, s.Quats[s.Idx(f, j)])
		}
		if len(window) == 0 {
			return nil, fmt.Errorf("run %s joint %q: zero valid points in calibration window", s.RunID, s.Skeleton.Names[j])
		}
		mean, err := SphericalMean(window)
		if err != nil {
			return nil, fmt.Errorf("run %s joint %q: %w", s.RunID, s.Skeleton.Names[j], err)
		}
		cal.Offsets[j] = mean.Inverse()

		// VALIDATION: offset applied over the window must land near
		// identity. This is the only pass/fail gate at this stage;
		// anatomical-plausibility checks are advisory and live with the
		// quality gates.
		residuals := make([]float64, len(window))
		for i, q := range window {
			residuals[i] = cal.Offsets[j].Mul(q).AngleDeg()
		}
		cal.MedianResidualDeg[j] = medianOf(residuals)
	}

	worst := 0.0
	worstJoint := ""
	for j, r := range cal.MedianResidualDeg {
		if r > worst {
			worst = r
			worstJoint = s.Skeleton.Names[j]
		}
	}
	switch {
	case worst > cfg.IdentityTolDeg:
		cal.Result = Failed(fmt.Sprintf("offset validation failed: joint %q median residual %.2f° exceeds %.2f° tolerance",
			worstJoint, worst, cfg.IdentityTolDeg))
	case !found:
		cal.Result = Degraded(fmt.Sprintf("no window met motion thresholds in first %.0f s; using lowest-motion fallback at %.2f s",
			cfg.SearchSeconds, cal.WindowStartS))
	default:
		cal.Result = OK()
	}
	return cal, nil
}
