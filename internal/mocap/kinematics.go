package mocap

import (
	"fmt"
	"math"

	"github.com/pconstantinou/savitzkygolay"

	"github.com/banshee-data/kinematics.report/internal/units"
)

const radToDeg = units.DegPerRad

// KinematicsConfig controls derivative estimation.
type KinematicsConfig struct {
	// SavGolWindow and SavGolOrder configure the smoothing polynomial
	// differentiator used for accelerations and linear derivatives.
	// Window must be odd and larger than the order.
	SavGolWindow int
	SavGolOrder  int
}

// DefaultKinematicsConfig returns the differentiator settings used at
// 120 Hz.
func DefaultKinematicsConfig() KinematicsConfig {
	return KinematicsConfig{
		SavGolWindow: 11,
		SavGolOrder:  3,
	}
}

// Kinematics holds the derived signals for one session. All arenas are
// frame-major like the session's own (index = frame*NumJoints + joint).
// A Kinematics value is never mutated after derivation; the repair path
// derives a patched copy scoped to the affected joints.
type Kinematics struct {
	Session *Session

	// Local is the parent-relative orientation per joint per frame.
	Local []Quat

	// RotVecDeg is the rotation vector relative to the calibrated
	// reference, in degrees.
	RotVecDeg []Vec3

	// AngVelDeg is angular velocity in deg/s from the quaternion-log
	// method.
	AngVelDeg []Vec3

	// AngAccDeg is angular acceleration in deg/s².
	AngAccDeg []Vec3

	// LinVel and LinAcc are world-frame linear derivatives; RootRelVel is
	// linear velocity relative to the root joint.
	LinVel     []Vec3
	LinAcc     []Vec3
	RootRelVel []Vec3

	// NoiseRatio is advisory telemetry per joint: the ratio of angular
	// acceleration spread from the smoothing differentiator versus naive
	// central differencing. Nothing gates on it.
	NoiseRatio []float64

	refs []Quat
	cal  *Calibration
	cfg  KinematicsConfig
}

// Idx returns the arena index for (frame, joint).
func (k *Kinematics) Idx(frame, joint int) int {
	return frame*k.Session.Skeleton.NumJoints() + joint
}

// correctedGlobal returns the global orientation of (frame, joint) with
// the calibration's pose correction applied. This is the single
// controlled point where the separately-stored correction enters the
// pipeline.
func (k *Kinematics) correctedGlobal(frame, joint int) Quat {
	g := k.Session.Quats[k.Session.Idx(frame, joint)]
	if k.cal != nil && k.cal.PoseCorrectionNeeded {
		g = k.cal.PoseCorrection.Mul(g)
	}
	return g
}

// deriveLocal recomputes joint j's parent-relative orientation track.
func (k *Kinematics) deriveLocal(j int) {
	sk := k.Session.Skeleton
	p := sk.Parent[j]
	for f := 0; f < k.Session.NumFrames(); f++ {
		g := k.correctedGlobal(f, j)
		if p < 0 {
			k.Local[k.Idx(f, j)] = g.Normalize()
			continue
		}
		k.Local[k.Idx(f, j)] = k.correctedGlobal(f, p).Inverse().Mul(g).Normalize()
	}
}

// referenceLocals converts the calibration's per-joint global reference
// rotations into parent-relative references along the same hierarchy.
func referenceLocals(sk *Skeleton, cal *Calibration) []Quat {
	refs := make([]Quat, sk.NumJoints())
	for j := range refs {
		mean := cal.Offsets[j].Inverse()
		p := sk.Parent[j]
		if p < 0 {
			refs[j] = mean
			continue
		}
		parentMean := cal.Offsets[p].Inverse()
		refs[j] = parentMean.Inverse().Mul(mean)
	}
	return refs
}

// QuatLogAngularVelocity estimates angular velocity (deg/s) for one
// joint's orientation track by the quaternion-logarithm method: the log
// map of the relative rotation between neighbouring frames divided by the
// time step. It is robust near small rotations and never leaves the
// rotation manifold, unlike naive component differencing.
func QuatLogAngularVelocity(track []Quat, dt float64) []Vec3 {
	n := len(track)
	out := make([]Vec3, n)
	if n < 2 || dt <= 0 {
		return out
	}
	aligned := append([]Quat(nil), track...)
	AlignHemisphere(aligned)

	logStep := func(a, b Quat, h float64) Vec3 {
		rv := a.Inverse().Mul(b).RotVec()
		return Vec3{rv[0] / h * radToDeg, rv[1] / h * radToDeg, rv[2] / h * radToDeg}
	}
	out[0] = logStep(aligned[0], aligned[1], dt)
	out[n-1] = logStep(aligned[n-2], aligned[n-1], dt)
	for f := 1; f < n-1; f++ {
		out[f] = logStep(aligned[f-1], aligned[f+1], 2*dt)
	}
	return out
}

// FivePointAngularVelocity is the validation estimator: the least-squares
// five-point derivative over the reference-relative rotation-vector
// components. The wider support averages high-frequency noise down where
// naive central differencing passes it through; it exists to cross-check
// the quaternion-log method, not to replace it.
func FivePointAngularVelocity(rotVecDeg []Vec3, dt float64) []Vec3 {
	n := len(rotVecDeg)
	out := make([]Vec3, n)
	if n < 5 || dt <= 0 {
		return out
	}
	for f := 2; f < n-2; f++ {
		for axis := 0; axis < 3; axis++ {
			out[f][axis] = (2*rotVecDeg[f+2][axis] + rotVecDeg[f+1][axis] -
				rotVecDeg[f-1][axis] - 2*rotVecDeg[f-2][axis]) / (10 * dt)
		}
	}
	// Edges fall back to one-sided differences.
	for _, f := range []int{0, 1} {
		for axis := 0; axis < 3; axis++ {
			out[f][axis] = (rotVecDeg[f+1][axis] - rotVecDeg[f][axis]) / dt
		}
	}
	for _, f := range []int{n - 2, n - 1} {
		for axis := 0; axis < 3; axis++ {
			out[f][axis] = (rotVecDeg[f][axis] - rotVecDeg[f-1][axis]) / dt
		}
	}
	return out
}

// savGolDerivative runs the Savitzky-Golay smoothing differentiator over
// each axis of track.
func savGolDerivative(track []Vec3, times []float64, window, order int) ([]Vec3, error) {
	filter, err := savitzkygolay.NewFilter(window, 1, order)
	if err != nil {
		return nil, fmt.Errorf("savitzky-golay filter: %w", err)
	}
	n := len(track)
	out := make([]Vec3, n)
	axisBuf := make([]float64, n)
	for axis := 0; axis < 3; axis++ {
		for f := 0; f < n; f++ {
			axisBuf[f] = track[f][axis]
		}
		d, err := filter.Process(axisBuf, times)
		if err != nil {
			return nil, fmt.Errorf("savitzky-golay process: %w", err)
		}
		for f := 0; f < n; f++ {
			out[f][axis] = d[f]
		}
	}
	return out, nil
}

// centralDifference differences a Vec3 track with the naive two-point
// central stencil; used only for the advisory noise-ratio telemetry.
func centralDifference(track []Vec3, dt float64) []Vec3 {
	n := len(track)
	out := make([]Vec3, n)
	for f := 1; f < n-1; f++ {
		for axis := 0; axis < 3; axis++ {
			out[f][axis] = (track[f+1][axis] - track[f-1][axis]) / (2 * dt)
		}
	}
	return out
}

func vecSpread(track []Vec3) float64 {
	var sum, ss float64
	n := 0
	for _, v := range track {
		m := v.Norm()
		if math.IsNaN(m) {
			continue
		}
		sum += m
		n++
	}
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	for _, v := range track {
		m := v.Norm()
		if math.IsNaN(m) {
			continue
		}
		ss += (m - mean) * (m - mean)
	}
	return math.Sqrt(ss / float64(n))
}

// deriveJoint computes every derived signal for joint j from the current
// session arrays. Local orientations for j must be current before the
// call.
func (k *Kinematics) deriveJoint(j int) error {
	s := k.Session
	nf := s.NumFrames()
	dt := 1 / s.Rate

	localTrack := make([]Quat, nf)
	for f := 0; f < nf; f++ {
		localTrack[f] = k.Local[k.Idx(f, j)]
	}
	refInv := k.refs[j].Inverse()
	for f := 0; f < nf; f++ {
		rv := refInv.Mul(localTrack[f]).RotVec()
		k.RotVecDeg[k.Idx(f, j)] = Vec3{rv[0] * radToDeg, rv[1] * radToDeg, rv[2] * radToDeg}
	}

	omega := QuatLogAngularVelocity(localTrack, dt)
	for f := 0; f < nf; f++ {
		k.AngVelDeg[k.Idx(f, j)] = omega[f]
	}

	angAcc, err := savGolDerivative(omega, s.Times, k.cfg.SavGolWindow, k.cfg.SavGolOrder)
	if err != nil {
		return fmt.Errorf("joint %q angular acceleration: %w", s.Skeleton.Names[j], err)
	}
	for f := 0; f < nf; f++ {
		k.AngAccDeg[k.Idx(f, j)] = angAcc[f]
	}

	// Advisory: how much noise the smoothing differentiator removed
	// relative to naive central differencing.
	naive := centralDifference(omega, dt)
	if spread := vecSpread(naive); spread > 0 {
		k.NoiseRatio[j] = vecSpread(angAcc) / spread
	}

	root := s.Skeleton.Root()
	pos := make([]Vec3, nf)
	rootRel := make([]Vec3, nf)
	for f := 0; f < nf; f++ {
		pos[f] = s.Pos[s.Idx(f, j)]
		rootRel[f] = pos[f].Sub(s.Pos[s.Idx(f, root)])
	}
	linVel, err := savGolDerivative(pos, s.Times, k.cfg.SavGolWindow, k.cfg.SavGolOrder)
	if err != nil {
		return fmt.Errorf("joint %q linear velocity: %w", s.Skeleton.Names[j], err)
	}
	linAcc, err := savGolDerivative(linVel, s.Times, k.cfg.SavGolWindow, k.cfg.SavGolOrder)
	if err != nil {
		return fmt.Errorf("joint %q linear acceleration: %w", s.Skeleton.Names[j], err)
	}
	rootVel, err := savGolDerivative(rootRel, s.Times, k.cfg.SavGolWindow, k.cfg.SavGolOrder)
	if err != nil {
		return fmt.Errorf("joint %q root-relative velocity: %w", s.Skeleton.Names[j], err)
	}
	for f := 0; f < nf; f++ {
		k.LinVel[k.Idx(f, j)] = linVel[f]
		k.LinAcc[k.Idx(f, j)] = linAcc[f]
		k.RootRelVel[k.Idx(f, j)] = rootVel[f]
	}
	return nil
}

// DeriveKinematics computes the full derived-signal set for a filtered,
// calibrated session. The session and calibration are read-only inputs.
func DeriveKinematics(s *Session, cal *Calibration, cfg KinematicsConfig) (*Kinematics, error) {
	if cal == nil || len(cal.Offsets) != s.Skeleton.NumJoints() {
		return nil, fmt.Errorf("run %s: calibration missing or joint count mismatch", s.RunID)
	}
	if cfg.SavGolWindow%2 == 0 || cfg.SavGolWindow <= cfg.SavGolOrder {
		return nil, fmt.Errorf("run %s: invalid differentiator config (window %d, order %d)", s.RunID, cfg.SavGolWindow, cfg.SavGolOrder)
	}
	nj := s.Skeleton.NumJoints()
	nf := s.NumFrames()
	if nf < cfg.SavGolWindow {
		return nil, fmt.Errorf("run %s: %d frames shorter than differentiator window %d", s.RunID, nf, cfg.SavGolWindow)
	}

	k := &Kinematics{
		Session:    s,
		Local:      make([]Quat, nf*nj),
		RotVecDeg:  make([]Vec3, nf*nj),
		AngVelDeg:  make([]Vec3, nf*nj),
		AngAccDeg:  make([]Vec3, nf*nj),
		LinVel:     make([]Vec3, nf*nj),
		LinAcc:     make([]Vec3, nf*nj),
		RootRelVel: make([]Vec3, nf*nj),
		NoiseRatio: make([]float64, nj),
		refs:       referenceLocals(s.Skeleton, cal),
		cal:        cal,
		cfg:        cfg,
	}

	// Parent-before-child order is guaranteed by the skeleton invariant.
	for j := 0; j < nj; j++ {
		k.deriveLocal(j)
	}
	for j := 0; j < nj; j++ {
		if err := k.deriveJoint(j); err != nil {
			return nil, fmt.Errorf("run %s: %w", s.RunID, err)
		}
	}
	return k, nil
}

// AngularSpeedDeg returns |angular velocity| in deg/s for (frame, joint).
func (k *Kinematics) AngularSpeedDeg(frame, joint int) float64 {
	return k.AngVelDeg[k.Idx(frame, joint)].Norm()
}

// clone copies the kinematics arenas onto a new session so the repair
// path can patch without touching the original.
func (k *Kinematics) clone(s *Session) *Kinematics {
	return &Kinematics{
		Session:    s,
		Local:      append([]Quat(nil), k.Local...),
		RotVecDeg:  append([]Vec3(nil), k.RotVecDeg...),
		AngVelDeg:  append([]Vec3(nil), k.AngVelDeg...),
		AngAccDeg:  append([]Vec3(nil), k.AngAccDeg...),
		LinVel:     append([]Vec3(nil), k.LinVel...),
		LinAcc:     append([]Vec3(nil), k.LinAcc...),
		RootRelVel: append([]Vec3(nil), k.RootRelVel...),
		NoiseRatio: append([]float64(nil), k.NoiseRatio...),
		refs:       k.refs,
		cal:        k.cal,
		cfg:        k.cfg,
	}
}
