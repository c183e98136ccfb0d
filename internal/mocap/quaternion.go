package mocap

import (
	"fmt"
	"math"
)

// Quat is a rotation quaternion with the scalar component first.
// The kernel below is the single authority for sign conventions: every
// consumer (resampler, calibration, kinematics) resolves "same rotation,
// two representations (q, -q)" here rather than re-implementing it.
type Quat struct {
	W, X, Y, Z float64
}

// Drift quality thresholds on max |norm - 1| over a sequence.
const (
	DriftThresholdExcellent  = 1e-9
	DriftThresholdGood       = 1e-6
	DriftThresholdAcceptable = 1e-3

	// NormEpsilon floors the divisor in Normalize so a degenerate
	// all-zero sample cannot blow up into Inf components.
	NormEpsilon = 1e-12

	// UnitNormTolerance is the residual allowed after drift correction.
	UnitNormTolerance = 1e-6
)

// QuatIdentity returns the identity rotation.
func QuatIdentity() Quat {
	return Quat{W: 1}
}

// Norm returns the Euclidean norm of q.
func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit norm. The divisor is floored at
// NormEpsilon; a degenerate input collapses to identity rather than Inf.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n < NormEpsilon {
		return QuatIdentity()
	}
	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Conjugate returns the conjugate of q. For unit quaternions this is the
// inverse rotation.
func (q Quat) Conjugate() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Inverse returns the inverse rotation. Inputs are expected to be unit
// quaternions; the norm division keeps near-unit inputs exact.
func (q Quat) Inverse() Quat {
	n2 := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if n2 < NormEpsilon {
		return QuatIdentity()
	}
	c := q.Conjugate()
	return Quat{W: c.W / n2, X: c.X / n2, Y: c.Y / n2, Z: c.Z / n2}
}

// Mul returns the Hamilton product q ⊗ r (apply r, then q).
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Dot returns the four-component dot product.
func (q Quat) Dot(r Quat) float64 {
	return q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
}

// Neg returns -q, the same rotation on the opposite hemisphere.
func (q Quat) Neg() Quat {
	return Quat{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Canonical flips q so the scalar component is non-negative.
func (q Quat) Canonical() Quat {
	if q.W < 0 {
		return q.Neg()
	}
	return q
}

// AngleRad returns the rotation angle of q in radians, in [0, pi].
func (q Quat) AngleRad() float64 {
	w := math.Abs(q.W)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// AngleDeg returns the rotation angle of q in degrees.
func (q Quat) AngleDeg() float64 {
	return q.AngleRad() * 180 / math.Pi
}

// RotVec returns the rotation vector (log map) of q: a 3-vector whose
// direction is the rotation axis and magnitude the angle in radians.
// Near identity the sin(theta)/theta factor is series-expanded to stay
// numerically stable, which is what makes log-based differentiation
// usable on slow joints.
func (q Quat) RotVec() [3]float64 {
	u := q.Canonical().Normalize()
	sinHalf := math.Sqrt(u.X*u.X + u.Y*u.Y + u.Z*u.Z)
	if sinHalf < 1e-10 {
		// Rotation is effectively zero; 2*v is the first-order log.
		return [3]float64{2 * u.X, 2 * u.Y, 2 * u.Z}
	}
	angle := 2 * math.Atan2(sinHalf, u.W)
	scale := angle / sinHalf
	return [3]float64{u.X * scale, u.Y * scale, u.Z * scale}
}

// QuatFromRotVec is the exp map: it converts a rotation vector (radians)
// back to a unit quaternion.
func QuatFromRotVec(v [3]float64) Quat {
	angle := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if angle < 1e-10 {
		return Quat{W: 1, X: v[0] / 2, Y: v[1] / 2, Z: v[2] / 2}.Normalize()
	}
	half := angle / 2
	scale := math.Sin(half) / angle
	return Quat{W: math.Cos(half), X: v[0] * scale, Y: v[1] * scale, Z: v[2] * scale}
}

// Slerp spherically interpolates from q to r at parameter t in [0, 1].
// r is hemisphere-aligned to q first so the path is always the short way
// around.
func (q Quat) Slerp(r Quat, t float64) Quat {
	a := q.Normalize()
	b := r.Normalize()
	dot := a.Dot(b)
	if dot < 0 {
		b = b.Neg()
		dot = -dot
	}
	if dot > 0.9995 {
		// Nearly parallel: nlerp is indistinguishable and avoids 0/0.
		out := Quat{
			W: a.W + t*(b.W-a.W),
			X: a.X + t*(b.X-a.X),
			Y: a.Y + t*(b.Y-a.Y),
			Z: a.Z + t*(b.Z-a.Z),
		}
		return out.Normalize()
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return Quat{
		W: wa*a.W + wb*b.W,
		X: wa*a.X + wb*b.X,
		Y: wa*a.Y + wb*b.Y,
		Z: wa*a.Z + wb*b.Z,
	}
}

// AlignHemisphere flips elements of seq in place so every consecutive
// pair has a non-negative dot product. This must run before any
// interpolation or differentiation over the sequence.
func AlignHemisphere(seq []Quat) {
	for i := 1; i < len(seq); i++ {
		if seq[i].Dot(seq[i-1]) < 0 {
			seq[i] = seq[i].Neg()
		}
	}
}

// DriftQuality grades how far a quaternion sequence has wandered from
// unit norm.
type DriftQuality string

const (
	DriftExcellent  DriftQuality = "excellent"
	DriftGood       DriftQuality = "good"
	DriftAcceptable DriftQuality = "acceptable"
	DriftPoor       DriftQuality = "poor"
)

// DriftReport summarises norm drift over a quaternion sequence.
type DriftReport struct {
	MaxNormError       float64      `json:"max_norm_error"`
	MeanNormError      float64      `json:"mean_norm_error"`
	Quality            DriftQuality `json:"quality"`
	CorrectionRequired bool         `json:"correction_required"`
	HemisphereFlips    int          `json:"hemisphere_flips"`
}

// DetectDrift measures norm drift and hemisphere discontinuities over seq.
func DetectDrift(seq []Quat) DriftReport {
	var report DriftReport
	if len(seq) == 0 {
		report.Quality = DriftExcellent
		return report
	}
	var sum float64
	for i, q := range seq {
		e := math.Abs(q.Norm() - 1)
		sum += e
		if e > report.MaxNormError {
			report.MaxNormError = e
		}
		if i > 0 && q.Dot(seq[i-1]) < 0 {
			report.HemisphereFlips++
		}
	}
	report.MeanNormError = sum / float64(len(seq))

	switch {
	case report.MaxNormError < DriftThresholdExcellent:
		report.Quality = DriftExcellent
	case report.MaxNormError < DriftThresholdGood:
		report.Quality = DriftGood
	case report.MaxNormError < DriftThresholdAcceptable:
		report.Quality = DriftAcceptable
	default:
		report.Quality = DriftPoor
	}
	report.CorrectionRequired = report.MaxNormError > UnitNormTolerance || report.HemisphereFlips > 0
	return report
}

// CorrectDrift renormalizes seq in place and re-enforces hemisphere
// continuity. It returns an error if any element is still off unit norm
// afterwards, which only happens for non-finite input.
func CorrectDrift(seq []Quat) error {
	for i := range seq {
		seq[i] = seq[i].Normalize()
	}
	AlignHemisphere(seq)
	for i, q := range seq {
		if e := math.Abs(q.Norm() - 1); e > UnitNormTolerance || math.IsNaN(e) {
			return fmt.Errorf("quaternion %d not unit after correction (norm error %g)", i, e)
		}
	}
	return nil
}
