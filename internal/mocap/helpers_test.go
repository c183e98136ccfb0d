package mocap

import (
	"math"
	"testing"
)

// testSkeleton is a minimal pelvis -> left_shoulder -> left_elbow chain
// covering both body regions.
func testSkeleton(t *testing.T) *Skeleton {
	t.Helper()
	sk, err := NewSkeleton(
		[]string{"pelvis", "left_shoulder", "left_elbow"},
		[]int{-1, 0, 1},
		[]BodyRegion{RegionTrunk, RegionTrunk, RegionDistal},
	)
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	return sk
}

// testRestPos holds the rest positions of the test skeleton with the
// shoulder-elbow limb perfectly horizontal.
var testRestPos = []Vec3{
	{0, 0, 1.0},
	{0.2, 0, 1.45},
	{0.5, 0, 1.45},
}

// stillSession builds a uniform-grid session holding the identity pose.
func stillSession(t *testing.T, seconds, rate float64) *Session {
	t.Helper()
	sk := testSkeleton(t)
	grid := UniformGrid(0, seconds, rate)
	nj := sk.NumJoints()
	s := &Session{
		RunID:    "test-run",
		Skeleton: sk,
		Rate:     rate,
		Times:    grid,
		Quats:    make([]Quat, len(grid)*nj),
		Pos:      make([]Vec3, len(grid)*nj),
	}
	for f := range grid {
		for j := 0; j < nj; j++ {
			s.Quats[s.Idx(f, j)] = QuatIdentity()
			s.Pos[s.Idx(f, j)] = testRestPos[j]
		}
	}
	return s
}

// identityCalibration builds a trivial calibration for sk: identity
// offsets, no pose correction, validation clean.
func identityCalibration(sk *Skeleton) *Calibration {
	nj := sk.NumJoints()
	cal := &Calibration{
		Offsets:           make([]Quat, nj),
		Method:            CalibWindowThreshold,
		PoseCorrection:    QuatIdentity(),
		MedianResidualDeg: make([]float64, nj),
		Result:            OK(),
	}
	for j := range cal.Offsets {
		cal.Offsets[j] = QuatIdentity()
	}
	return cal
}

// zRotationSession rotates joint about the z axis at degPerSec while the
// other joints hold identity.
func zRotationSession(t *testing.T, seconds, rate float64, joint int, degPerSec float64) *Session {
	t.Helper()
	s := stillSession(t, seconds, rate)
	for f, tm := range s.Times {
		theta := degPerSec * tm * math.Pi / 180
		s.Quats[s.Idx(f, joint)] = QuatFromRotVec([3]float64{0, 0, theta})
	}
	return s
}

// zeroKinematics builds a Kinematics whose derived arenas are allocated
// but zero, so burst tests can paint angular-speed tracks directly.
func zeroKinematics(s *Session) *Kinematics {
	nj := s.Skeleton.NumJoints()
	nf := s.NumFrames()
	return &Kinematics{
		Session:    s,
		Local:      make([]Quat, nf*nj),
		RotVecDeg:  make([]Vec3, nf*nj),
		AngVelDeg:  make([]Vec3, nf*nj),
		AngAccDeg:  make([]Vec3, nf*nj),
		LinVel:     make([]Vec3, nf*nj),
		LinAcc:     make([]Vec3, nf*nj),
		RootRelVel: make([]Vec3, nf*nj),
		NoiseRatio: make([]float64, nj),
	}
}

// paintSpeed sets joint's angular speed to degPerSec over frames
// [start, start+frames).
func paintSpeed(k *Kinematics, joint, start, frames int, degPerSec float64) {
	for f := start; f < start+frames; f++ {
		k.AngVelDeg[k.Idx(f, joint)] = Vec3{0, 0, degPerSec}
	}
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func quatsClose(a, b Quat, tol float64) bool {
	if a.Dot(b) < 0 {
		b = b.Neg()
	}
	return almostEqual(a.W, b.W, tol) && almostEqual(a.X, b.X, tol) &&
		almostEqual(a.Y, b.Y, tol) && almostEqual(a.Z, b.Z, tol)
}
