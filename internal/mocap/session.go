package mocap

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Vec3 is a position or linear-motion vector in meters (or m/s, m/s²).
type Vec3 [3]float64

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// RawSession is one recording as delivered by the loader: irregular
// timestamps with per-joint orientation and position samples. Position
// samples may be missing (NaN components); orientation gaps must be
// filled upstream before resampling.
type RawSession struct {
	RunID    string
	Skeleton *Skeleton

	// Times are sample instants in seconds, strictly increasing.
	Times []float64

	// Quats and Pos are frame-major arenas: index = frame*NumJoints + joint.
	Quats []Quat
	Pos   []Vec3
}

// Session is a recording on a perfectly uniform grid, produced by the
// resampler. A Session exclusively owns its arrays; downstream stages
// never mutate them in place (the repair path builds a patched copy).
type Session struct {
	RunID    string
	Skeleton *Skeleton
	Rate     float64 // frames per second

	Times []float64
	Quats []Quat
	Pos   []Vec3
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Idx returns the arena index for (frame, joint).
func (s *RawSession) Idx(frame, joint int) int {
	return frame*s.Skeleton.NumJoints() + joint
}

// NumFrames returns the sample count.
func (s *RawSession) NumFrames() int { return len(s.Times) }

// Idx returns the arena index for (frame, joint).
func (s *Session) Idx(frame, joint int) int {
	return frame*s.Skeleton.NumJoints() + joint
}

// NumFrames returns the frame count.
func (s *Session) NumFrames() int { return len(s.Times) }

// Duration returns the covered time span in seconds.
func (s *Session) Duration() float64 {
	if len(s.Times) < 2 {
		return 0
	}
	return s.Times[len(s.Times)-1] - s.Times[0]
}

// JointQuats copies joint j's orientation track out of the arena.
func (s *Session) JointQuats(j int) []Quat {
	out := make([]Quat, s.NumFrames())
	for f := range out {
		out[f] = s.Quats[s.Idx(f, j)]
	}
	return out
}

// JointPos copies joint j's position track out of the arena.
func (s *Session) JointPos(j int) []Vec3 {
	out := make([]Vec3, s.NumFrames())
	for f := range out {
		out[f] = s.Pos[s.Idx(f, j)]
	}
	return out
}

// Clone returns a deep copy of the session arrays. The repair path
// patches a clone rather than the original.
func (s *Session) Clone() *Session {
	out := &Session{
		RunID:    s.RunID,
		Skeleton: s.Skeleton,
		Rate:     s.Rate,
		Times:    append([]float64(nil), s.Times...),
		Quats:    append([]Quat(nil), s.Quats...),
		Pos:      append([]Vec3(nil), s.Pos...),
	}
	return out
}

// Validate checks the structural invariants that are fatal when violated:
// strictly increasing time, matching arena sizes, and the presence of
// every orientation channel.
func (s *RawSession) Validate() error {
	if s.Skeleton == nil {
		return fmt.Errorf("run %s: no skeleton", s.RunID)
	}
	n := s.NumFrames()
	if n == 0 {
		return fmt.Errorf("run %s: no frames", s.RunID)
	}
	nj := s.Skeleton.NumJoints()
	if len(s.Quats) != n*nj {
		return fmt.Errorf("run %s: quaternion arena has %d entries, want %d", s.RunID, len(s.Quats), n*nj)
	}
	if len(s.Pos) != n*nj {
		return fmt.Errorf("run %s: position arena has %d entries, want %d", s.RunID, len(s.Pos), n*nj)
	}
	for i := 1; i < n; i++ {
		if !(s.Times[i] > s.Times[i-1]) {
			return fmt.Errorf("run %s: non-monotonic time at sample %d (%.6f -> %.6f)",
				s.RunID, i, s.Times[i-1], s.Times[i])
		}
	}
	for i, q := range s.Quats {
		if math.IsNaN(q.W) || math.IsNaN(q.X) || math.IsNaN(q.Y) || math.IsNaN(q.Z) {
			return fmt.Errorf("run %s: missing orientation at arena index %d (joint %q, frame %d); orientation gaps must be filled upstream",
				s.RunID, i, s.Skeleton.Names[i%nj], i/nj)
		}
	}
	return nil
}

// SourceJitter reports timing statistics of the raw timestamps: mean
// delta, delta standard deviation, and the longest inter-sample gap.
func (s *RawSession) SourceJitter() (meanDelta, deltaStdDev, maxGap float64) {
	n := len(s.Times)
	if n < 2 {
		return 0, 0, 0
	}
	deltas := make([]float64, n-1)
	var sum float64
	for i := 1; i < n; i++ {
		d := s.Times[i] - s.Times[i-1]
		deltas[i-1] = d
		sum += d
		if d > maxGap {
			maxGap = d
		}
	}
	meanDelta = sum / float64(len(deltas))
	var ss float64
	for _, d := range deltas {
		ss += (d - meanDelta) * (d - meanDelta)
	}
	deltaStdDev = math.Sqrt(ss / float64(len(deltas)))
	return meanDelta, deltaStdDev, maxGap
}
