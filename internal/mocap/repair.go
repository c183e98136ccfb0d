package mocap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// RepairedEvent records one surgical correction with before/after
// metrics for audit.
type RepairedEvent struct {
	Event         BurstEvent `json:"event"`
	PeakBeforeDeg float64    `json:"peak_before_deg_s"`
	PeakAfterDeg  float64    `json:"peak_after_deg_s"`
}

// RepairReport summarises the surgical repair pass.
type RepairReport struct {
	Repaired []RepairedEvent `json:"repaired"`
	Result   StageResult     `json:"result"`
}

// repairContextFrames is how many valid frames on each side anchor the
// position re-interpolation.
const repairContextFrames = 8

// SurgicalRepair corrects only the offending joints at the flagged
// frames: orientation is bridged by spherical interpolation between the
// surrounding valid frames, position by monotone-cubic interpolation over
// a small context window. Derivatives are then re-derived for the
// affected joint and its direct children; a repaired root re-derives
// every joint, since all root-relative velocities read its positions.
// The inputs are left untouched; the function returns patched copies.
func SurgicalRepair(s *Session, k *Kinematics, events []BurstEvent) (*Session, *Kinematics, *RepairReport, error) {
	report := &RepairReport{Result: OK()}
	if len(events) == 0 {
		return s, k, report, nil
	}

	patched := s.Clone()
	nf := s.NumFrames()

	affected := map[int]bool{}
	for _, ev := range events {
		lo, hi := ev.StartFrame-1, ev.EndFrame+1
		if lo < 0 || hi >= nf {
			// Events touching the sequence boundary have no valid
			// anchors; leave them to the gate verdict instead.
			report.Result = Degraded(fmt.Sprintf("joint %q event at frames [%d, %d] touches the boundary and was not repaired",
				ev.JointName, ev.StartFrame, ev.EndFrame))
			continue
		}
		j := ev.Joint

		// Orientation bridge on the rotation manifold.
		qa := patched.Quats[patched.Idx(lo, j)]
		qb := patched.Quats[patched.Idx(hi, j)]
		span := float64(hi - lo)
		for f := ev.StartFrame; f <= ev.EndFrame; f++ {
			u := float64(f-lo) / span
			patched.Quats[patched.Idx(f, j)] = qa.Slerp(qb, u)
		}

		// Position bridge: monotone cubic over the surrounding context,
		// skipping the flagged frames themselves.
		if err := bridgePositions(patched, j, ev.StartFrame, ev.EndFrame); err != nil {
			return nil, nil, nil, fmt.Errorf("run %s joint %q: %w", s.RunID, ev.JointName, err)
		}

		affected[j] = true
		for c := 0; c < s.Skeleton.NumJoints(); c++ {
			// Root-relative velocities everywhere depend on the root's
			// patched positions.
			if s.Skeleton.Parent[c] == j || s.Skeleton.IsRoot(j) {
				affected[c] = true
			}
		}
		report.Repaired = append(report.Repaired, RepairedEvent{
			Event:         ev,
			PeakBeforeDeg: ev.PeakDeg,
		})
	}

	if len(affected) == 0 {
		return s, k, report, nil
	}

	// Minimal blast radius: re-derive only the affected joints on a
	// patched copy of the kinematics.
	rk := k.clone(patched)
	for j := range affected {
		rk.deriveLocal(j)
	}
	for j := range affected {
		if err := rk.deriveJoint(j); err != nil {
			return nil, nil, nil, fmt.Errorf("run %s: re-derivation after repair: %w", s.RunID, err)
		}
	}

	for i := range report.Repaired {
		ev := report.Repaired[i].Event
		peak := 0.0
		for f := ev.StartFrame; f <= ev.EndFrame; f++ {
			if v := rk.AngularSpeedDeg(f, ev.Joint); v > peak {
				peak = v
			}
		}
		report.Repaired[i].PeakAfterDeg = peak
	}
	return patched, rk, report, nil
}

// bridgePositions refits joint j's position over [start-context,
// end+context] without the flagged frames and rewrites only the flagged
// span.
func bridgePositions(s *Session, j, start, end int) error {
	nf := s.NumFrames()
	lo := start - repairContextFrames
	hi := end + repairContextFrames
	if lo < 0 {
		lo = 0
	}
	if hi > nf-1 {
		hi = nf - 1
	}

	for axis := 0; axis < 3; axis++ {
		xs := make([]float64, 0, hi-lo+1)
		ys := make([]float64, 0, hi-lo+1)
		for f := lo; f <= hi; f++ {
			if f >= start && f <= end {
				continue
			}
			v := s.Pos[s.Idx(f, j)][axis]
			if math.IsNaN(v) {
				continue
			}
			xs = append(xs, s.Times[f])
			ys = append(ys, v)
		}
		if len(xs) < 4 {
			return fmt.Errorf("axis %d: only %d anchor samples around frames [%d, %d]", axis, len(xs), start, end)
		}
		var fb interp.FritschButland
		if err := fb.Fit(xs, ys); err != nil {
			return fmt.Errorf("axis %d: %w", axis, err)
		}
		for f := start; f <= end; f++ {
			s.Pos[s.Idx(f, j)][axis] = fb.Predict(s.Times[f])
		}
	}
	return nil
}
