package mocap

import (
	"encoding/json"
	"fmt"
	"math"
)

// GateStatus is the severity a gate assigns to a session.
type GateStatus string

const (
	GatePass          GateStatus = "PASS"
	GateReview        GateStatus = "REVIEW"
	GateReject        GateStatus = "REJECT"
	GateAcceptIntense GateStatus = "ACCEPT_HIGH_INTENSITY"
)

// gateRank orders statuses for worst-wins aggregation.
func gateRank(s GateStatus) int {
	switch s {
	case GateReject:
		return 3
	case GateReview:
		return 2
	case GateAcceptIntense:
		return 1
	default:
		return 0
	}
}

// GateVerdict is one gate's output: status, a human-readable reason
// (mandatory for anything but PASS), and gate-specific metrics for audit.
type GateVerdict struct {
	Gate    int             `json:"gate"`
	Name    string          `json:"name"`
	Status  GateStatus      `json:"status"`
	Reason  string          `json:"reason"`
	Metrics json.RawMessage `json:"metrics,omitempty"`
}

// GateThresholds configures gates 2-4. Gate 5 has its own BurstConfig.
type GateThresholds struct {
	// Gate 2: temporal integrity.
	JitterReviewS     float64
	JitterRejectS     float64
	FallbackReviewPct float64
	FallbackRejectPct float64
	MaxBridgedGapS    float64

	// Gate 4: mathematical compliance.
	NormErrorReview float64
	NormErrorReject float64
}

// DefaultGateThresholds returns the production gate thresholds.
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		JitterReviewS:     0.002,
		JitterRejectS:     0.010,
		FallbackReviewPct: 2,
		FallbackRejectPct: 10,
		MaxBridgedGapS:    0.5,
		NormErrorReview:   1e-4,
		NormErrorReject:   1e-2,
	}
}

func marshalMetrics(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// GateTemporalIntegrity (gate 2) audits the resampler's report: source
// timing jitter, the fallback (unfilled) rate, and the longest bridged
// gap.
func GateTemporalIntegrity(report *ResampleReport, th GateThresholds) GateVerdict {
	v := GateVerdict{Gate: 2, Name: "temporal_integrity", Status: GatePass, Reason: "timing within tolerances",
		Metrics: marshalMetrics(report)}

	fallbackPct := report.FallbackRate * 100
	switch {
	case report.SourceJitter > th.JitterRejectS || fallbackPct > th.FallbackRejectPct:
		v.Status = GateReject
		v.Reason = fmt.Sprintf("source jitter %.4f s, fallback rate %.1f%% beyond reject thresholds",
			report.SourceJitter, fallbackPct)
	case report.SourceJitter > th.JitterReviewS:
		v.Status = GateReview
		v.Reason = fmt.Sprintf("source jitter %.4f s exceeds %.4f s", report.SourceJitter, th.JitterReviewS)
	case fallbackPct > th.FallbackReviewPct:
		v.Status = GateReview
		v.Reason = fmt.Sprintf("%.1f%% of grid positions required fallback handling", fallbackPct)
	case report.LongestBridgedS > th.MaxBridgedGapS:
		v.Status = GateReview
		v.Reason = fmt.Sprintf("bridged a %.3f s gap (limit %.3f s)", report.LongestBridgedS, th.MaxBridgedGapS)
	}
	return v
}

// GateFilteringAdequacy (gate 3) audits the cutoff decisions: a failed
// selection, or one pinned at the edge of its search range, is reason for
// review. Failure is a diagnostic, not an error: it usually means the
// signal was pre-smoothed upstream.
func GateFilteringAdequacy(decisions []FilterDecision) GateVerdict {
	v := GateVerdict{Gate: 3, Name: "filtering_adequacy", Status: GatePass, Reason: "cutoff selection clean",
		Metrics: marshalMetrics(decisions)}
	for _, d := range decisions {
		switch {
		case d.Failed:
			v.Status = GateReview
			v.Reason = fmt.Sprintf("region %s: %s", d.Region, d.Result.Reason)
			return v
		case d.SelectedHz <= d.SearchMinHz || d.SelectedHz >= d.SearchMaxHz-1:
			v.Status = GateReview
			v.Reason = fmt.Sprintf("region %s: cutoff %d Hz sits at the edge of search range [%d, %d]",
				d.Region, d.SelectedHz, d.SearchMinHz, d.SearchMaxHz)
			return v
		}
	}
	return v
}

// eulerSequenceByJoint documents which Euler convention applies per joint
// role, so downstream consumers never have to assume one. The audit is
// documentation, not conversion: kinematics here stay quaternion-based.
var eulerSequenceByJoint = map[string]string{
	"pelvis": "ZXY", "spine": "ZXY", "chest": "ZXY", "neck": "ZXY", "head": "ZXY",
	"left_shoulder": "YXZ", "right_shoulder": "YXZ",
	"left_elbow": "ZXY", "right_elbow": "ZXY",
	"left_wrist": "ZXY", "right_wrist": "ZXY",
	"left_hip": "ZXY", "right_hip": "ZXY",
	"left_knee": "ZXY", "right_knee": "ZXY",
	"left_ankle": "ZXY", "right_ankle": "ZXY",
}

type complianceMetrics struct {
	EulerSequences    map[string]string `json:"euler_sequences"`
	UnknownJoints     []string          `json:"unknown_joints,omitempty"`
	MaxNormError      float64           `json:"max_norm_error"`
	CalibrationStatus StageStatus       `json:"calibration_status"`
	WorstResidualDeg  float64           `json:"worst_calibration_residual_deg"`
}

// GateMathCompliance (gate 4) documents the per-joint Euler convention,
// checks the worst quaternion-normalization error seen in the session,
// and surfaces the calibration identity-validation outcome.
func GateMathCompliance(s *Session, cal *Calibration, th GateThresholds) GateVerdict {
	m := complianceMetrics{EulerSequences: map[string]string{}}
	for _, name := range s.Skeleton.Names {
		if seq, ok := eulerSequenceByJoint[name]; ok {
			m.EulerSequences[name] = seq
		} else {
			m.UnknownJoints = append(m.UnknownJoints, name)
		}
	}
	for _, q := range s.Quats {
		if e := math.Abs(q.Norm() - 1); e > m.MaxNormError {
			m.MaxNormError = e
		}
	}
	if cal != nil {
		m.CalibrationStatus = cal.Result.Status
		for _, r := range cal.MedianResidualDeg {
			if r > m.WorstResidualDeg {
				m.WorstResidualDeg = r
			}
		}
	}

	v := GateVerdict{Gate: 4, Name: "math_compliance", Status: GatePass, Reason: "conventions documented, norms clean",
		Metrics: marshalMetrics(m)}
	switch {
	case cal != nil && cal.Result.Status == StageFailed:
		v.Status = GateReject
		v.Reason = "calibration: " + cal.Result.Reason
	case m.MaxNormError > th.NormErrorReject:
		v.Status = GateReject
		v.Reason = fmt.Sprintf("max quaternion norm error %.2g beyond %.2g", m.MaxNormError, th.NormErrorReject)
	case m.MaxNormError > th.NormErrorReview:
		v.Status = GateReview
		v.Reason = fmt.Sprintf("max quaternion norm error %.2g beyond %.2g", m.MaxNormError, th.NormErrorReview)
	case cal != nil && cal.Result.Status == StageDegraded:
		v.Status = GateReview
		v.Reason = "calibration: " + cal.Result.Reason
	case len(m.UnknownJoints) > 0:
		v.Status = GateReview
		v.Reason = fmt.Sprintf("no documented Euler convention for joints %v", m.UnknownJoints)
	}
	return v
}

// GateBurstClassification (gate 5) translates the burst report into a
// severity. Sustained FLOW movement is explicitly not penalized: a
// session dominated by flow events with acceptable density takes the
// high-intensity acceptance path instead.
func GateBurstClassification(report *BurstReport) GateVerdict {
	v := GateVerdict{Gate: 5, Name: "burst_classification", Status: GatePass, Reason: "no high-velocity events",
		Metrics: marshalMetrics(report)}
	switch {
	case report.Density == DensityExcessive:
		v.Status = GateReject
		v.Reason = "excessive event density: " + report.Summary()
	case report.ArtifactCount > 0 || report.BurstCount > 0 || report.Density == DensityHigh:
		v.Status = GateReview
		v.Reason = report.Summary()
	case report.FlowCount > 0:
		v.Status = GateAcceptIntense
		v.Reason = "sustained high-intensity movement: " + report.Summary()
	}
	return v
}

// OverallVerdict aggregates the per-gate verdicts with worst-status-wins
// precedence (REJECT > REVIEW > ACCEPT_HIGH_INTENSITY > PASS).
type OverallVerdict struct {
	Status GateStatus    `json:"status"`
	Reason string        `json:"reason"`
	Gates  []GateVerdict `json:"gates"`
}

// Aggregate combines the gate verdicts. Every non-PASS overall verdict
// carries the reason of the gate that set it.
func Aggregate(gates []GateVerdict) OverallVerdict {
	out := OverallVerdict{Status: GatePass, Reason: "all gates passed", Gates: gates}
	for _, g := range gates {
		if gateRank(g.Status) > gateRank(out.Status) {
			out.Status = g.Status
			out.Reason = fmt.Sprintf("gate %d (%s): %s", g.Gate, g.Name, g.Reason)
		}
	}
	return out
}
