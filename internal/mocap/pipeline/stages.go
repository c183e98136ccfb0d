package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/kinematics.report/internal/mocap"
	"github.com/banshee-data/kinematics.report/internal/monitoring"
)

// Stage contracts. The monolithic Process below satisfies them
// internally; they exist so alternative stage implementations (synthetic
// generators, replay harnesses) can slot in without touching the flow.

// ResampleStage converts raw samples onto the uniform grid.
type ResampleStage interface {
	Resample(raw *mocap.RawSession) (*mocap.Session, *mocap.ResampleReport, error)
}

// CalibrationStage finds the reference window and computes offsets.
type CalibrationStage interface {
	Calibrate(s *mocap.Session) (*mocap.Calibration, error)
}

// FilterStage selects cutoffs and low-passes positions.
type FilterStage interface {
	Filter(s *mocap.Session) (*mocap.Session, []mocap.FilterDecision, error)
}

// DerivationStage computes the derived kinematic signals.
type DerivationStage interface {
	Derive(s *mocap.Session, cal *mocap.Calibration) (*mocap.Kinematics, error)
}

// Outcome is everything one session run produced, in dependency order.
// Each field is an immutable artifact of its stage.
type Outcome struct {
	RunID       string
	Session     *mocap.Session
	Resample    *mocap.ResampleReport
	Calibration *mocap.Calibration
	Decisions   []mocap.FilterDecision
	Kinematics  *mocap.Kinematics
	Bursts      *mocap.BurstReport
	Repair      *mocap.RepairReport
	Gates       []mocap.GateVerdict
	Overall     mocap.OverallVerdict
}

// Process runs one raw session through the whole pipeline. Structural
// violations abort with an error and no partial persistence; soft
// failures ride the artifacts into the gate verdicts.
func (rt *SessionRuntime) Process(raw *mocap.RawSession, sourcePath string) (*Outcome, error) {
	started := time.Now()

	session, resampleReport, err := mocap.Resample(raw, rt.Resample)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	monitoring.Logf("run %s: resampled %d source samples onto %d frames at %g Hz",
		raw.RunID, raw.NumFrames(), session.NumFrames(), session.Rate)

	cal, err := mocap.Calibrate(session, rt.Calibration)
	if err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}
	if !cal.Result.IsOK() {
		monitoring.Logf("run %s: calibration %s: %s", raw.RunID, cal.Result.Status, cal.Result.Reason)
	}

	decisions, err := mocap.SelectSessionCutoffs(session, rt.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("cutoff selection: %w", err)
	}
	filtered, err := mocap.FilterSessionPositions(session, decisions)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	kin, err := mocap.DeriveKinematics(filtered, cal, rt.Kinematics)
	if err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	bursts := mocap.ClassifyBursts(kin, rt.Burst)

	repairReport := &mocap.RepairReport{Result: mocap.OK()}
	if rt.RepairCriticalArtifacts {
		if critical := bursts.CriticalArtifacts(rt.Burst); len(critical) > 0 {
			monitoring.Logf("run %s: repairing %d critical artifact events", raw.RunID, len(critical))
			filtered, kin, repairReport, err = mocap.SurgicalRepair(filtered, kin, critical)
			if err != nil {
				return nil, fmt.Errorf("surgical repair: %w", err)
			}
			// Event inventory reflects the repaired signals.
			bursts = mocap.ClassifyBursts(kin, rt.Burst)
		}
	}

	gates := []mocap.GateVerdict{
		mocap.GateTemporalIntegrity(resampleReport, rt.Gates),
		mocap.GateFilteringAdequacy(decisions),
		mocap.GateMathCompliance(filtered, cal, rt.Gates),
		mocap.GateBurstClassification(bursts),
	}
	overall := mocap.Aggregate(gates)

	outcome := &Outcome{
		RunID:       raw.RunID,
		Session:     filtered,
		Resample:    resampleReport,
		Calibration: cal,
		Decisions:   decisions,
		Kinematics:  kin,
		Bursts:      bursts,
		Repair:      repairReport,
		Gates:       gates,
		Overall:     overall,
	}

	if rt.Store != nil {
		if err := rt.persist(outcome, sourcePath, started); err != nil {
			return nil, err
		}
	}
	monitoring.Logf("run %s: %s (%s)", raw.RunID, overall.Status, overall.Reason)
	return outcome, nil
}

// persist writes every stage artifact under the run id. Output rows are
// namespaced by run id, so concurrent sessions never collide.
func (rt *SessionRuntime) persist(o *Outcome, sourcePath string, started time.Time) error {
	s := o.Session
	skeleton, _ := json.Marshal(s.Skeleton.Names)
	if err := rt.Store.InsertRun(mocap.RunRecord{
		RunID:      o.RunID,
		SourcePath: sourcePath,
		Status:     "processing",
		Rate:       s.Rate,
		Frames:     s.NumFrames(),
		Skeleton:   skeleton,
		StartedAt:  started,
	}); err != nil {
		return err
	}
	if err := rt.Store.SaveCalibration(o.RunID, o.Calibration); err != nil {
		return err
	}
	if err := rt.Store.SaveFilterDecisions(o.RunID, o.Decisions); err != nil {
		return err
	}
	if err := rt.Store.SaveGateVerdicts(o.RunID, o.Gates); err != nil {
		return err
	}
	if err := rt.Store.SaveJointSummaries(o.RunID, o.Bursts, o.Kinematics); err != nil {
		return err
	}
	overall, _ := json.Marshal(o.Overall)
	return rt.Store.CompleteRun(o.RunID, string(o.Overall.Status), o.Overall.Reason, overall, time.Now())
}
