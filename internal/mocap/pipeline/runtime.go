package pipeline

import (
	"github.com/banshee-data/kinematics.report/internal/config"
	"github.com/banshee-data/kinematics.report/internal/mocap"
)

// SessionRuntime bundles the per-session dependencies and stage
// configuration. Passing a SessionRuntime through Process keeps wiring
// explicit and testing deterministic; no stage reads ambient state.
type SessionRuntime struct {
	// Store receives the per-run artifacts. Nil disables persistence
	// (useful in tests and dry runs).
	Store *mocap.RunStore

	Resample    mocap.ResampleConfig
	Calibration mocap.CalibrationConfig
	Cutoff      mocap.CutoffConfig
	Kinematics  mocap.KinematicsConfig
	Burst       mocap.BurstConfig
	Gates       mocap.GateThresholds

	// RepairCriticalArtifacts enables the surgical repair path for
	// artifact events above the critical peak threshold.
	RepairCriticalArtifacts bool
}

// DefaultRuntime returns a runtime with every stage on its defaults and
// persistence disabled.
func DefaultRuntime() *SessionRuntime {
	return &SessionRuntime{
		Resample:                mocap.DefaultResampleConfig(),
		Calibration:             mocap.DefaultCalibrationConfig(),
		Cutoff:                  mocap.DefaultCutoffConfig(),
		Kinematics:              mocap.DefaultKinematicsConfig(),
		Burst:                   mocap.DefaultBurstConfig(),
		Gates:                   mocap.DefaultGateThresholds(),
		RepairCriticalArtifacts: true,
	}
}

// RuntimeFromTuning builds a runtime from a loaded tuning config,
// overriding the stage defaults with whatever the config names.
func RuntimeFromTuning(tc *config.TuningConfig) *SessionRuntime {
	rt := DefaultRuntime()
	if tc == nil {
		return rt
	}

	rt.Resample.TargetRate = tc.GetTargetRateHz()
	rt.Resample.MADSigmaThreshold = tc.GetMADSigmaThreshold()
	rt.Resample.MaxBridgeSeconds = tc.GetMaxBridgeSeconds()

	rt.Cutoff.MinHz = tc.GetCutoffMinHz()
	rt.Cutoff.MaxHz = tc.GetCutoffMaxHz()
	rt.Cutoff.PerRegion = tc.GetCutoffPerRegion()

	rt.Calibration.WindowSeconds = tc.GetCalibrationWindowSeconds()
	rt.Calibration.SearchSeconds = tc.GetCalibrationSearchSeconds()
	rt.Calibration.IdentityTolDeg = tc.GetIdentityToleranceDeg()

	rt.Kinematics.SavGolWindow = tc.GetSavGolWindow()
	rt.Kinematics.SavGolOrder = tc.GetSavGolPolyOrder()

	rt.Burst.VelocityThresholdDeg = tc.GetBurstVelocityThresholdDeg()
	rt.Burst.CriticalPeakDeg = tc.GetCriticalPeakDeg()
	rt.Burst.HighPerMinute = tc.GetDensityHighPerMin()
	rt.Burst.ExcessivePerMinute = tc.GetDensityExcessivePerMin()

	rt.RepairCriticalArtifacts = tc.GetRepairCriticalArtifacts()
	return rt
}
