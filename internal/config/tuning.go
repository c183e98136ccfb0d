package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for pipeline tuning parameters.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for everything else.
type TuningConfig struct {
	// Resampler params
	TargetRateHz      *float64 `json:"target_rate_hz,omitempty"`
	MADSigmaThreshold *float64 `json:"mad_sigma_threshold,omitempty"`
	MaxBridgeSeconds  *float64 `json:"max_bridge_seconds,omitempty"`

	// Cutoff selection params
	CutoffMinHz     *int  `json:"cutoff_min_hz,omitempty"`
	CutoffMaxHz     *int  `json:"cutoff_max_hz,omitempty"`
	CutoffPerRegion *bool `json:"cutoff_per_region,omitempty"`

	// Calibration params
	CalibrationWindowSeconds *float64 `json:"calibration_window_seconds,omitempty"`
	CalibrationSearchSeconds *float64 `json:"calibration_search_seconds,omitempty"`
	IdentityToleranceDeg     *float64 `json:"identity_tolerance_deg,omitempty"`

	// Derivation params
	SavGolWindow    *int `json:"savgol_window,omitempty"`
	SavGolPolyOrder *int `json:"savgol_poly_order,omitempty"`

	// Burst classification params
	BurstVelocityThresholdDeg *float64 `json:"burst_velocity_threshold_deg,omitempty"`
	CriticalPeakDeg           *float64 `json:"critical_peak_deg,omitempty"`
	DensityHighPerMin         *float64 `json:"density_high_per_min,omitempty"`
	DensityExcessivePerMin    *float64 `json:"density_excessive_per_min,omitempty"`

	// Gate and repair params
	RepairCriticalArtifacts *bool `json:"repair_critical_artifacts,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/mocap/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.TargetRateHz != nil && *c.TargetRateHz <= 0 {
		return fmt.Errorf("target_rate_hz must be positive, got %f", *c.TargetRateHz)
	}
	if c.MADSigmaThreshold != nil && *c.MADSigmaThreshold <= 0 {
		return fmt.Errorf("mad_sigma_threshold must be positive, got %f", *c.MADSigmaThreshold)
	}
	if c.CutoffMinHz != nil && c.CutoffMaxHz != nil && *c.CutoffMinHz >= *c.CutoffMaxHz {
		return fmt.Errorf("cutoff_min_hz %d must be below cutoff_max_hz %d", *c.CutoffMinHz, *c.CutoffMaxHz)
	}
	if c.SavGolWindow != nil {
		if *c.SavGolWindow < 3 || *c.SavGolWindow%2 == 0 {
			return fmt.Errorf("savgol_window must be odd and at least 3, got %d", *c.SavGolWindow)
		}
		order := 3
		if c.SavGolPolyOrder != nil {
			order = *c.SavGolPolyOrder
		}
		if *c.SavGolWindow <= order {
			return fmt.Errorf("savgol_window %d must exceed savgol_poly_order %d", *c.SavGolWindow, order)
		}
	}
	if c.IdentityToleranceDeg != nil && *c.IdentityToleranceDeg <= 0 {
		return fmt.Errorf("identity_tolerance_deg must be positive, got %f", *c.IdentityToleranceDeg)
	}
	if c.DensityHighPerMin != nil && c.DensityExcessivePerMin != nil &&
		*c.DensityHighPerMin > *c.DensityExcessivePerMin {
		return fmt.Errorf("density_high_per_min %f must not exceed density_excessive_per_min %f",
			*c.DensityHighPerMin, *c.DensityExcessivePerMin)
	}
	return nil
}

// GetTargetRateHz returns the target_rate_hz value or the default.
func (c *TuningConfig) GetTargetRateHz() float64 {
	if c.TargetRateHz == nil {
		return 120
	}
	return *c.TargetRateHz
}

// GetMADSigmaThreshold returns the mad_sigma_threshold value or the default.
func (c *TuningConfig) GetMADSigmaThreshold() float64 {
	if c.MADSigmaThreshold == nil {
		return 6
	}
	return *c.MADSigmaThreshold
}

// GetMaxBridgeSeconds returns the max_bridge_seconds value or the default.
func (c *TuningConfig) GetMaxBridgeSeconds() float64 {
	if c.MaxBridgeSeconds == nil {
		return 0.25
	}
	return *c.MaxBridgeSeconds
}

// GetCutoffMinHz returns the cutoff_min_hz value or the default.
func (c *TuningConfig) GetCutoffMinHz() int {
	if c.CutoffMinHz == nil {
		return 2
	}
	return *c.CutoffMinHz
}

// GetCutoffMaxHz returns the cutoff_max_hz value or the default.
func (c *TuningConfig) GetCutoffMaxHz() int {
	if c.CutoffMaxHz == nil {
		return 20
	}
	return *c.CutoffMaxHz
}

// GetCutoffPerRegion returns the cutoff_per_region value or the default.
func (c *TuningConfig) GetCutoffPerRegion() bool {
	if c.CutoffPerRegion == nil {
		return true
	}
	return *c.CutoffPerRegion
}

// GetCalibrationWindowSeconds returns the calibration_window_seconds value or the default.
func (c *TuningConfig) GetCalibrationWindowSeconds() float64 {
	if c.CalibrationWindowSeconds == nil {
		return 1.0
	}
	return *c.CalibrationWindowSeconds
}

// GetCalibrationSearchSeconds returns the calibration_search_seconds value or the default.
func (c *TuningConfig) GetCalibrationSearchSeconds() float64 {
	if c.CalibrationSearchSeconds == nil {
		return 10.0
	}
	return *c.CalibrationSearchSeconds
}

// GetIdentityToleranceDeg returns the identity_tolerance_deg value or the default.
func (c *TuningConfig) GetIdentityToleranceDeg() float64 {
	if c.IdentityToleranceDeg == nil {
		return 2.0
	}
	return *c.IdentityToleranceDeg
}

// GetSavGolWindow returns the savgol_window value or the default.
func (c *TuningConfig) GetSavGolWindow() int {
	if c.SavGolWindow == nil {
		return 11
	}
	return *c.SavGolWindow
}

// GetSavGolPolyOrder returns the savgol_poly_order value or the default.
func (c *TuningConfig) GetSavGolPolyOrder() int {
	if c.SavGolPolyOrder == nil {
		return 3
	}
	return *c.SavGolPolyOrder
}

// GetBurstVelocityThresholdDeg returns the burst_velocity_threshold_deg value or the default.
func (c *TuningConfig) GetBurstVelocityThresholdDeg() float64 {
	if c.BurstVelocityThresholdDeg == nil {
		return 500
	}
	return *c.BurstVelocityThresholdDeg
}

// GetCriticalPeakDeg returns the critical_peak_deg value or the default.
func (c *TuningConfig) GetCriticalPeakDeg() float64 {
	if c.CriticalPeakDeg == nil {
		return 2000
	}
	return *c.CriticalPeakDeg
}

// GetDensityHighPerMin returns the density_high_per_min value or the default.
func (c *TuningConfig) GetDensityHighPerMin() float64 {
	if c.DensityHighPerMin == nil {
		return 10
	}
	return *c.DensityHighPerMin
}

// GetDensityExcessivePerMin returns the density_excessive_per_min value or the default.
func (c *TuningConfig) GetDensityExcessivePerMin() float64 {
	if c.DensityExcessivePerMin == nil {
		return 30
	}
	return *c.DensityExcessivePerMin
}

// GetRepairCriticalArtifacts returns the repair_critical_artifacts value or the default.
func (c *TuningConfig) GetRepairCriticalArtifacts() bool {
	if c.RepairCriticalArtifacts == nil {
		return true
	}
	return *c.RepairCriticalArtifacts
}
