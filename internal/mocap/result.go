package mocap

// StageStatus is the tagged outcome of a pipeline stage. Soft failures
// travel through the pipeline as values instead of panics or swallowed
// errors; the gate layer is the single place where a Degraded status is
// translated into a user-facing severity.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageFailed   StageStatus = "failed"
)

// StageResult pairs a status with the reason it was assigned. A reason is
// mandatory for anything other than StageOK.
type StageResult struct {
	Status StageStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// OK returns a clean result.
func OK() StageResult {
	return StageResult{Status: StageOK}
}

// Degraded returns a recoverable-but-flagged result.
func Degraded(reason string) StageResult {
	return StageResult{Status: StageDegraded, Reason: reason}
}

// Failed returns a failed result.
func Failed(reason string) StageResult {
	return StageResult{Status: StageFailed, Reason: reason}
}

// IsOK reports whether the stage completed without flags.
func (r StageResult) IsOK() bool { return r.Status == StageOK }
