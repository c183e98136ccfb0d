package mocap

import "fmt"

// BurstTier classifies a contiguous high-angular-velocity run by its
// duration. Duration is the discriminating signal: a global velocity
// threshold alone misreads genuine high-intensity dance technique as
// sensor error.
type BurstTier string

const (
	// TierArtifact: 1-3 frames. Physically implausible; excluded from
	// joint statistics.
	TierArtifact BurstTier = "artifact"
	// TierBurst: 4-7 frames. Plausible but short; flagged for review.
	TierBurst BurstTier = "burst"
	// TierFlow: 8+ frames. Sustained legitimate movement; never
	// penalized.
	TierFlow BurstTier = "flow"
)

// DensityGrade rates how often high-velocity events occur.
type DensityGrade string

const (
	DensityAcceptable DensityGrade = "acceptable"
	DensityHigh       DensityGrade = "high"
	DensityExcessive  DensityGrade = "excessive"
)

// BurstConfig sets the event threshold and tier boundaries.
type BurstConfig struct {
	// VelocityThresholdDeg starts an event when |angular velocity|
	// exceeds it (deg/s).
	VelocityThresholdDeg float64

	// ArtifactMaxFrames and BurstMaxFrames are the inclusive upper tier
	// boundaries; longer runs are FLOW.
	ArtifactMaxFrames int
	BurstMaxFrames    int

	// Density grading in events per minute.
	HighPerMinute      float64
	ExcessivePerMinute float64

	// CriticalPeakDeg marks an artifact as repair-eligible.
	CriticalPeakDeg float64
}

// DefaultBurstConfig returns thresholds for dance capture at 120 Hz.
func DefaultBurstConfig() BurstConfig {
	return BurstConfig{
		VelocityThresholdDeg: 500,
		ArtifactMaxFrames:    3,
		BurstMaxFrames:       7,
		HighPerMinute:        10,
		ExcessivePerMinute:   30,
		CriticalPeakDeg:      2000,
	}
}

// BurstEvent is one contiguous run of frames over the velocity threshold
// for one joint.
type BurstEvent struct {
	Joint      int       `json:"joint"`
	JointName  string    `json:"joint_name"`
	StartFrame int       `json:"start_frame"`
	EndFrame   int       `json:"end_frame"` // inclusive
	Frames     int       `json:"frames"`
	PeakDeg    float64   `json:"peak_deg_s"`
	Tier       BurstTier `json:"tier"`
}

// JointBurstStats summarises one joint's angular speed with artifact
// frames excluded.
type JointBurstStats struct {
	JointName     string  `json:"joint_name"`
	MeanSpeedDeg  float64 `json:"mean_speed_deg_s"`
	PeakSpeedDeg  float64 `json:"peak_speed_deg_s"`
	ArtifactCount int     `json:"artifact_count"`
	BurstCount    int     `json:"burst_count"`
	FlowCount     int     `json:"flow_count"`
}

// BurstReport is the gate-5 input: every event, tier counts, density
// grade, and per-joint statistics excluding artifact frames.
type BurstReport struct {
	Events        []BurstEvent      `json:"events"`
	ArtifactCount int               `json:"artifact_count"`
	BurstCount    int               `json:"burst_count"`
	FlowCount     int               `json:"flow_count"`
	EventsPerMin  float64           `json:"events_per_minute"`
	Density       DensityGrade      `json:"density"`
	JointStats    []JointBurstStats `json:"joint_stats"`
}

// classifyRun maps a run length to its tier.
func classifyRun(frames int, cfg BurstConfig) BurstTier {
	switch {
	case frames <= cfg.ArtifactMaxFrames:
		return TierArtifact
	case frames <= cfg.BurstMaxFrames:
		return TierBurst
	default:
		return TierFlow
	}
}

// ClassifyBursts scans every joint's angular-speed track for contiguous
// over-threshold runs and tiers them by duration.
func ClassifyBursts(k *Kinematics, cfg BurstConfig) *BurstReport {
	s := k.Session
	nj := s.Skeleton.NumJoints()
	nf := s.NumFrames()
	report := &BurstReport{
		JointStats: make([]JointBurstStats, nj),
	}

	for j := 0; j < nj; j++ {
		stats := &report.JointStats[j]
		stats.JointName = s.Skeleton.Names[j]

		artifactFrame := make([]bool, nf)
		runStart := -1
		peak := 0.0
		flush := func(end int) {
			if runStart < 0 {
				return
			}
			ev := BurstEvent{
				Joint:      j,
				JointName:  s.Skeleton.Names[j],
				StartFrame: runStart,
				EndFrame:   end - 1,
				Frames:     end - runStart,
				PeakDeg:    peak,
			}
			ev.Tier = classifyRun(ev.Frames, cfg)
			report.Events = append(report.Events, ev)
			switch ev.Tier {
			case TierArtifact:
				report.ArtifactCount++
				stats.ArtifactCount++
				for f := ev.StartFrame; f <= ev.EndFrame; f++ {
					artifactFrame[f] = true
				}
			case TierBurst:
				report.BurstCount++
				stats.BurstCount++
			case TierFlow:
				report.FlowCount++
				stats.FlowCount++
			}
			runStart = -1
			peak = 0
		}

		for f := 0; f < nf; f++ {
			speed := k.AngularSpeedDeg(f, j)
			if speed > cfg.VelocityThresholdDeg {
				if runStart < 0 {
					runStart = f
				}
				if speed > peak {
					peak = speed
				}
				continue
			}
			flush(f)
		}
		flush(nf)

		// Joint statistics exclude artifact frames so a two-frame spike
		// cannot distort the session profile.
		var sum float64
		n := 0
		for f := 0; f < nf; f++ {
			if artifactFrame[f] {
				continue
			}
			speed := k.AngularSpeedDeg(f, j)
			sum += speed
			if speed > stats.PeakSpeedDeg {
				stats.PeakSpeedDeg = speed
			}
			n++
		}
		if n > 0 {
			stats.MeanSpeedDeg = sum / float64(n)
		}
	}

	if d := s.Duration(); d > 0 {
		report.EventsPerMin = float64(len(report.Events)) / (d / 60)
	}
	switch {
	case report.EventsPerMin > cfg.ExcessivePerMinute:
		report.Density = DensityExcessive
	case report.EventsPerMin > cfg.HighPerMinute:
		report.Density = DensityHigh
	default:
		report.Density = DensityAcceptable
	}
	return report
}

// CriticalArtifacts returns the artifact events whose peak exceeds the
// repair threshold, the inputs to the surgical repair path.
func (r *BurstReport) CriticalArtifacts(cfg BurstConfig) []BurstEvent {
	var out []BurstEvent
	for _, ev := range r.Events {
		if ev.Tier == TierArtifact && ev.PeakDeg >= cfg.CriticalPeakDeg {
			out = append(out, ev)
		}
	}
	return out
}

// Summary renders a one-line description for logs and verdict reasons.
func (r *BurstReport) Summary() string {
	return fmt.Sprintf("%d artifact, %d burst, %d flow events (%.1f/min, density %s)",
		r.ArtifactCount, r.BurstCount, r.FlowCount, r.EventsPerMin, r.Density)
}
