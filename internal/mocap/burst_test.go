package mocap

import (
	"strings"
	"testing"
)

func TestClassifyRunTiers(t *testing.T) {
	cfg := DefaultBurstConfig()
	tests := []struct {
		frames int
		want   BurstTier
	}{
		{1, TierArtifact},
		{3, TierArtifact},
		{4, TierBurst},
		{7, TierBurst},
		{8, TierFlow},
		{50, TierFlow},
	}
	for _, tt := range tests {
		if got := classifyRun(tt.frames, cfg); got != tt.want {
			t.Errorf("classifyRun(%d) = %s, want %s", tt.frames, got, tt.want)
		}
	}
}

func TestClassifyBursts(t *testing.T) {
	s := stillSession(t, 10, 120)
	k := zeroKinematics(s)
	paintSpeed(k, 2, 100, 2, 3000) // 2-frame artifact
	paintSpeed(k, 2, 300, 5, 800)  // 5-frame burst
	paintSpeed(k, 1, 500, 20, 650) // 20-frame flow

	report := ClassifyBursts(k, DefaultBurstConfig())

	if report.ArtifactCount != 1 || report.BurstCount != 1 || report.FlowCount != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1 (%s)",
			report.ArtifactCount, report.BurstCount, report.FlowCount, report.Summary())
	}
	if len(report.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(report.Events))
	}

	var artifact BurstEvent
	for _, ev := range report.Events {
		if ev.Tier == TierArtifact {
			artifact = ev
		}
	}
	if artifact.Joint != 2 || artifact.JointName != "left_elbow" {
		t.Errorf("artifact on joint %d (%s), want left_elbow", artifact.Joint, artifact.JointName)
	}
	if artifact.StartFrame != 100 || artifact.EndFrame != 101 || artifact.Frames != 2 {
		t.Errorf("artifact span [%d, %d] over %d frames, want [100, 101] over 2",
			artifact.StartFrame, artifact.EndFrame, artifact.Frames)
	}
	if artifact.PeakDeg != 3000 {
		t.Errorf("artifact peak = %g, want 3000", artifact.PeakDeg)
	}

	// 3 events over 10 s = 18/min: over the high line, under excessive.
	if !almostEqual(report.EventsPerMin, 18, 0.1) {
		t.Errorf("EventsPerMin = %g, want 18", report.EventsPerMin)
	}
	if report.Density != DensityHigh {
		t.Errorf("Density = %s, want %s", report.Density, DensityHigh)
	}
}

func TestClassifyBurstsStatsExcludeArtifacts(t *testing.T) {
	s := stillSession(t, 10, 120)
	k := zeroKinematics(s)
	// Baseline 50 deg/s everywhere on the elbow with a 2-frame spike.
	for f := 0; f < s.NumFrames(); f++ {
		k.AngVelDeg[k.Idx(f, 2)] = Vec3{0, 0, 50}
	}
	paintSpeed(k, 2, 200, 2, 4000)

	report := ClassifyBursts(k, DefaultBurstConfig())
	stats := report.JointStats[2]
	if stats.ArtifactCount != 1 {
		t.Fatalf("ArtifactCount = %d, want 1", stats.ArtifactCount)
	}
	if stats.PeakSpeedDeg != 50 {
		t.Errorf("PeakSpeedDeg = %g; artifact frames must not enter the profile", stats.PeakSpeedDeg)
	}
	if !almostEqual(stats.MeanSpeedDeg, 50, 1e-9) {
		t.Errorf("MeanSpeedDeg = %g, want 50", stats.MeanSpeedDeg)
	}
}

func TestClassifyBurstsRunAtEnd(t *testing.T) {
	s := stillSession(t, 2, 120)
	k := zeroKinematics(s)
	nf := s.NumFrames()
	paintSpeed(k, 0, nf-3, 3, 900) // run touching the final frame

	report := ClassifyBursts(k, DefaultBurstConfig())
	if len(report.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(report.Events))
	}
	ev := report.Events[0]
	if ev.EndFrame != nf-1 || ev.Frames != 3 || ev.Tier != TierArtifact {
		t.Errorf("event %+v, want a 3-frame artifact ending at the last frame", ev)
	}
}

func TestDensityGrading(t *testing.T) {
	s := stillSession(t, 10, 120)

	t.Run("acceptable", func(t *testing.T) {
		k := zeroKinematics(s)
		paintSpeed(k, 2, 100, 10, 700)
		report := ClassifyBursts(k, DefaultBurstConfig())
		if report.Density != DensityAcceptable {
			t.Errorf("Density = %s, want %s", report.Density, DensityAcceptable)
		}
	})

	t.Run("excessive", func(t *testing.T) {
		k := zeroKinematics(s)
		for i := 0; i < 6; i++ {
			paintSpeed(k, 2, 100+i*50, 2, 3000)
		}
		report := ClassifyBursts(k, DefaultBurstConfig())
		if report.Density != DensityExcessive {
			t.Errorf("Density = %s (%.1f/min), want %s", report.Density, report.EventsPerMin, DensityExcessive)
		}
	})
}

func TestCriticalArtifacts(t *testing.T) {
	s := stillSession(t, 10, 120)
	k := zeroKinematics(s)
	paintSpeed(k, 2, 100, 2, 3000)  // critical: artifact over the peak line
	paintSpeed(k, 2, 300, 2, 900)   // artifact but under the peak line
	paintSpeed(k, 1, 500, 10, 2500) // flow, never repair-eligible

	cfg := DefaultBurstConfig()
	report := ClassifyBursts(k, cfg)
	critical := report.CriticalArtifacts(cfg)
	if len(critical) != 1 {
		t.Fatalf("got %d critical artifacts, want 1", len(critical))
	}
	if critical[0].StartFrame != 100 || critical[0].Joint != 2 {
		t.Errorf("critical artifact %+v, want the 3000 deg/s spike", critical[0])
	}
}

func TestBurstSummary(t *testing.T) {
	s := stillSession(t, 10, 120)
	k := zeroKinematics(s)
	paintSpeed(k, 2, 100, 2, 3000)
	report := ClassifyBursts(k, DefaultBurstConfig())

	sum := report.Summary()
	if !strings.Contains(sum, "1 artifact") || !strings.Contains(sum, "density") {
		t.Errorf("Summary() = %q", sum)
	}
}
