package mocap

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/kinematics.report/internal/db"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*RunStore, *sql.DB) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp("../db/migrations"); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return NewRunStore(database.DB), database.DB
}

func TestRunStoreRoundTrip(t *testing.T) {
	store, _ := openStore(t)
	started := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	rec := RunRecord{
		RunID:      "run-1",
		SourcePath: "/captures/solo.json",
		Status:     "processing",
		Rate:       120,
		Frames:     14400,
		Skeleton:   json.RawMessage(`["pelvis","left_shoulder","left_elbow"]`),
		StartedAt:  started,
	}
	if err := store.InsertRun(rec); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	want := rec
	want.ID = got.ID
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt set before completion")
	}

	overall := json.RawMessage(`{"status":"REVIEW"}`)
	completed := started.Add(45 * time.Second)
	if err := store.CompleteRun("run-1", "completed", "gate 5 review", overall, completed); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	got, err = store.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun after complete: %v", err)
	}
	if got.Status != "completed" || got.Reason != "gate 5 review" {
		t.Errorf("completed run = %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
	}
	if string(got.Overall) != string(overall) {
		t.Errorf("Overall = %s, want %s", got.Overall, overall)
	}
}

// insertEnvelope creates the parent run row child tables reference.
func insertEnvelope(t *testing.T, store *RunStore, runID string) {
	t.Helper()
	err := store.InsertRun(RunRecord{
		RunID:     runID,
		Status:    "processing",
		Rate:      120,
		Frames:    1200,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertRun(%s): %v", runID, err)
	}
}

func TestRunStoreGetRunMissing(t *testing.T) {
	store, _ := openStore(t)
	if _, err := store.GetRun("nope"); err == nil {
		t.Error("expected error for an unknown run id")
	}
}

func TestRunStoreGateVerdicts(t *testing.T) {
	store, _ := openStore(t)
	insertEnvelope(t, store, "run-2")

	gates := []GateVerdict{
		{Gate: 5, Name: "burst_classification", Status: GateReview, Reason: "1 artifact", Metrics: json.RawMessage(`{"artifact_count":1}`)},
		{Gate: 2, Name: "temporal_integrity", Status: GatePass, Reason: "timing within tolerances"},
	}
	require.NoError(t, store.SaveGateVerdicts("run-2", gates))

	got, err := store.ListGateVerdicts("run-2")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 2, got[0].Gate, "verdicts ordered by gate")
	assert.Equal(t, 5, got[1].Gate)
	assert.Equal(t, GateReview, got[1].Status)
	assert.Equal(t, `{"artifact_count":1}`, string(got[1].Metrics))
	assert.Nil(t, got[0].Metrics, "empty metrics stay nil")

	// Other runs stay isolated.
	other, err := store.ListGateVerdicts("run-3")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRunStoreCalibrationAndDecisions(t *testing.T) {
	store, rawDB := openStore(t)
	insertEnvelope(t, store, "run-4")
	sk := testSkeleton(t)

	cal := identityCalibration(sk)
	cal.WindowStartS = 0.5
	cal.WindowEndS = 1.5
	if err := store.SaveCalibration("run-4", cal); err != nil {
		t.Fatalf("SaveCalibration: %v", err)
	}

	decisions := []FilterDecision{
		{Region: RegionTrunk, SelectedHz: 4, SearchMinHz: 2, SearchMaxHz: 20, Method: CutoffMethodStrictKnee, Result: OK()},
		{Region: RegionDistal, SelectedHz: 20, SearchMinHz: 2, SearchMaxHz: 20, Failed: true, Result: Failed("no knee")},
	}
	if err := store.SaveFilterDecisions("run-4", decisions); err != nil {
		t.Fatalf("SaveFilterDecisions: %v", err)
	}

	var method string
	var payload string
	err := rawDB.QueryRow(`SELECT method, payload FROM mocap_calibrations WHERE run_id = ?`, "run-4").
		Scan(&method, &payload)
	if err != nil {
		t.Fatalf("reading calibration row: %v", err)
	}
	if method != CalibWindowThreshold {
		t.Errorf("method = %q, want %q", method, CalibWindowThreshold)
	}
	var row struct {
		Offsets [][4]float64 `json:"offsets"`
	}
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		t.Fatalf("calibration payload: %v", err)
	}
	if len(row.Offsets) != sk.NumJoints() {
		t.Errorf("payload carries %d offsets, want %d", len(row.Offsets), sk.NumJoints())
	}

	var failed int
	err = rawDB.QueryRow(`SELECT COUNT(*) FROM mocap_filter_decisions WHERE run_id = ? AND failed = 1`, "run-4").
		Scan(&failed)
	if err != nil {
		t.Fatalf("counting failed decisions: %v", err)
	}
	if failed != 1 {
		t.Errorf("%d failed decisions persisted, want 1", failed)
	}
}

func TestRunStoreJointSummaries(t *testing.T) {
	store, rawDB := openStore(t)
	insertEnvelope(t, store, "run-5")
	s := stillSession(t, 10, 120)
	k := zeroKinematics(s)
	k.NoiseRatio[2] = 0.42
	paintSpeed(k, 2, 100, 2, 3000)
	report := ClassifyBursts(k, DefaultBurstConfig())

	if err := store.SaveJointSummaries("run-5", report, k); err != nil {
		t.Fatalf("SaveJointSummaries: %v", err)
	}

	var artifacts int
	var noise float64
	err := rawDB.QueryRow(`
		SELECT artifact_count, noise_ratio FROM mocap_joint_summaries
		WHERE run_id = ? AND joint_name = ?`, "run-5", "left_elbow").
		Scan(&artifacts, &noise)
	if err != nil {
		t.Fatalf("reading joint summary: %v", err)
	}
	if artifacts != 1 {
		t.Errorf("artifact_count = %d, want 1", artifacts)
	}
	if !almostEqual(noise, 0.42, 1e-12) {
		t.Errorf("noise_ratio = %g, want 0.42", noise)
	}
}
