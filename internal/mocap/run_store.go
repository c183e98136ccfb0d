package mocap

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RunRecord is the persisted envelope for one processed session.
type RunRecord struct {
	ID          int64           `json:"id"`
	RunID       string          `json:"run_id"`
	SourcePath  string          `json:"source_path"`
	Status      string          `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Rate        float64         `json:"rate"`
	Frames      int             `json:"frames"`
	Skeleton    json.RawMessage `json:"skeleton,omitempty"`
	Overall     json.RawMessage `json:"overall,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunStore provides persistence for per-run artifacts: calibration
// offsets with provenance, filter decisions with their residual curves,
// gate verdicts with reasons, and kinematic summaries. Concurrent runs
// never collide because every row is namespaced by run id.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// retryOnBusy retries a write a few times when sqlite reports the
// database is locked by another connection.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(time.Duration(10*(attempt+1)) * time.Millisecond)
	}
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

// InsertRun creates the run envelope when processing starts.
func (s *RunStore) InsertRun(rec RunRecord) error {
	query := `
		INSERT INTO mocap_runs (run_id, source_path, status, rate, frames, skeleton, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID,
			nullStr(rec.SourcePath),
			rec.Status,
			rec.Rate,
			rec.Frames,
			nullJSON(rec.Skeleton),
			rec.StartedAt.UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.RunID, err)
	}
	return nil
}

// CompleteRun records the overall verdict (or failure reason) for a run.
func (s *RunStore) CompleteRun(runID, status, reason string, overall json.RawMessage, completedAt time.Time) error {
	query := `
		UPDATE mocap_runs SET status = ?, reason = ?, overall = ?, completed_at = ? WHERE run_id = ?
	`
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			status,
			nullStr(reason),
			nullJSON(overall),
			completedAt.UTC().Format(time.RFC3339),
			runID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("completing run %s: %w", runID, err)
	}
	return nil
}

// calibrationRow is the serialized form of a Calibration.
type calibrationRow struct {
	Calibration
	Offsets        [][4]float64 `json:"offsets"`
	PoseCorrection [4]float64   `json:"pose_correction"`
}

// SaveCalibration persists the calibration offsets and provenance.
func (s *RunStore) SaveCalibration(runID string, cal *Calibration) error {
	row := calibrationRow{Calibration: *cal}
	for _, q := range cal.Offsets {
		row.Offsets = append(row.Offsets, [4]float64{q.W, q.X, q.Y, q.Z})
	}
	pc := cal.PoseCorrection
	row.PoseCorrection = [4]float64{pc.W, pc.X, pc.Y, pc.Z}
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshaling calibration for run %s: %w", runID, err)
	}
	query := `
		INSERT INTO mocap_calibrations (run_id, method, window_start_s, window_end_s, status, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			runID,
			cal.Method,
			cal.WindowStartS,
			cal.WindowEndS,
			string(cal.Result.Status),
			string(payload),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving calibration for run %s: %w", runID, err)
	}
	return nil
}

// SaveFilterDecisions persists every cutoff decision with its residual
// curve.
func (s *RunStore) SaveFilterDecisions(runID string, decisions []FilterDecision) error {
	query := `
		INSERT INTO mocap_filter_decisions (run_id, region, selected_hz, method, failed, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, d := range decisions {
		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshaling filter decision for run %s: %w", runID, err)
		}
		err = retryOnBusy(func() error {
			_, err := s.db.Exec(query, runID, string(d.Region), d.SelectedHz, d.Method, d.Failed, string(payload))
			return err
		})
		if err != nil {
			return fmt.Errorf("saving filter decision (%s) for run %s: %w", d.Region, runID, err)
		}
	}
	return nil
}

// SaveGateVerdicts persists the per-gate verdicts.
func (s *RunStore) SaveGateVerdicts(runID string, gates []GateVerdict) error {
	query := `
		INSERT INTO mocap_gate_verdicts (run_id, gate, name, status, reason, metrics)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, g := range gates {
		err := retryOnBusy(func() error {
			_, err := s.db.Exec(query, runID, g.Gate, g.Name, string(g.Status), g.Reason, nullJSON(g.Metrics))
			return err
		})
		if err != nil {
			return fmt.Errorf("saving gate %d verdict for run %s: %w", g.Gate, runID, err)
		}
	}
	return nil
}

// SaveJointSummaries persists the per-joint kinematic summary, including
// the advisory noise-reduction ratio.
func (s *RunStore) SaveJointSummaries(runID string, report *BurstReport, k *Kinematics) error {
	query := `
		INSERT INTO mocap_joint_summaries
			(run_id, joint_name, mean_speed_deg_s, peak_speed_deg_s, artifact_count, burst_count, flow_count, noise_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for j, st := range report.JointStats {
		noise := 0.0
		if j < len(k.NoiseRatio) {
			noise = k.NoiseRatio[j]
		}
		err := retryOnBusy(func() error {
			_, err := s.db.Exec(query, runID, st.JointName, st.MeanSpeedDeg, st.PeakSpeedDeg,
				st.ArtifactCount, st.BurstCount, st.FlowCount, noise)
			return err
		})
		if err != nil {
			return fmt.Errorf("saving joint summary %q for run %s: %w", st.JointName, runID, err)
		}
	}
	return nil
}

// GetRun fetches a run envelope by run id.
func (s *RunStore) GetRun(runID string) (*RunRecord, error) {
	query := `
		SELECT id, run_id, COALESCE(source_path, ''), status, COALESCE(reason, ''),
		       rate, frames, COALESCE(skeleton, ''), COALESCE(overall, ''), started_at, COALESCE(completed_at, '')
		FROM mocap_runs WHERE run_id = ?
	`
	var rec RunRecord
	var skeleton, overall, startedAt, completedAt string
	err := s.db.QueryRow(query, runID).Scan(
		&rec.ID, &rec.RunID, &rec.SourcePath, &rec.Status, &rec.Reason,
		&rec.Rate, &rec.Frames, &skeleton, &overall, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}
	if skeleton != "" {
		rec.Skeleton = json.RawMessage(skeleton)
	}
	if overall != "" {
		rec.Overall = json.RawMessage(overall)
	}
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		rec.StartedAt = t
	}
	if completedAt != "" {
		if t, err := time.Parse(time.RFC3339, completedAt); err == nil {
			rec.CompletedAt = &t
		}
	}
	return &rec, nil
}

// ListGateVerdicts returns the persisted gate verdicts for a run in gate
// order.
func (s *RunStore) ListGateVerdicts(runID string) ([]GateVerdict, error) {
	query := `
		SELECT gate, name, status, reason, COALESCE(metrics, '')
		FROM mocap_gate_verdicts WHERE run_id = ? ORDER BY gate
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("listing gate verdicts for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []GateVerdict
	for rows.Next() {
		var g GateVerdict
		var status, metrics string
		if err := rows.Scan(&g.Gate, &g.Name, &status, &g.Reason, &metrics); err != nil {
			return nil, fmt.Errorf("scanning gate verdict for run %s: %w", runID, err)
		}
		g.Status = GateStatus(status)
		if metrics != "" {
			g.Metrics = json.RawMessage(metrics)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
