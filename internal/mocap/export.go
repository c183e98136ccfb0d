package mocap

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// kinematicsHeader is the long-format column layout of the CSV export.
var kinematicsHeader = []string{
	"frame", "time_s", "joint",
	"rotvec_x_deg", "rotvec_y_deg", "rotvec_z_deg",
	"angvel_x_deg_s", "angvel_y_deg_s", "angvel_z_deg_s",
	"angacc_x_deg_s2", "angacc_y_deg_s2", "angacc_z_deg_s2",
	"linvel_x_m_s", "linvel_y_m_s", "linvel_z_m_s",
	"linacc_x_m_s2", "linacc_y_m_s2", "linacc_z_m_s2",
	"rootvel_x_m_s", "rootvel_y_m_s", "rootvel_z_m_s",
}

// WriteKinematicsCSV writes the derived signals in long format (one row
// per frame per joint) for downstream analysis.
func WriteKinematicsCSV(w io.Writer, k *Kinematics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(kinematicsHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	s := k.Session
	row := make([]string, len(kinematicsHeader))
	fmtF := func(v float64) string { return strconv.FormatFloat(v, 'g', 9, 64) }
	putVec := func(at int, v Vec3) {
		row[at] = fmtF(v[0])
		row[at+1] = fmtF(v[1])
		row[at+2] = fmtF(v[2])
	}

	for f := 0; f < s.NumFrames(); f++ {
		for j := 0; j < s.Skeleton.NumJoints(); j++ {
			idx := k.Idx(f, j)
			row[0] = strconv.Itoa(f)
			row[1] = fmtF(s.Times[f])
			row[2] = s.Skeleton.Names[j]
			putVec(3, k.RotVecDeg[idx])
			putVec(6, k.AngVelDeg[idx])
			putVec(9, k.AngAccDeg[idx])
			putVec(12, k.LinVel[idx])
			putVec(15, k.LinAcc[idx])
			putVec(18, k.RootRelVel[idx])
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing frame %d joint %q: %w", f, s.Skeleton.Names[j], err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportKinematicsCSV writes the derived signals to path.
func ExportKinematicsCSV(path string, k *Kinematics) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()
	if err := WriteKinematicsCSV(file, k); err != nil {
		return err
	}
	return file.Close()
}
