package mocap

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/banshee-data/kinematics.report/internal/units"
)

// SessionSource supplies raw recordings to the engine. Implementations
// own the vendor-specific details (column layouts, axis conventions);
// the core never parses capture files itself.
type SessionSource interface {
	Load() (*RawSession, error)
}

// sessionDocument is the neutral JSON interchange form. Name-keyed maps
// are allowed here, at the I/O boundary, and nowhere else: Load converts
// them to index-addressed arenas immediately.
type sessionDocument struct {
	RunID    string `json:"run_id"`
	Units    string `json:"units"` // "mm" (default) or "m"
	Skeleton []struct {
		Name   string `json:"name"`
		Parent string `json:"parent"`
		Region string `json:"region"`
	} `json:"skeleton"`
	Times  []float64 `json:"times"`
	Joints map[string]struct {
		Quat [][4]float64 `json:"quat"` // w, x, y, z
		Pos  [][3]float64 `json:"pos"`  // in Units
	} `json:"joints"`
}

// JSONSessionFile loads the neutral interchange format from disk.
type JSONSessionFile struct {
	Path string

	// Units overrides the document's declared length unit, for exports
	// known to mislabel it. Empty keeps the document's value.
	Units string
}

// Load reads and converts the session document. Positions are converted
// to meters; missing position samples stay NaN.
func (f JSONSessionFile) Load() (*RawSession, error) {
	if f.Units != "" && !units.IsValidLength(f.Units) {
		return nil, fmt.Errorf("unsupported length unit override %q (valid: %v)", f.Units, units.ValidLengthUnits)
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	defer file.Close()
	return readSession(file, f.Units)
}

// ReadSession decodes a session document from r.
func ReadSession(r io.Reader) (*RawSession, error) {
	return readSession(r, "")
}

func readSession(r io.Reader, unitOverride string) (*RawSession, error) {
	var doc sessionDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding session document: %w", err)
	}
	if len(doc.Skeleton) == 0 {
		return nil, fmt.Errorf("session document has no skeleton")
	}

	names := make([]string, len(doc.Skeleton))
	regions := make([]BodyRegion, len(doc.Skeleton))
	byName := make(map[string]int, len(doc.Skeleton))
	for i, j := range doc.Skeleton {
		names[i] = j.Name
		byName[j.Name] = i
		switch BodyRegion(j.Region) {
		case RegionTrunk:
			regions[i] = RegionTrunk
		default:
			regions[i] = RegionDistal
		}
	}
	parents := make([]int, len(doc.Skeleton))
	for i, j := range doc.Skeleton {
		if j.Parent == "" {
			parents[i] = -1
			continue
		}
		p, ok := byName[j.Parent]
		if !ok {
			return nil, fmt.Errorf("joint %q references unknown parent %q", j.Name, j.Parent)
		}
		parents[i] = p
	}
	skel, err := NewSkeleton(names, parents, regions)
	if err != nil {
		return nil, err
	}

	unit := doc.Units
	if unitOverride != "" {
		unit = unitOverride
	}
	scale, ok := units.LengthScaleToMeters(unit)
	if !ok {
		return nil, fmt.Errorf("unsupported length unit %q (valid: %v)", unit, units.ValidLengthUnits)
	}

	runID := doc.RunID
	if runID == "" {
		runID = NewRunID()
	}
	raw := &RawSession{
		RunID:    runID,
		Skeleton: skel,
		Times:    doc.Times,
		Quats:    make([]Quat, len(doc.Times)*skel.NumJoints()),
		Pos:      make([]Vec3, len(doc.Times)*skel.NumJoints()),
	}
	for i := range raw.Pos {
		raw.Pos[i] = Vec3{math.NaN(), math.NaN(), math.NaN()}
	}

	for name, track := range doc.Joints {
		j, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("track for unknown joint %q", name)
		}
		if len(track.Quat) != len(doc.Times) {
			return nil, fmt.Errorf("joint %q has %d orientation samples, want %d", name, len(track.Quat), len(doc.Times))
		}
		for f, q := range track.Quat {
			raw.Quats[raw.Idx(f, j)] = Quat{W: q[0], X: q[1], Y: q[2], Z: q[3]}
		}
		for f, p := range track.Pos {
			if f >= len(doc.Times) {
				break
			}
			raw.Pos[raw.Idx(f, j)] = Vec3{p[0] * scale, p[1] * scale, p[2] * scale}
		}
	}
	for j := 0; j < skel.NumJoints(); j++ {
		if _, ok := doc.Joints[names[j]]; !ok {
			return nil, fmt.Errorf("missing orientation channel for joint %q", names[j])
		}
	}
	return raw, nil
}
