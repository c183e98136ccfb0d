package mocap

import "fmt"

// BodyRegion groups joints for filtering guardrails: trunk segments move
// slowly, distal segments carry fast technique and need a higher minimum
// cutoff.
type BodyRegion string

const (
	RegionTrunk  BodyRegion = "trunk"
	RegionDistal BodyRegion = "distal"
)

// Skeleton is an ordered joint list with a parent index array. Joints are
// addressed by index everywhere on the hot path; name lookup happens only
// at the I/O boundary. Parent[i] < i for every non-root joint, so walking
// joints in index order is always parent-before-child.
type Skeleton struct {
	Names  []string
	Parent []int // -1 for the root

	Region []BodyRegion

	byName map[string]int
}

// NewSkeleton validates the joint list and parent map and builds the
// name index. Parents must appear before their children.
func NewSkeleton(names []string, parent []int, region []BodyRegion) (*Skeleton, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("skeleton has no joints")
	}
	if len(parent) != len(names) {
		return nil, fmt.Errorf("skeleton parent array length %d != joint count %d", len(parent), len(names))
	}
	if region == nil {
		region = make([]BodyRegion, len(names))
		for i := range region {
			region[i] = RegionDistal
		}
	}
	if len(region) != len(names) {
		return nil, fmt.Errorf("skeleton region array length %d != joint count %d", len(region), len(names))
	}

	byName := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("joint %d has an empty name", i)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("duplicate joint name %q", name)
		}
		byName[name] = i

		p := parent[i]
		if p < -1 || p >= len(names) {
			return nil, fmt.Errorf("joint %q has out-of-range parent index %d", name, p)
		}
		if p >= i {
			return nil, fmt.Errorf("joint %q (index %d) has parent index %d; parents must precede children", name, i, p)
		}
	}

	return &Skeleton{
		Names:  names,
		Parent: parent,
		Region: region,
		byName: byName,
	}, nil
}

// NumJoints returns the joint count.
func (s *Skeleton) NumJoints() int { return len(s.Names) }

// Index returns the index for a joint name, or -1 when unknown.
func (s *Skeleton) Index(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}

// IsRoot reports whether joint j has no parent.
func (s *Skeleton) IsRoot(j int) bool { return s.Parent[j] < 0 }

// Root returns the index of the first root joint.
func (s *Skeleton) Root() int {
	for i, p := range s.Parent {
		if p < 0 {
			return i
		}
	}
	return 0
}
