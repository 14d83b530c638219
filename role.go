package redist

import "fmt"

// Role selects the half of the pipeline a Process call runs.
type Role int

const (
	// RoleSource computes the layout, splits the container and sends the
	// chunks.
	RoleSource Role = 1 << iota
	// RoleDest receives the chunks and merges them into the container.
	RoleDest

	// RoleBoth runs the source half, then the destination half. Ranks in
	// both groups use it to pick up their own chunk without a second call.
	RoleBoth = RoleSource | RoleDest
)

// Has reports whether r includes other.
func (r Role) Has(other Role) bool { return r&other == other }

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleDest:
		return "dest"
	case RoleBoth:
		return "both"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// CommMethod selects how destinations learn how many messages to expect.
type CommMethod int

const (
	// CommCollective reduces per-destination message counts over the
	// source group and scatters them over the destination group. Sources
	// only send to destinations they have items for.
	CommCollective CommMethod = iota
	// CommP2P sends one message from every source to every destination,
	// empty when the source has nothing for it.
	CommP2P
)

func (m CommMethod) String() string {
	switch m {
	case CommCollective:
		return "collective"
	case CommP2P:
		return "p2p"
	default:
		return fmt.Sprintf("comm(%d)", int(m))
	}
}

// ParseCommMethod parses "collective" or "p2p".
func ParseCommMethod(s string) (CommMethod, error) {
	switch s {
	case "collective", "":
		return CommCollective, nil
	case "p2p", "point-to-point":
		return CommP2P, nil
	default:
		return 0, configErrorf("unknown comm method %q", s)
	}
}

// MergeMethod selects when received chunks are merged.
type MergeMethod int

const (
	// MergeStep merges every chunk as soon as the lower-ranked ones are in.
	MergeStep MergeMethod = iota
	// MergeOnce stores every chunk and merges them in a single pass once
	// all arrived, so index shifts use cumulative counts.
	MergeOnce
)

func (m MergeMethod) String() string {
	switch m {
	case MergeStep:
		return "step"
	case MergeOnce:
		return "once"
	default:
		return fmt.Sprintf("merge(%d)", int(m))
	}
}

// ParseMergeMethod parses "step" or "once".
func ParseMergeMethod(s string) (MergeMethod, error) {
	switch s {
	case "step", "":
		return MergeStep, nil
	case "once":
		return MergeOnce, nil
	default:
		return 0, configErrorf("unknown merge method %q", s)
	}
}

// State is the pipeline phase a component is in.
type State int32

const (
	StateIdle State = iota
	StateComputingGlobal
	StateSplitting
	StateTransferring
	StateMerging
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComputingGlobal:
		return "computing_global"
	case StateSplitting:
		return "splitting"
	case StateTransferring:
		return "transferring"
	case StateMerging:
		return "merging"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Range is the contiguous rank interval [First, First+Count).
type Range struct {
	First int
	Count int
}

// Contains reports whether rank is in the range.
func (r Range) Contains(rank int) bool {
	return rank >= r.First && rank < r.First+r.Count
}

// Index returns rank's position in the range, or -1.
func (r Range) Index(rank int) int {
	if !r.Contains(rank) {
		return -1
	}
	return rank - r.First
}

// Rank returns the communicator rank at position i.
func (r Range) Rank(i int) int { return r.First + i }

// Overlaps reports whether the ranges share a rank.
func (r Range) Overlaps(other Range) bool {
	return r.First < other.First+other.Count && other.First < r.First+r.Count
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.First, r.First+r.Count)
}
