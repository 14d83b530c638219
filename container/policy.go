package container

import "fmt"

// Scope tells the redistribution how a field relates to the items it carries.
type Scope int

const (
	// Shared fields are common to every item (configuration, counters).
	Shared Scope = iota
	// Private fields hold one value per item and drive the item count.
	Private
	// System fields are copied verbatim to every destination.
	System
)

func (s Scope) String() string {
	switch s {
	case Shared:
		return "shared"
	case Private:
		return "private"
	case System:
		return "system"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Flag marks fields with a special meaning for spatial decompositions.
// Flags are bits and may be combined.
type Flag int

const (
	NoFlag Flag = 0
	// NbItem marks the field carrying the item count.
	NbItem Flag = 1 << (iota - 1)
	// Pos marks the spatial key: 3 coordinates per item.
	Pos
	// Morton marks a z-order index: one code per item.
	Morton
)

// Has reports whether f contains every bit of other.
func (f Flag) Has(other Flag) bool {
	return other != NoFlag && f&other == other
}

func (f Flag) String() string {
	switch f {
	case NoFlag:
		return "none"
	case NbItem:
		return "nbitem"
	case Pos:
		return "pos"
	case Morton:
		return "morton"
	default:
		return fmt.Sprintf("flags(%d)", int(f))
	}
}

// SplitPolicy selects how a field is cut between destinations.
type SplitPolicy int

const (
	// SplitDefault cuts the field by item ranges.
	SplitDefault SplitPolicy = iota
	// SplitKeepValue gives every destination a copy of the whole value.
	SplitKeepValue
	// SplitMinusNbItem replaces a scalar with the destination's item count.
	SplitMinusNbItem
	// SplitSegmented cuts an array into per-destination segments.
	SplitSegmented
)

func (p SplitPolicy) String() string {
	switch p {
	case SplitDefault:
		return "default"
	case SplitKeepValue:
		return "keep-value"
	case SplitMinusNbItem:
		return "minus-nbitem"
	case SplitSegmented:
		return "segmented"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// MergePolicy selects how a field folds a peer field into itself.
type MergePolicy int

const (
	// MergeDefault keeps one value and verifies peers agree for scalars,
	// appends for arrays and unions for blocks.
	MergeDefault MergePolicy = iota
	// MergeFirstValue keeps the current value unconditionally.
	MergeFirstValue
	// MergeAddValue sums scalar counters.
	MergeAddValue
	// MergeAppendValues concatenates arrays, shifting embedded references.
	MergeAppendValues
	// MergeBBoxPos unions [minx miny minz maxx maxy maxz] arrays.
	MergeBBoxPos
)

func (p MergePolicy) String() string {
	switch p {
	case MergeDefault:
		return "default"
	case MergeFirstValue:
		return "first-value"
	case MergeAddValue:
		return "add-value"
	case MergeAppendValues:
		return "append-values"
	case MergeBBoxPos:
		return "bbox-pos"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Kind identifies the concrete field variant.
type Kind int

const (
	KindScalar Kind = iota
	KindArray
	KindBlock
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindBlock:
		return "block"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}
