package container

import (
	"fmt"

	"github.com/rbaliyan/redist/payload"
)

// Number is the element constraint of scalar and array fields.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Field is a named value of a Container and the unit of split and merge.
//
// The variant set is closed: *Scalar[T], *Array[T] and *BlockField. The
// unexported methods keep other packages from adding variants, so every
// policy switch in this package covers all of them.
type Field interface {
	// Kind returns the concrete variant.
	Kind() Kind

	// TypeName identifies the concrete type on the wire ("array<float32>").
	TypeName() string

	// Len returns the number of items.
	Len() int

	// Countable reports whether Len can take part in global layout arithmetic.
	Countable() bool

	// BlockSplitable reports whether the field can split itself by blocks.
	BlockSplitable() bool

	// Split partitions the field into r.Len() new fields, one per destination.
	// peers are the destination containers being built, holding the fields
	// split before this one.
	Split(r Ranges, peers []*Container, p SplitPolicy) ([]Field, error)

	// Merge folds other into the field.
	Merge(other Field, mc *MergeContext, p MergePolicy) error

	// CanMerge checks type and shape compatibility with other.
	CanMerge(other Field) bool

	// Clone returns a deep copy.
	Clone() Field

	// precheck validates a merge without mutating anything.
	precheck(other Field, mc *MergeContext, p MergePolicy) error

	// encode serializes the field state.
	encode(codec payload.Codec) ([]byte, error)
}

// Ranges describes how items are cut between destinations. Exactly one of
// Counts, Indexes or Blocks drives the split; Indexes may accompany Blocks
// to carry the precomputed index lists of non block-splitable fields.
type Ranges struct {
	// Counts holds contiguous item counts per destination.
	Counts []int
	// Indexes holds per destination [offset, count, ..., total] lists.
	Indexes [][]int
	// Blocks holds destination boxes.
	Blocks []Block
}

// CountRanges builds contiguous ranges.
func CountRanges(counts ...int) Ranges {
	return Ranges{Counts: counts}
}

// IndexRanges builds index list ranges.
func IndexRanges(lists ...[]int) Ranges {
	return Ranges{Indexes: lists}
}

// BlockRanges builds block ranges.
func BlockRanges(blocks ...Block) Ranges {
	return Ranges{Blocks: blocks}
}

// Len returns the number of destinations.
func (r Ranges) Len() int {
	switch {
	case r.Blocks != nil:
		return len(r.Blocks)
	case r.Indexes != nil:
		return len(r.Indexes)
	default:
		return len(r.Counts)
	}
}

// ItemCount returns the number of items destination i receives, or -1 for
// block ranges without index lists.
func (r Ranges) ItemCount(i int) int {
	switch {
	case r.Indexes != nil:
		return RangeTotal(r.Indexes[i])
	case r.Blocks != nil:
		return -1
	default:
		return r.Counts[i]
	}
}

// Total returns the number of items over all destinations, or -1 when
// unknown.
func (r Ranges) Total() int {
	total := 0
	for i := 0; i < r.Len(); i++ {
		n := r.ItemCount(i)
		if n < 0 {
			return -1
		}
		total += n
	}
	return total
}

func (r Ranges) validate() error {
	set := 0
	if r.Counts != nil {
		set++
	}
	if r.Indexes != nil && r.Blocks == nil {
		set++
	}
	if r.Blocks != nil {
		set++
		if r.Indexes != nil && len(r.Indexes) != len(r.Blocks) {
			return fmt.Errorf("%w: %d index lists for %d blocks", ErrInvalidRanges, len(r.Indexes), len(r.Blocks))
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of counts, indexes or blocks must be set", ErrInvalidRanges)
	}
	for _, c := range r.Counts {
		if c < 0 {
			return fmt.Errorf("%w: negative count %d", ErrInvalidRanges, c)
		}
	}
	for _, l := range r.Indexes {
		if err := ValidateIndexList(l); err != nil {
			return err
		}
	}
	return nil
}

// MergeContext gives a merging field read access to the receiving container.
// Offsets are computed from item counts snapshotted before the merge pass
// and the parts already folded in the same pass, so they do not depend on
// the order fields are merged in.
type MergeContext struct {
	into  *Container
	base  map[string]int
	prior []*Container
}

// NewMergeContext snapshots the item counts of into.
func NewMergeContext(into *Container) *MergeContext {
	mc := &MergeContext{into: into, base: make(map[string]int)}
	if into != nil {
		for name, e := range into.entries {
			mc.base[name] = e.field.Len()
		}
	}
	return mc
}

// Into returns the receiving container.
func (mc *MergeContext) Into() *Container {
	return mc.into
}

// Offset returns the number of items of field name that precede the part
// being merged.
func (mc *MergeContext) Offset(name string) int {
	if mc == nil {
		return 0
	}
	off := mc.base[name]
	for _, p := range mc.prior {
		if f, ok := p.Get(name); ok {
			off += f.Len()
		}
	}
	return off
}

// has reports whether the receiving container holds name.
func (mc *MergeContext) has(name string) bool {
	if mc == nil || mc.into == nil {
		return false
	}
	_, ok := mc.into.entries[name]
	return ok
}
