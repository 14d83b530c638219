package container

import (
	"fmt"

	"github.com/rbaliyan/redist/payload"
)

// Array is a dense array of numbers grouped in items of PerItem elements.
type Array[T Number] struct {
	values  []T
	perItem int
	indexOf string
}

type arrayState[T Number] struct {
	Values  []T    `msgpack:"values" json:"values" bson:"values"`
	PerItem int    `msgpack:"per_item" json:"per_item" bson:"per_item"`
	IndexOf string `msgpack:"index_of,omitempty" json:"index_of,omitempty" bson:"index_of,omitempty"`
}

type arrayConfig struct {
	indexOf string
}

// ArrayOption configures an array field.
type ArrayOption func(*arrayConfig)

// WithIndexOf declares the values as item indexes into the sibling field
// name, whose items are aligned with this container's items. Splits rebase
// the indexes per destination and appends shift them past the items
// already present.
func WithIndexOf(name string) ArrayOption {
	return func(c *arrayConfig) {
		c.indexOf = name
	}
}

// NewArray creates an array field owning values. perItem below 1 is
// treated as 1. The caller must not modify values afterwards.
func NewArray[T Number](values []T, perItem int, opts ...ArrayOption) *Array[T] {
	var cfg arrayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if perItem < 1 {
		perItem = 1
	}
	return &Array[T]{values: values, perItem: perItem, indexOf: cfg.indexOf}
}

// Values returns the backing elements. Callers must not retain them across
// a merge.
func (a *Array[T]) Values() []T { return a.values }

// PerItem returns the number of elements per item.
func (a *Array[T]) PerItem() int { return a.perItem }

// IndexOf returns the sibling field the values index, if any.
func (a *Array[T]) IndexOf() string { return a.indexOf }

// Item returns the elements of item i.
func (a *Array[T]) Item(i int) []T {
	return a.values[i*a.perItem : (i+1)*a.perItem]
}

func (a *Array[T]) Kind() Kind { return KindArray }

func (a *Array[T]) TypeName() string { return arrayTypeName[T]() }

func (a *Array[T]) Len() int { return len(a.values) / a.perItem }

func (a *Array[T]) Countable() bool { return true }

func (a *Array[T]) BlockSplitable() bool { return false }

func (a *Array[T]) Clone() Field {
	return &Array[T]{values: append([]T(nil), a.values...), perItem: a.perItem, indexOf: a.indexOf}
}

func (a *Array[T]) CanMerge(other Field) bool {
	o, ok := other.(*Array[T])
	return ok && o.perItem == a.perItem
}

func (a *Array[T]) derive(values []T) *Array[T] {
	return &Array[T]{values: values, perItem: a.perItem, indexOf: a.indexOf}
}

// Split cuts the array by counts or index lists. SplitKeepValue copies the
// whole array to every destination.
func (a *Array[T]) Split(r Ranges, peers []*Container, p SplitPolicy) ([]Field, error) {
	switch p {
	case SplitKeepValue:
		out := make([]Field, r.Len())
		for i := range out {
			out[i] = a.Clone()
		}
		return out, nil
	case SplitDefault, SplitSegmented:
		switch {
		case r.Indexes != nil:
			if p == SplitSegmented {
				return nil, unsupported(KindArray, p)
			}
			return a.splitIndexes(r.Indexes)
		case r.Blocks != nil:
			return nil, fmt.Errorf("%w: array fields need index lists to split by blocks", ErrInvalidRanges)
		default:
			return a.splitCounts(r.Counts, peers)
		}
	default:
		return nil, unsupported(KindArray, p)
	}
}

func (a *Array[T]) splitCounts(counts []int, peers []*Container) ([]Field, error) {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != a.Len() {
		return nil, &CountMismatchError{Expected: a.Len(), Got: total}
	}

	out := make([]Field, len(counts))
	offset, base := 0, 0
	for i, c := range counts {
		sub := make([]T, c*a.perItem)
		copy(sub, a.values[offset*a.perItem:(offset+c)*a.perItem])
		offset += c

		if a.indexOf != "" {
			limit, err := siblingLen(peers, i, a.indexOf)
			if err != nil {
				return nil, err
			}
			if err := rebase(sub, base, limit); err != nil {
				return nil, err
			}
			base += limit
		}
		out[i] = a.derive(sub)
	}
	return out, nil
}

func (a *Array[T]) splitIndexes(lists [][]int) ([]Field, error) {
	total := 0
	for _, l := range lists {
		total += RangeTotal(l)
	}
	if total != a.Len() {
		return nil, &CountMismatchError{Expected: a.Len(), Got: total}
	}

	out := make([]Field, len(lists))
	for i, l := range lists {
		sub := make([]T, 0, RangeTotal(l)*a.perItem)
		var err error
		ForEachRun(l, func(offset, count int) {
			if offset+count > a.Len() {
				err = fmt.Errorf("%w: run (%d, %d) past %d items", ErrInvalidRanges, offset, count, a.Len())
				return
			}
			sub = append(sub, a.values[offset*a.perItem:(offset+count)*a.perItem]...)
		})
		if err != nil {
			return nil, err
		}

		if a.indexOf != "" {
			local := localIndexes(l)
			for k, v := range sub {
				pos, ok := local[int(v)]
				if !ok {
					return nil, fmt.Errorf("%w: %v", ErrDanglingIndex, v)
				}
				sub[k] = T(pos)
			}
		}
		out[i] = a.derive(sub)
	}
	return out, nil
}

func siblingLen(peers []*Container, i int, name string) (int, error) {
	if i >= len(peers) || peers[i] == nil {
		return 0, fmt.Errorf("%w: %q", ErrSplitOrder, name)
	}
	f, ok := peers[i].Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrSplitOrder, name)
	}
	return f.Len(), nil
}

func rebase[T Number](values []T, base, limit int) error {
	for k, v := range values {
		local := int(v) - base
		if local < 0 || local >= limit {
			return fmt.Errorf("%w: %v", ErrDanglingIndex, v)
		}
		values[k] = T(local)
	}
	return nil
}

func (a *Array[T]) precheck(other Field, mc *MergeContext, p MergePolicy) error {
	o, ok := other.(*Array[T])
	if !ok {
		return fmt.Errorf("cannot merge %s into %s", other.TypeName(), a.TypeName())
	}
	if o.perItem != a.perItem {
		return fmt.Errorf("elements per item differ: %d != %d", a.perItem, o.perItem)
	}
	switch p {
	case MergeDefault, MergeAppendValues:
		if a.indexOf != "" && !mc.has(a.indexOf) {
			return fmt.Errorf("indexed sibling %q is missing", a.indexOf)
		}
		return nil
	case MergeBBoxPos:
		if len(o.values) != 6 || (len(a.values) != 0 && len(a.values) != 6) {
			return fmt.Errorf("bounding boxes need 6 elements, got %d and %d", len(a.values), len(o.values))
		}
		return nil
	default:
		return unsupported(KindArray, p)
	}
}

// Merge appends the peer's items, shifting indexes past the items already
// present when the array indexes a sibling. MergeBBoxPos unions two boxes
// stored as [minx miny minz maxx maxy maxz].
func (a *Array[T]) Merge(other Field, mc *MergeContext, p MergePolicy) error {
	if err := a.precheck(other, mc, p); err != nil {
		return err
	}
	o := other.(*Array[T])

	if p == MergeBBoxPos {
		if len(a.values) == 0 {
			a.values = append([]T(nil), o.values...)
			return nil
		}
		for k := 0; k < 3; k++ {
			a.values[k] = min(a.values[k], o.values[k])
			a.values[k+3] = max(a.values[k+3], o.values[k+3])
		}
		return nil
	}

	if a.indexOf == "" {
		a.values = append(a.values, o.values...)
		return nil
	}
	shift := T(mc.Offset(a.indexOf))
	for _, v := range o.values {
		a.values = append(a.values, v+shift)
	}
	return nil
}

func (a *Array[T]) asFloat32() []float32 {
	out := make([]float32, len(a.values))
	for i, v := range a.values {
		out[i] = float32(v)
	}
	return out
}

func (a *Array[T]) asUint32() []uint32 {
	out := make([]uint32, len(a.values))
	for i, v := range a.values {
		out[i] = uint32(v)
	}
	return out
}

func (a *Array[T]) encode(codec payload.Codec) ([]byte, error) {
	values := a.values
	if len(values) == 0 {
		values = nil
	}
	return codec.Encode(arrayState[T]{Values: values, PerItem: a.perItem, IndexOf: a.indexOf})
}

func decodeArray[T Number](codec payload.Codec, data []byte) (Field, error) {
	var st arrayState[T]
	if err := codec.Decode(data, &st); err != nil {
		return nil, err
	}
	return NewArray(st.Values, st.PerItem, WithIndexOf(st.IndexOf)), nil
}

func arrayTypeName[T Number]() string {
	var zero T
	return fmt.Sprintf("array<%T>", zero)
}

var _ Field = (*Array[float32])(nil)
