package container

import (
	"fmt"
	"math"
	"slices"

	"github.com/rbaliyan/redist/payload"
)

// Block describes a 3-D domain. Boxes are [x, y, z, dx, dy, dz] in space
// coordinates, extents the same layout in grid cells of Gridspace. A nil
// slice means the box or extent is unset.
type Block struct {
	Gridspace     float32   `msgpack:"gridspace,omitempty" json:"gridspace,omitempty" bson:"gridspace,omitempty"`
	GlobalBBox    []float32 `msgpack:"global_bbox,omitempty" json:"global_bbox,omitempty" bson:"global_bbox,omitempty"`
	GlobalExtents []uint32  `msgpack:"global_extents,omitempty" json:"global_extents,omitempty" bson:"global_extents,omitempty"`
	LocalBBox     []float32 `msgpack:"local_bbox,omitempty" json:"local_bbox,omitempty" bson:"local_bbox,omitempty"`
	LocalExtents  []uint32  `msgpack:"local_extents,omitempty" json:"local_extents,omitempty" bson:"local_extents,omitempty"`
	OwnBBox       []float32 `msgpack:"own_bbox,omitempty" json:"own_bbox,omitempty" bson:"own_bbox,omitempty"`
	OwnExtents    []uint32  `msgpack:"own_extents,omitempty" json:"own_extents,omitempty" bson:"own_extents,omitempty"`
	GhostSize     uint32    `msgpack:"ghost_size,omitempty" json:"ghost_size,omitempty" bson:"ghost_size,omitempty"`
}

// InLocalBox reports whether a point lies in the local box, bounds included.
func (b Block) InLocalBox(x, y, z float32) bool {
	return inBox(b.LocalBBox, x, y, z)
}

// InOwnBox reports whether a point lies in the owned (ghost-free) box.
func (b Block) InOwnBox(x, y, z float32) bool {
	return inBox(b.OwnBBox, x, y, z)
}

// InLocalExtents reports whether a grid cell lies in the local extents.
// Upper bounds are excluded.
func (b Block) InLocalExtents(x, y, z uint32) bool {
	e := b.LocalExtents
	if len(e) != 6 {
		return false
	}
	return x >= e[0] && x < e[0]+e[3] &&
		y >= e[1] && y < e[1]+e[4] &&
		z >= e[2] && z < e[2]+e[5]
}

func inBox(box []float32, x, y, z float32) bool {
	if len(box) != 6 {
		return false
	}
	return x >= box[0] && x <= box[0]+box[3] &&
		y >= box[1] && y <= box[1]+box[4] &&
		z >= box[2] && z <= box[2]+box[5]
}

// UpdateExtents derives grid extents from the boxes. Returns false when no
// gridspace is set.
func (b *Block) UpdateExtents() bool {
	if b.Gridspace <= 0 {
		return false
	}
	b.GlobalExtents = extentsOf(b.GlobalBBox, b.Gridspace, b.GlobalExtents)
	b.LocalExtents = extentsOf(b.LocalBBox, b.Gridspace, b.LocalExtents)
	b.OwnExtents = extentsOf(b.OwnBBox, b.Gridspace, b.OwnExtents)
	return true
}

func extentsOf(box []float32, gridspace float32, current []uint32) []uint32 {
	if len(box) != 6 {
		return current
	}
	e := make([]uint32, 6)
	for i := 0; i < 3; i++ {
		e[3+i] = uint32(math.Ceil(float64(box[3+i] / gridspace)))
	}
	return e
}

// Union returns the smallest block containing b and other, box by box.
// Boxes set on only one side are kept from b.
func (b Block) Union(other Block) Block {
	out := b.Clone()
	out.GlobalBBox = unionBox(out.GlobalBBox, other.GlobalBBox)
	out.LocalBBox = unionBox(out.LocalBBox, other.LocalBBox)
	out.OwnBBox = unionBox(out.OwnBBox, other.OwnBBox)
	out.GlobalExtents = unionExtents(out.GlobalExtents, other.GlobalExtents)
	out.LocalExtents = unionExtents(out.LocalExtents, other.LocalExtents)
	out.OwnExtents = unionExtents(out.OwnExtents, other.OwnExtents)
	return out
}

func unionBox(a, b []float32) []float32 {
	if len(a) != 6 || len(b) != 6 {
		return a
	}
	for i := 0; i < 3; i++ {
		hi := max(a[i]+a[3+i], b[i]+b[3+i])
		a[i] = min(a[i], b[i])
		a[3+i] = hi - a[i]
	}
	return a
}

func unionExtents(a, b []uint32) []uint32 {
	if len(a) != 6 || len(b) != 6 {
		return a
	}
	for i := 0; i < 3; i++ {
		hi := max(a[i]+a[3+i], b[i]+b[3+i])
		a[i] = min(a[i], b[i])
		a[3+i] = hi - a[i]
	}
	return a
}

// Clone returns a deep copy.
func (b Block) Clone() Block {
	b.GlobalBBox = slices.Clone(b.GlobalBBox)
	b.GlobalExtents = slices.Clone(b.GlobalExtents)
	b.LocalBBox = slices.Clone(b.LocalBBox)
	b.LocalExtents = slices.Clone(b.LocalExtents)
	b.OwnBBox = slices.Clone(b.OwnBBox)
	b.OwnExtents = slices.Clone(b.OwnExtents)
	return b
}

// BlockField holds the spatial domain of a container. It is not countable
// and splits itself by destination blocks.
type BlockField struct {
	value Block
}

// NewBlockField creates a block field.
func NewBlockField(b Block) *BlockField {
	return &BlockField{value: b}
}

// Value returns the block.
func (f *BlockField) Value() Block { return f.value }

func (f *BlockField) Kind() Kind { return KindBlock }

func (f *BlockField) TypeName() string { return "block" }

func (f *BlockField) Len() int { return 1 }

func (f *BlockField) Countable() bool { return false }

func (f *BlockField) BlockSplitable() bool { return true }

func (f *BlockField) Clone() Field { return &BlockField{value: f.value.Clone()} }

func (f *BlockField) CanMerge(other Field) bool {
	_, ok := other.(*BlockField)
	return ok
}

// Split hands every destination its own block with block ranges, and a
// copy of the value otherwise.
func (f *BlockField) Split(r Ranges, _ []*Container, p SplitPolicy) ([]Field, error) {
	out := make([]Field, r.Len())
	switch p {
	case SplitDefault:
		for i := range out {
			if r.Blocks != nil {
				out[i] = &BlockField{value: r.Blocks[i].Clone()}
			} else {
				out[i] = f.Clone()
			}
		}
	case SplitKeepValue:
		for i := range out {
			out[i] = f.Clone()
		}
	default:
		return nil, unsupported(KindBlock, p)
	}
	return out, nil
}

func (f *BlockField) precheck(other Field, _ *MergeContext, p MergePolicy) error {
	if _, ok := other.(*BlockField); !ok {
		return fmt.Errorf("cannot merge %s into block", other.TypeName())
	}
	switch p {
	case MergeDefault, MergeFirstValue:
		return nil
	default:
		return unsupported(KindBlock, p)
	}
}

// Merge unions the blocks with MergeDefault and keeps the current one with
// MergeFirstValue.
func (f *BlockField) Merge(other Field, mc *MergeContext, p MergePolicy) error {
	if err := f.precheck(other, mc, p); err != nil {
		return err
	}
	if p == MergeDefault {
		f.value = f.value.Union(other.(*BlockField).value)
	}
	return nil
}

func (f *BlockField) encode(codec payload.Codec) ([]byte, error) {
	return codec.Encode(f.value)
}

func decodeBlock(codec payload.Codec, data []byte) (Field, error) {
	var b Block
	if err := codec.Decode(data, &b); err != nil {
		return nil, err
	}
	return &BlockField{value: b}, nil
}

var _ Field = (*BlockField)(nil)
