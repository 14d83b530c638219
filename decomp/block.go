package decomp

import (
	"context"
	"slices"

	"github.com/rbaliyan/redist/container"
)

// DefaultBlockField is the field holding the global domain description.
const DefaultBlockField = "domain_block"

// BlockStrategy cuts the global domain into one sub-block per destination
// and routes every item to the first sub-block containing its position.
// Chunks carry their destination's sub-block in place of the domain field.
type BlockStrategy struct {
	opts *blockOptions
}

// NewBlock creates a block strategy.
func NewBlock(opts ...BlockOption) *BlockStrategy {
	return &BlockStrategy{opts: newBlockOptions(opts...)}
}

// Name returns "block"
func (s *BlockStrategy) Name() string { return "block" }

// Layout reads the domain field and bisects it. No collective is needed:
// every source holds the same global domain.
func (s *BlockStrategy) Layout(_ context.Context, _ Collective, c *container.Container, sources, dests, rank int) (Layout, error) {
	l := Layout{Rank: rank, Sources: sources, Dests: dests, Local: c.Len()}
	f, ok := container.FieldAs[*container.BlockField](c, s.opts.field)
	if !ok {
		return l, &container.CapabilityError{Reason: "no block field " + s.opts.field}
	}
	blocks, err := SplitDomain(f.Value(), dests)
	if err != nil {
		return l, err
	}
	l.Blocks = blocks
	return l, nil
}

// Plan assigns items to sub-blocks. Destinations without items are left
// out of the plan.
func (s *BlockStrategy) Plan(c *container.Container, l Layout) (*Plan, error) {
	if len(l.Blocks) == 0 {
		return &Plan{}, nil
	}
	lists, err := c.IndexesFromBlocks(l.Blocks)
	if err != nil {
		return nil, err
	}

	p := &Plan{Ranges: container.Ranges{Blocks: []container.Block{}, Indexes: [][]int{}}}
	for d, list := range lists {
		if container.RangeTotal(list) == 0 {
			continue
		}
		p.Dests = append(p.Dests, d)
		p.Ranges.Blocks = append(p.Ranges.Blocks, l.Blocks[d])
		p.Ranges.Indexes = append(p.Ranges.Indexes, list)
	}
	return p, nil
}

// SplitDomain cuts a global domain into n sub-blocks. The domain needs a
// gridspace and a global box; global extents are derived when missing.
// Sub-blocks with a ghost size get their local box widened by that many
// cells, clipped to the domain, and keep the unwidened box as own box.
func SplitDomain(domain container.Block, n int) ([]container.Block, error) {
	if domain.Gridspace <= 0 {
		return nil, &container.CapabilityError{Reason: "domain block has no gridspace"}
	}
	if len(domain.GlobalBBox) != 6 {
		return nil, &container.CapabilityError{Reason: "domain block has no global box"}
	}
	if len(domain.GlobalExtents) != 6 {
		domain = domain.Clone()
		domain.UpdateExtents()
	}

	extents, err := SplitExtents(domain.GlobalExtents, n)
	if err != nil {
		return nil, err
	}

	out := make([]container.Block, len(extents))
	for i, e := range extents {
		b := container.Block{
			Gridspace:     domain.Gridspace,
			GlobalBBox:    slices.Clone(domain.GlobalBBox),
			GlobalExtents: slices.Clone(domain.GlobalExtents),
			OwnExtents:    e,
			OwnBBox:       boxOf(domain, e),
			GhostSize:     domain.GhostSize,
		}
		if domain.GhostSize > 0 {
			b.LocalExtents = widen(e, domain.GlobalExtents, domain.GhostSize)
			b.LocalBBox = boxOf(domain, b.LocalExtents)
		} else {
			b.LocalExtents = slices.Clone(e)
			b.LocalBBox = slices.Clone(b.OwnBBox)
		}
		out[i] = b
	}
	return out, nil
}

// SplitExtents bisects extents [x y z dx dy dz] into n parts, cutting
// along the largest dimension each time. The first half of a cut gets
// the extra cell and the extra parts of an odd split.
func SplitExtents(extents []uint32, n int) ([][]uint32, error) {
	if n < 1 {
		return nil, configErrorf("cannot split a domain in %d parts", n)
	}
	if len(extents) != 6 {
		return nil, configErrorf("extents need 6 values, got %d", len(extents))
	}
	var out [][]uint32
	if err := splitExtents(slices.Clone(extents), n, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func splitExtents(e []uint32, n int, out *[][]uint32) error {
	if n == 1 {
		*out = append(*out, e)
		return nil
	}

	dim := 0
	if e[4] > e[3+dim] {
		dim = 1
	}
	if e[5] > e[3+dim] {
		dim = 2
	}
	if e[3+dim] < 2 {
		return configErrorf("domain %v too small to cut in %d parts", e, n)
	}

	first := slices.Clone(e)
	first[3+dim] = e[3+dim]/2 + e[3+dim]%2
	second := slices.Clone(e)
	second[dim] += first[3+dim]
	second[3+dim] = e[3+dim] / 2

	if err := splitExtents(first, n/2+n%2, out); err != nil {
		return err
	}
	return splitExtents(second, n/2, out)
}

// boxOf converts extents into a space box, clipped to the global box.
func boxOf(domain container.Block, e []uint32) []float32 {
	g := domain.GlobalBBox
	box := make([]float32, 6)
	for i := 0; i < 3; i++ {
		box[i] = g[i] + float32(e[i])*domain.Gridspace
		hi := min(box[i]+float32(e[3+i])*domain.Gridspace, g[i]+g[3+i])
		box[3+i] = max(hi-box[i], 0)
	}
	return box
}

func widen(e, global []uint32, ghost uint32) []uint32 {
	out := make([]uint32, 6)
	for i := 0; i < 3; i++ {
		lo := global[i]
		if e[i] > global[i]+ghost {
			lo = e[i] - ghost
		}
		hi := min(e[i]+e[3+i]+ghost, global[i]+global[3+i])
		out[i] = lo
		out[3+i] = hi - lo
	}
	return out
}
