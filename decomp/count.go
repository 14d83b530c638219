package decomp

import (
	"context"
	"fmt"

	"github.com/rbaliyan/redist/container"
)

// Count splits the global item sequence into contiguous ranges, one per
// destination. The first total mod N destinations receive one extra item.
type Count struct{}

// NewCount creates a count strategy.
func NewCount() *Count {
	return &Count{}
}

// Name returns "count"
func (s *Count) Name() string { return "count" }

// Layout computes the caller's global offset and the global item count.
func (s *Count) Layout(ctx context.Context, coll Collective, c *container.Container, sources, dests, rank int) (Layout, error) {
	return countLayout(ctx, coll, c, sources, dests, rank)
}

// Plan cuts the local items at destination boundaries.
func (s *Count) Plan(c *container.Container, l Layout) (*Plan, error) {
	dests, counts := SplitByCount(l.Offset, l.Local, l.Total, l.Dests)
	return &Plan{Dests: dests, Ranges: container.CountRanges(counts...)}, nil
}

// countLayout is shared by the strategies working on global indexes. A
// non-countable container still takes part in the collectives so the other
// sources are not left waiting.
func countLayout(ctx context.Context, coll Collective, c *container.Container, sources, dests, rank int) (Layout, error) {
	l := Layout{Rank: rank, Sources: sources, Dests: dests}
	if dests < 1 {
		return l, configErrorf("%d destinations", dests)
	}

	countable := c.Countable()
	if countable {
		l.Local = c.Len()
	}

	if sources <= 1 {
		l.Total = l.Local
	} else {
		var err error
		if l.Offset, err = coll.Scan(ctx, l.Local); err != nil {
			return l, fmt.Errorf("scan item counts: %w", err)
		}
		if l.Total, err = coll.AllreduceSum(ctx, l.Local); err != nil {
			return l, fmt.Errorf("reduce item counts: %w", err)
		}
	}

	if !countable {
		return l, &container.CapabilityError{Reason: "container is not countable"}
	}
	return l, nil
}

// SplitByCount intersects the local range [offset, offset+local) with the
// balanced global ranges of total items over dests destinations. It returns
// the destinations receiving items and how many each receives, in
// destination order.
func SplitByCount(offset, local, total, dests int) (destIdx, counts []int) {
	if dests < 1 || local <= 0 || total <= 0 {
		return nil, nil
	}
	base, rem := total/dests, total%dests
	end := offset + local

	for d := 0; d < dests; d++ {
		start := d*base + min(d, rem)
		size := base
		if d < rem {
			size++
		}
		lo := max(start, offset)
		hi := min(start+size, end)
		if hi > lo {
			destIdx = append(destIdx, d)
			counts = append(counts, hi-lo)
		}
		if start+size >= end {
			break
		}
	}
	return destIdx, counts
}
