// Package decomp provides decomposition strategies deciding which destination
// rank receives which items of a source container.
//
// A redistribution moves the items held by M source ranks to N destination
// ranks. Every strategy works in two steps:
//   - Layout runs once per iteration on every source and may use collective
//     operations over the source group (prefix sums, bounding boxes)
//   - Plan turns the layout into per-destination ranges for Container.Split
//
// # Strategies
//
// The package provides:
//   - Count: contiguous global ranges of equal size
//   - RoundRobin: global item g goes to destination g mod N
//   - Block: recursive bisection of a 3-D domain, items routed by position
//   - ZCurve: items ordered along a Morton curve cut in N ranges
//   - Proc: whole containers gathered or broadcast between rank groups
//
// # Basic Usage
//
//	strategy := decomp.NewCount()
//	layout, err := strategy.Layout(ctx, group, c, sources, dests, rank)
//	if err != nil {
//	    return err
//	}
//	plan, err := strategy.Plan(c, layout)
//	if err != nil {
//	    return err
//	}
//	chunks, err := c.Split(plan.Ranges)
//	// chunks[i] goes to destination plan.Dests[i]
//
// All strategies are deterministic: the same inputs give the same plan on
// every run, which lets destinations and sources agree without negotiation.
package decomp

import (
	"context"

	"github.com/rbaliyan/redist/container"
)

// Collective is the subset of group operations a strategy needs. Every
// member of the source group must call the same operations in the same
// order.
type Collective interface {
	// Scan returns the exclusive prefix sum of v over the group.
	Scan(ctx context.Context, v int) (int, error)

	// AllreduceSum returns the sum of v over the group.
	AllreduceSum(ctx context.Context, v int) (int, error)

	// AllreduceMinFloat returns the element-wise minimum of v.
	AllreduceMinFloat(ctx context.Context, v []float32) ([]float32, error)

	// AllreduceMaxFloat returns the element-wise maximum of v.
	AllreduceMaxFloat(ctx context.Context, v []float32) ([]float32, error)
}

// Layout is the global view a source computes before planning.
type Layout struct {
	// Rank is the caller's index in the source group.
	Rank    int
	Sources int
	Dests   int

	// Offset is the global index of the first local item.
	Offset int
	Local  int
	Total  int

	// Blocks holds one sub-domain per destination.
	Blocks []container.Block

	// BBox is the global box as [minx miny minz maxx maxy maxz].
	BBox []float32
}

// Plan tells a source what to send where.
type Plan struct {
	// Dests[i] is the destination index (within the destination group) of
	// chunk i.
	Dests []int

	// Ranges cuts the container into len(Dests) chunks.
	Ranges container.Ranges

	// Replicate sends the whole container to every listed destination
	// instead of splitting it.
	Replicate bool
}

// Empty reports whether the plan sends nothing.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Dests) == 0
}

// Strategy decides the destination of every item.
//
// Implementations:
//   - Count: contiguous, balanced global ranges
//   - RoundRobin: cyclic assignment by global index
//   - Block: spatial sub-domains from the domain block field
//   - ZCurve: Morton order over a regular grid
//   - Proc: whole containers by rank affinity
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// Layout computes the global view. Collective operations are issued on
	// coll, so every source must call Layout.
	Layout(ctx context.Context, coll Collective, c *container.Container, sources, dests, rank int) (Layout, error)

	// Plan derives the per-destination ranges from the layout.
	Plan(c *container.Container, l Layout) (*Plan, error)
}

// Expecter is implemented by strategies whose destinations can tell who
// sends to them without exchanging counts.
type Expecter interface {
	// Senders returns the source indexes sending to destination dest.
	Senders(dest, sources, dests int) []int
}

// Validator is implemented by strategies that restrict the source and
// destination counts they accept.
type Validator interface {
	// Validate returns a *ConfigError when the counts are not supported.
	Validate(sources, dests int) error
}

// planFromLists keeps the destinations with at least one item.
func planFromLists(lists [][]int) *Plan {
	p := &Plan{Ranges: container.Ranges{Indexes: [][]int{}}}
	for d, l := range lists {
		if container.RangeTotal(l) == 0 {
			continue
		}
		p.Dests = append(p.Dests, d)
		p.Ranges.Indexes = append(p.Ranges.Indexes, l)
	}
	return p
}

// Compile-time checks
var (
	_ Strategy  = (*Count)(nil)
	_ Strategy  = (*RoundRobin)(nil)
	_ Strategy  = (*BlockStrategy)(nil)
	_ Strategy  = (*ZCurve)(nil)
	_ Strategy  = (*Proc)(nil)
	_ Expecter  = (*Proc)(nil)
	_ Validator = (*Proc)(nil)
)
