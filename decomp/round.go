package decomp

import (
	"context"

	"github.com/rbaliyan/redist/container"
)

// RoundRobin deals items to destinations by global index: item g goes to
// destination g mod N.
type RoundRobin struct{}

// NewRoundRobin creates a round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name returns "round"
func (s *RoundRobin) Name() string { return "round" }

// Layout computes the caller's global offset.
func (s *RoundRobin) Layout(ctx context.Context, coll Collective, c *container.Container, sources, dests, rank int) (Layout, error) {
	return countLayout(ctx, coll, c, sources, dests, rank)
}

// Plan builds one coalesced index list per destination.
func (s *RoundRobin) Plan(c *container.Container, l Layout) (*Plan, error) {
	if l.Dests < 1 {
		return nil, configErrorf("%d destinations", l.Dests)
	}
	lists := make([]container.IndexList, l.Dests)
	for i := 0; i < l.Local; i++ {
		lists[(l.Offset+i)%l.Dests].Add(i)
	}

	ranges := make([][]int, len(lists))
	for d := range lists {
		ranges[d] = lists[d].Ranges()
	}
	return planFromLists(ranges), nil
}
