package decomp

import (
	"context"

	"github.com/rbaliyan/redist/container"
)

// Proc moves whole containers by rank affinity. With as many sources as
// destinations every source sends to its peer; with more sources, groups
// of sources gather on one destination; with fewer, every source
// broadcasts to a group of destinations. One count must divide the other.
type Proc struct{}

// NewProc creates a process affinity strategy.
func NewProc() *Proc {
	return &Proc{}
}

// Name returns "proc"
func (s *Proc) Name() string { return "proc" }

// Layout checks the rank counts. No collective is needed.
func (s *Proc) Layout(_ context.Context, _ Collective, c *container.Container, sources, dests, rank int) (Layout, error) {
	l := Layout{Rank: rank, Sources: sources, Dests: dests, Local: c.Len()}
	if err := checkProc(sources, dests); err != nil {
		return l, err
	}
	return l, nil
}

func checkProc(sources, dests int) error {
	if sources < 1 || dests < 1 {
		return configErrorf("proc needs at least one source and one destination, got %d and %d", sources, dests)
	}
	if sources%dests != 0 && dests%sources != 0 {
		return configErrorf("proc needs one of %d sources and %d destinations to divide the other", sources, dests)
	}
	return nil
}

// Validate checks that one count divides the other.
func (s *Proc) Validate(sources, dests int) error {
	return checkProc(sources, dests)
}

// Plan lists the destinations receiving the whole container.
func (s *Proc) Plan(_ *container.Container, l Layout) (*Plan, error) {
	if err := checkProc(l.Sources, l.Dests); err != nil {
		return nil, err
	}
	p := &Plan{Replicate: true}
	if l.Sources >= l.Dests {
		p.Dests = []int{l.Rank / (l.Sources / l.Dests)}
		return p, nil
	}
	fan := l.Dests / l.Sources
	for d := l.Rank * fan; d < (l.Rank+1)*fan; d++ {
		p.Dests = append(p.Dests, d)
	}
	return p, nil
}

// Senders returns the sources sending to dest.
func (s *Proc) Senders(dest, sources, dests int) []int {
	if checkProc(sources, dests) != nil || dest < 0 || dest >= dests {
		return nil
	}
	if sources >= dests {
		group := sources / dests
		out := make([]int, group)
		for i := range out {
			out[i] = dest*group + i
		}
		return out
	}
	return []int{dest / (dests / sources)}
}
