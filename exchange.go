package redist

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rbaliyan/redist/decomp"
	"github.com/rbaliyan/redist/transport"
	"github.com/vmihailenco/msgpack/v5"
)

// send starts the sends of the iteration. Requests complete at Flush.
func (c *Component) send(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "redist.transfer.send")
	defer func() { endSpan(span, err) }()

	switch c.opts.comm {
	case CommP2P:
		return c.sendAll(ctx)
	default:
		if _, ok := c.strategy.(decomp.Expecter); !ok {
			if err := c.sendCounts(ctx); err != nil {
				return err
			}
		}
		for _, out := range c.outbound {
			if err := c.isend(ctx, out.dest, out.data, out.chunk.Len()); err != nil {
				return err
			}
		}
		return nil
	}
}

// sendCounts sums the will-send vectors of the sources at the source root,
// which forwards the per-destination message counts to the destination
// root.
func (c *Component) sendCounts(ctx context.Context) error {
	will := make([]int, c.dests.Count)
	for _, out := range c.outbound {
		will[c.dests.Index(out.dest)] = 1
	}

	counts, err := c.srcGroup.ReduceSum(ctx, 0, will)
	if err != nil {
		return fmt.Errorf("reduce message counts: %w", err)
	}
	if c.srcGroup.Rank() != 0 {
		return nil
	}

	encoded, err := msgpack.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encode message counts: %w", err)
	}
	if err := c.comm.Send(ctx, c.dests.First, MetaTag, encoded); err != nil {
		return fmt.Errorf("send message counts: %w", err)
	}
	c.logger.Debug("message counts sent", "counts", counts)
	return nil
}

// sendAll sends one message to every destination but the caller's own
// transit, empty when there is no chunk for it.
func (c *Component) sendAll(ctx context.Context) error {
	byDest := make(map[int]outbound, len(c.outbound))
	for _, out := range c.outbound {
		byDest[out.dest] = out
	}

	self := c.comm.Rank()
	for d := 0; d < c.dests.Count; d++ {
		dest := c.dests.Rank(d)
		if dest == self && c.opts.transit {
			continue
		}
		out, ok := byDest[dest]
		if !ok {
			if err := c.isend(ctx, dest, nil, 0); err != nil {
				return err
			}
			continue
		}
		if err := c.isend(ctx, dest, out.data, out.chunk.Len()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Component) isend(ctx context.Context, dest int, data []byte, items int) error {
	req, err := c.comm.Isend(ctx, dest, c.tag, data)
	if err != nil {
		return fmt.Errorf("send to rank %d: %w", dest, err)
	}
	c.requests = append(c.requests, req)
	c.metrics.Sent(ctx, items, len(data))
	return nil
}

// expected returns the number of data messages the caller receives this
// iteration, the transit chunk excluded.
func (c *Component) expected(ctx context.Context) (n int, err error) {
	ctx, span := c.tracer.Start(ctx, "redist.transfer.expect")
	defer func() { endSpan(span, err) }()

	self := c.comm.Rank()
	selfSource := c.sources.Contains(self) && c.opts.transit

	if c.opts.comm == CommP2P {
		n = c.sources.Count
		if selfSource {
			n--
		}
		return n, nil
	}

	if e, ok := c.strategy.(decomp.Expecter); ok {
		for _, s := range e.Senders(c.dests.Index(self), c.sources.Count, c.dests.Count) {
			if c.sources.Rank(s) == self && c.opts.transit {
				continue
			}
			n++
		}
		return n, nil
	}

	var counts []int
	if c.dstGroup.Rank() == 0 {
		msg, err := c.comm.Recv(ctx, c.sources.First, MetaTag)
		if err != nil {
			return 0, fmt.Errorf("receive message counts: %w", err)
		}
		if err := msgpack.Unmarshal(msg.Payload(), &counts); err != nil {
			return 0, errors.Join(transport.ErrDecodeFailure, err)
		}
		if len(counts) != c.dests.Count {
			return 0, fmt.Errorf("%w: %d message counts for %d destinations", transport.ErrDecodeFailure, len(counts), c.dests.Count)
		}
	}

	n, err = c.dstGroup.Scatter(ctx, 0, counts)
	if err != nil {
		return 0, fmt.Errorf("scatter message counts: %w", err)
	}
	return n, nil
}

// senders returns the ranks that contribute a chunk to the caller this
// iteration in ascending order, its own rank included, or nil when only
// the count of messages is known.
func (c *Component) senders() []int {
	if c.opts.comm == CommP2P {
		ranks := make([]int, c.sources.Count)
		for i := range ranks {
			ranks[i] = c.sources.Rank(i)
		}
		return ranks
	}
	e, ok := c.strategy.(decomp.Expecter)
	if !ok {
		return nil
	}
	idx := e.Senders(c.dests.Index(c.comm.Rank()), c.sources.Count, c.dests.Count)
	ranks := make([]int, 0, len(idx))
	for _, s := range idx {
		ranks = append(ranks, c.sources.Rank(s))
	}
	slices.Sort(ranks)
	return slices.Compact(ranks)
}
