package redist

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// folder merges the chunks of an iteration in ascending source rank, so the
// result does not depend on arrival order or on whether the caller's own
// chunk travelled through the communicator.
type folder struct {
	data    *container.Container
	once    bool
	order   []int
	next    int
	pending map[int]*container.Container
}

// add records the chunk of rank and folds every chunk that is now in order.
// Without a known sender order chunks are held until finish.
func (f *folder) add(rank int, chunk *container.Container) error {
	f.pending[rank] = chunk
	for f.next < len(f.order) {
		r := f.order[f.next]
		p, ok := f.pending[r]
		if !ok {
			return nil
		}
		delete(f.pending, r)
		f.next++
		if err := f.fold(r, p); err != nil {
			return err
		}
	}
	return nil
}

// finish folds the held chunks by rank and completes a merge-once pass.
func (f *folder) finish() error {
	for _, r := range slices.Sorted(maps.Keys(f.pending)) {
		p := f.pending[r]
		delete(f.pending, r)
		if err := f.fold(r, p); err != nil {
			return err
		}
	}
	if f.once {
		if err := f.data.MergeStored(); err != nil {
			return fmt.Errorf("merge stored chunks: %w", err)
		}
	}
	return nil
}

func (f *folder) fold(rank int, chunk *container.Container) error {
	if f.once {
		f.data.Store(chunk)
		return nil
	}
	if err := f.data.Merge(chunk); err != nil {
		return fmt.Errorf("merge chunk from rank %d: %w", rank, err)
	}
	return nil
}

// merge folds the transit chunk and the expected messages into data.
// senders lists the contributing ranks when the caller knows them ahead of
// the messages.
func (c *Component) merge(ctx context.Context, data *container.Container, expected int, senders []int) (err error) {
	ctx, span := c.tracer.Start(ctx, "redist.merge",
		trace.WithAttributes(attribute.Int("redist.expected", expected)))
	defer func() {
		if err != nil {
			c.metrics.MergeFailed(ctx)
		}
		endSpan(span, err)
	}()

	f := &folder{
		data:    data,
		once:    c.opts.merge == MergeOnce,
		order:   senders,
		pending: make(map[int]*container.Container),
	}

	self := c.comm.Rank()
	if c.opts.transit && c.sources.Contains(self) {
		t := c.transit
		c.transit = nil
		if err := f.add(self, t); err != nil {
			return err
		}
	}

	for i := 0; i < expected; i++ {
		msg, err := c.comm.Recv(ctx, transport.AnySource, c.tag)
		if err != nil {
			return fmt.Errorf("receive chunk %d of %d: %w", i+1, expected, err)
		}
		c.metrics.Received(ctx)

		raw, err := decodePayload(msg.Payload())
		if err != nil {
			return fmt.Errorf("unpack chunk from rank %d: %w", msg.Source(), err)
		}
		chunk, err := data.Decode(raw)
		if err != nil {
			return fmt.Errorf("unpack chunk from rank %d: %w", msg.Source(), err)
		}
		if err := f.add(msg.Source(), chunk); err != nil {
			return err
		}
	}

	if err := f.finish(); err != nil {
		return err
	}

	c.logger.Debug("chunks merged", "received", expected, "items", data.Len())
	return nil
}
