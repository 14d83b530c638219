package redist

import (
	"context"
	"fmt"

	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/decomp"
	"github.com/rbaliyan/redist/payload"
)

// splitData cuts the container into one chunk per destination, keeps the
// chunk of the caller's own rank in the transit slot and serializes the
// others. The container is purged afterwards.
func (c *Component) splitData(ctx context.Context, data *container.Container, layout decomp.Layout) (err error) {
	_, span := c.tracer.Start(ctx, "redist.split")
	defer func() { endSpan(span, err) }()

	chunks, dests, err := c.plan(data, layout)
	if err != nil {
		return err
	}

	self := c.comm.Rank()
	for i, chunk := range chunks {
		dest := c.dests.Rank(dests[i])
		if dest == self && c.opts.transit {
			c.transit = chunk
			c.metrics.Transit(ctx)
			continue
		}
		encoded, err := c.encode(chunk)
		if err != nil {
			return fmt.Errorf("encode chunk for rank %d: %w", dest, err)
		}
		c.outbound = append(c.outbound, outbound{dest: dest, chunk: chunk, data: encoded})
	}

	c.logger.Debug("container split", "items", data.Len(), "chunks", len(chunks), "transit", c.transit != nil)
	data.Purge()
	return nil
}

// plan returns the chunks and their destination indexes.
func (c *Component) plan(data *container.Container, layout decomp.Layout) ([]*container.Container, []int, error) {
	_, expecter := c.strategy.(decomp.Expecter)
	if data.Metadata().SystemOnly() && !expecter {
		return c.splitSystemData(data)
	}

	plan, err := c.strategy.Plan(data, layout)
	if err != nil {
		return nil, nil, fmt.Errorf("plan %s: %w", c.strategy.Name(), err)
	}
	if plan.Empty() {
		return nil, nil, nil
	}

	if plan.Replicate {
		chunks := make([]*container.Container, len(plan.Dests))
		for i := range chunks {
			chunks[i] = data.Clone()
		}
		return chunks, plan.Dests, nil
	}

	chunks, err := data.Split(plan.Ranges)
	if err != nil {
		return nil, nil, fmt.Errorf("split: %w", err)
	}
	if len(chunks) != len(plan.Dests) {
		return nil, nil, &CountMismatchError{Expected: len(plan.Dests), Got: len(chunks)}
	}
	return chunks, plan.Dests, nil
}

// splitSystemData gives every destination a copy of a container holding
// only System fields.
func (c *Component) splitSystemData(data *container.Container) ([]*container.Container, []int, error) {
	chunks := make([]*container.Container, c.dests.Count)
	dests := make([]int, c.dests.Count)
	for d := range chunks {
		chunks[d] = data.Clone()
		dests[d] = d
	}
	return chunks, dests, nil
}

// encode serializes a chunk, packed when WithPack is set.
func (c *Component) encode(chunk *container.Container) ([]byte, error) {
	data, err := chunk.Serialize()
	if err != nil {
		return nil, err
	}
	if c.opts.pack == nil || len(data) == 0 {
		return data, nil
	}
	return payload.Pack(data, *c.opts.pack)
}

// decodePayload undoes encode. Unpacked payloads are returned as is.
func decodePayload(data []byte) ([]byte, error) {
	if !payload.IsPacked(data) {
		return data, nil
	}
	return payload.Unpack(data)
}
