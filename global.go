package redist

import (
	"context"
	"fmt"

	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/decomp"
)

// computeGlobal runs the strategy layout over the source group. Every
// source takes part in the layout collectives, even when it then fails.
func (c *Component) computeGlobal(ctx context.Context, data *container.Container) (decomp.Layout, error) {
	ctx, span := c.tracer.Start(ctx, "redist.global")
	layout, err := c.strategy.Layout(ctx, c.srcGroup, data, c.sources.Count, c.dests.Count, c.srcGroup.Rank())
	endSpan(span, err)
	if err != nil {
		return layout, fmt.Errorf("compute global layout: %w", err)
	}

	c.logger.Debug("global layout computed", "offset", layout.Offset, "local", layout.Local, "total", layout.Total)
	return layout, nil
}
