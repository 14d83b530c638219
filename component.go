package redist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/rbaliyan/redist/container"
	"github.com/rbaliyan/redist/decomp"
	"github.com/rbaliyan/redist/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tags used on the communicator. Collectives use transport.SourceGroupTag
// and transport.DestGroupTag.
const (
	// MetaTag carries the per-destination message counts from the source
	// root to the destination root.
	MetaTag = 1

	// DataTag is the tag of the first iteration's chunks. Each Flush moves
	// to the next tag, wrapping back to DataTag after math.MaxInt32.
	DataTag = 2
)

// outbound is a chunk on its way to a destination.
type outbound struct {
	dest  int // communicator rank
	chunk *container.Container
	data  []byte
}

// Component redistributes a container from the source ranks to the
// destination ranks of a communicator with one decomposition strategy.
//
// Every rank of both groups must call Process for every iteration, then
// Flush once, in the same order. A Component is driven by a single
// goroutine.
type Component struct {
	comm     transport.Comm
	sources  Range
	dests    Range
	strategy decomp.Strategy
	srcGroup *transport.Group
	dstGroup *transport.Group

	opts    *options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	state   atomic.Int32
	running atomic.Bool
	tag     int

	// Per-iteration scratch state, cleared by Flush and ClearBuffers.
	outbound []outbound
	requests []transport.Request
	transit  *container.Container
}

// New creates a component moving data from the sources ranks to the dests
// ranks of comm. The ranges may overlap.
func New(comm transport.Comm, sources, dests Range, strategy decomp.Strategy, opts ...Option) (*Component, error) {
	o := newOptions(opts...)
	c, err := newComponent(comm, sources, dests, strategy, o)
	if err != nil {
		o.onFatal(err)
		return nil, err
	}
	return c, nil
}

func newComponent(comm transport.Comm, sources, dests Range, strategy decomp.Strategy, o *options) (*Component, error) {
	if comm == nil {
		return nil, configErrorf("communicator is required")
	}
	if strategy == nil {
		return nil, configErrorf("strategy is required")
	}
	for _, r := range []struct {
		name string
		Range
	}{{"sources", sources}, {"dests", dests}} {
		if r.Count < 1 {
			return nil, configErrorf("%s range %v is empty", r.name, r.Range)
		}
		if r.First < 0 || r.First+r.Count > comm.Size() {
			return nil, configErrorf("%s range %v exceeds the %d ranks of the communicator", r.name, r.Range, comm.Size())
		}
	}
	if v, ok := strategy.(decomp.Validator); ok {
		if err := v.Validate(sources.Count, dests.Count); err != nil {
			return nil, err
		}
	}
	switch o.comm {
	case CommCollective, CommP2P:
	default:
		return nil, configErrorf("unknown comm method %v", o.comm)
	}
	switch o.merge {
	case MergeStep, MergeOnce:
	default:
		return nil, configErrorf("unknown merge method %v", o.merge)
	}

	srcGroup, err := transport.NewGroup(comm, sources.First, sources.Count, transport.SourceGroupTag)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	dstGroup, err := transport.NewGroup(comm, dests.First, dests.Count, transport.DestGroupTag)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	c := &Component{
		comm:     comm,
		sources:  sources,
		dests:    dests,
		strategy: strategy,
		srcGroup: srcGroup,
		dstGroup: dstGroup,
		opts:     o,
		logger: o.logger.With("rank", comm.Rank(), "strategy", strategy.Name(),
			"sources", sources.String(), "dests", dests.String()),
		tracer: newTracer(o.tracing),
		tag:    DataTag,
	}
	if o.metrics {
		c.metrics = newMetrics(strategy.Name())
	}
	c.logger.Debug("component created", "comm", o.comm, "merge", o.merge, "transit", o.transit)
	return c, nil
}

// Sources returns the source rank range.
func (c *Component) Sources() Range { return c.sources }

// Dests returns the destination rank range.
func (c *Component) Dests() Range { return c.dests }

// Strategy returns the decomposition strategy.
func (c *Component) Strategy() decomp.Strategy { return c.strategy }

// IsSource reports whether the caller's rank is a source.
func (c *Component) IsSource() bool { return c.sources.Contains(c.comm.Rank()) }

// IsDest reports whether the caller's rank is a destination.
func (c *Component) IsDest() bool { return c.dests.Contains(c.comm.Rank()) }

// Roles returns the roles of the caller's rank.
func (c *Component) Roles() Role {
	var r Role
	if c.IsSource() {
		r |= RoleSource
	}
	if c.IsDest() {
		r |= RoleDest
	}
	return r
}

// State returns the current pipeline phase.
func (c *Component) State() State { return State(c.state.Load()) }

// Tag returns the data tag of the current iteration.
func (c *Component) Tag() int { return c.tag }

func (c *Component) setState(s State) { c.state.Store(int32(s)) }

// Process runs the pipeline for one iteration.
//
// As source, the container is split according to the strategy and its
// chunks are sent; the container is purged afterwards. As destination,
// the chunks sent to this rank are merged into the container. RoleBoth
// runs both halves on the same container.
//
// Configuration and capability errors are passed to the fatal handler
// before being returned. A failed merge leaves the container in the state
// of the last successful merge.
func (c *Component) Process(ctx context.Context, data *container.Container, role Role) (err error) {
	if c.State() == StateClosed {
		return ErrClosed
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.running.Store(false)
	defer c.setState(StateIdle)
	defer func() {
		if err != nil && IsFatal(err) {
			c.opts.onFatal(err)
		}
	}()

	if data == nil {
		return configErrorf("container is required")
	}
	if err := c.checkRole(role); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "redist.process",
		trace.WithAttributes(
			attribute.String(spanKeyRole, role.String()),
			attribute.String(spanKeyStrategy, c.strategy.Name()),
			attribute.Int(spanKeyRank, c.comm.Rank()),
			attribute.Int(spanKeyTag, c.tag),
			attribute.String(spanKeyComm, c.opts.comm.String()),
			attribute.String(spanKeyMerge, c.opts.merge.String())))
	defer func() { endSpan(span, err) }()

	if role.Has(RoleSource) {
		if err := c.processSource(ctx, data); err != nil {
			return err
		}
	}
	if role.Has(RoleDest) {
		if err := c.processDest(ctx, data); err != nil {
			return err
		}
	}

	c.metrics.Processed(ctx, role)
	return nil
}

func (c *Component) checkRole(role Role) error {
	if role == 0 || role&^RoleBoth != 0 {
		return configErrorf("invalid role %v", role)
	}
	rank := c.comm.Rank()
	if role.Has(RoleSource) && !c.sources.Contains(rank) {
		return configErrorf("rank %d is not in the sources %v", rank, c.sources)
	}
	if role.Has(RoleDest) && !c.dests.Contains(rank) {
		return configErrorf("rank %d is not in the destinations %v", rank, c.dests)
	}
	return nil
}

func (c *Component) processSource(ctx context.Context, data *container.Container) error {
	c.setState(StateComputingGlobal)
	layout, err := c.computeGlobal(ctx, data)
	if err != nil && !data.Metadata().SystemOnly() {
		return err
	}

	c.setState(StateSplitting)
	if err := c.splitData(ctx, data, layout); err != nil {
		return err
	}

	c.setState(StateTransferring)
	return c.send(ctx)
}

func (c *Component) processDest(ctx context.Context, data *container.Container) error {
	c.setState(StateTransferring)
	expected, err := c.expected(ctx)
	if err != nil {
		return err
	}

	c.setState(StateMerging)
	return c.merge(ctx, data, expected, c.senders())
}

// Flush waits for the sends of the iteration, clears the per-iteration
// state and moves to the next data tag. It must be called once per
// iteration on every rank, after its Process calls.
func (c *Component) Flush(ctx context.Context) error {
	err := transport.WaitAll(ctx, c.requests)
	c.clear()
	if c.tag == math.MaxInt32 {
		c.tag = DataTag
	} else {
		c.tag++
	}
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// ClearBuffers drops the per-iteration state of role without waiting for
// pending sends and without moving to the next tag.
func (c *Component) ClearBuffers(role Role) {
	if role.Has(RoleSource) {
		c.outbound = nil
		c.requests = nil
	}
	if role.Has(RoleDest) && c.transit != nil {
		c.transit.Purge()
		c.transit = nil
	}
}

func (c *Component) clear() {
	c.ClearBuffers(RoleBoth)
}

// Shutdown flushes pending sends and rejects further Process calls. The
// communicator is left open for its owner to close.
func (c *Component) Shutdown(ctx context.Context) error {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	err := transport.WaitAll(ctx, c.requests)
	c.clear()
	c.logger.Debug("component shut down")
	if err != nil && !errors.Is(err, transport.ErrTransportClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
