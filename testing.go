package redist

import (
	"context"
	"sync"

	"github.com/rbaliyan/redist/decomp"
	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/channel"
	"golang.org/x/sync/errgroup"
)

// TestComponent creates a component configured for testing, with tracing
// and metrics disabled. Panics on a configuration error (test setup error).
//
// Example:
//
//	world, _ := channel.NewWorld(4)
//	c := redist.TestComponent(world.Comm(rank), redist.Range{0, 4}, redist.Range{0, 2}, decomp.NewCount())
func TestComponent(comm transport.Comm, sources, dests Range, strategy decomp.Strategy, opts ...Option) *Component {
	opts = append([]Option{WithTracing(false), WithMetrics(false), WithFatalHandler(func(error) {})}, opts...)
	c, err := New(comm, sources, dests, strategy, opts...)
	if err != nil {
		panic("redist.TestComponent: " + err.Error())
	}
	return c
}

// RunRanks runs fn once per rank of an in-process world of size ranks, each
// on its own goroutine, and returns the first error. The context passed to
// fn is cancelled as soon as one rank fails so that its peers stop waiting
// for messages that will never come.
func RunRanks(ctx context.Context, size int, fn func(ctx context.Context, comm transport.Comm) error, opts ...channel.Option) error {
	world, err := channel.NewWorld(size, opts...)
	if err != nil {
		return err
	}
	defer world.Close()

	g, ctx := errgroup.WithContext(ctx)
	for r := 0; r < size; r++ {
		comm := world.Comm(r)
		g.Go(func() error {
			return fn(ctx, comm)
		})
	}
	return g.Wait()
}

// RecordedSend represents a message sent through a RecordingComm
type RecordedSend struct {
	Dest int
	Tag  int
	Size int
}

// RecordingComm wraps a communicator and records every send.
// Useful for testing which messages a rank emits.
type RecordingComm struct {
	transport.Comm
	mu    sync.Mutex
	sends []RecordedSend
}

// NewRecordingComm creates a communicator that records all sends.
// It wraps the provided communicator (which is required).
func NewRecordingComm(c transport.Comm) *RecordingComm {
	if c == nil {
		panic("redist: communicator is required for NewRecordingComm")
	}
	return &RecordingComm{Comm: c}
}

func (c *RecordingComm) record(dest, tag int, payload []byte) {
	c.mu.Lock()
	c.sends = append(c.sends, RecordedSend{Dest: dest, Tag: tag, Size: len(payload)})
	c.mu.Unlock()
}

// Send records the message and delegates to the underlying communicator
func (c *RecordingComm) Send(ctx context.Context, dest, tag int, payload []byte) error {
	c.record(dest, tag, payload)
	return c.Comm.Send(ctx, dest, tag, payload)
}

// Isend records the message and delegates to the underlying communicator
func (c *RecordingComm) Isend(ctx context.Context, dest, tag int, payload []byte) (transport.Request, error) {
	c.record(dest, tag, payload)
	return c.Comm.Isend(ctx, dest, tag, payload)
}

// Sends returns a copy of all recorded sends
func (c *RecordingComm) Sends() []RecordedSend {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]RecordedSend, len(c.sends))
	copy(result, c.sends)
	return result
}

// SendsWithTag returns the recorded sends with a specific tag
func (c *RecordingComm) SendsWithTag(tag int) []RecordedSend {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []RecordedSend
	for _, s := range c.sends {
		if s.Tag == tag {
			result = append(result, s)
		}
	}
	return result
}

// Reset clears all recorded sends
func (c *RecordingComm) Reset() {
	c.mu.Lock()
	c.sends = nil
	c.mu.Unlock()
}

// FailingComm is a communicator whose sends fail with a configured error.
// Useful for testing error handling.
type FailingComm struct {
	transport.Comm
	mu       sync.Mutex
	err      error
	failNext int
}

// NewFailingComm creates a communicator that can be configured to fail.
func NewFailingComm(c transport.Comm) *FailingComm {
	if c == nil {
		panic("redist: communicator is required for NewFailingComm")
	}
	return &FailingComm{Comm: c}
}

func (c *FailingComm) fail() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext == 0 {
		return nil
	}
	c.failNext--
	if c.err != nil {
		return c.err
	}
	return transport.ErrTransportClosed
}

// Send fails if configured, otherwise delegates to the underlying communicator
func (c *FailingComm) Send(ctx context.Context, dest, tag int, payload []byte) error {
	if err := c.fail(); err != nil {
		return err
	}
	return c.Comm.Send(ctx, dest, tag, payload)
}

// Isend fails if configured, otherwise delegates to the underlying communicator
func (c *FailingComm) Isend(ctx context.Context, dest, tag int, payload []byte) (transport.Request, error) {
	if err := c.fail(); err != nil {
		return nil, err
	}
	return c.Comm.Isend(ctx, dest, tag, payload)
}

// FailNext makes the next n sends fail with the given error
func (c *FailingComm) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
	c.err = err
}
