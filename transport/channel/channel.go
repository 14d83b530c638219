// Package channel provides an in-process communicator world.
//
// Every rank of a World is served by a Comm that shares the world's
// mailboxes, so ranks are usually goroutines of the same test or process.
// Messages never leave the process:
//
//   - Send and Isend complete as soon as the message is in the destination
//     mailbox
//   - Payloads are copied, so callers may reuse their buffers
//   - Closing the world wakes every pending Recv with ErrTransportClosed
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/redist/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// World is a set of in-process ranks sharing their mailboxes.
type World struct {
	status    int32
	mailboxes []*transport.Mailbox
	comms     []*Comm
	codec     transport.Codec
	logger    *slog.Logger

	// Metrics
	sentCounter  metric.Int64Counter
	bytesCounter metric.Int64Counter
}

// NewWorld creates a world of size ranks.
func NewWorld(size int, opts ...Option) (*World, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: world of %d ranks", transport.ErrInvalidGroup, size)
	}
	o := newOptions(opts...)

	meter := otel.Meter("redist.transport.channel")
	sent, _ := meter.Int64Counter("redist.transport.channel.sent",
		metric.WithDescription("Number of messages delivered by channel transport"),
		metric.WithUnit("{message}"),
	)
	bytes, _ := meter.Int64Counter("redist.transport.channel.bytes",
		metric.WithDescription("Payload bytes delivered by channel transport"),
		metric.WithUnit("By"),
	)

	w := &World{
		status:       1,
		mailboxes:    make([]*transport.Mailbox, size),
		comms:        make([]*Comm, size),
		codec:        o.codec,
		logger:       o.logger,
		sentCounter:  sent,
		bytesCounter: bytes,
	}
	for r := range w.mailboxes {
		w.mailboxes[r] = transport.NewMailbox()
		w.comms[r] = &Comm{world: w, rank: r}
	}
	return w, nil
}

// Size returns the number of ranks.
func (w *World) Size() int { return len(w.comms) }

// Comm returns the communicator of rank. It panics on an invalid rank.
func (w *World) Comm(rank int) *Comm {
	if err := transport.CheckRank(rank, len(w.comms)); err != nil {
		panic(err)
	}
	return w.comms[rank]
}

// Pending returns the number of messages waiting in rank's mailbox.
func (w *World) Pending(rank int) int {
	return w.mailboxes[rank].Len()
}

// Close closes every mailbox of the world.
func (w *World) Close() error {
	if !atomic.CompareAndSwapInt32(&w.status, 1, 0) {
		return nil
	}
	for _, mb := range w.mailboxes {
		mb.Close()
	}
	w.logger.Debug("world closed", "size", len(w.mailboxes))
	return nil
}

func (w *World) isOpen() bool {
	return atomic.LoadInt32(&w.status) == 1
}

func (w *World) deliver(ctx context.Context, source, dest, tag int, payload []byte) error {
	if !w.isOpen() {
		return transport.ErrTransportClosed
	}
	if err := transport.CheckRank(dest, len(w.mailboxes)); err != nil {
		return err
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	var msg transport.Message = transport.NewMessage(transport.NewID(), source, tag, data, nil,
		trace.SpanContextFromContext(ctx))

	if w.codec != nil {
		encoded, err := w.codec.Encode(msg)
		if err != nil {
			return err
		}
		if msg, err = w.codec.Decode(encoded); err != nil {
			return err
		}
	}

	if err := w.mailboxes[dest].Put(msg); err != nil {
		return err
	}

	attrs := metric.WithAttributes(attribute.Int("dest", dest))
	w.sentCounter.Add(ctx, 1, attrs)
	w.bytesCounter.Add(ctx, int64(len(data)), attrs)
	return nil
}

// Comm is the communicator of one rank of a World.
type Comm struct {
	world *World
	rank  int
}

var _ transport.Comm = (*Comm)(nil)

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks of the world.
func (c *Comm) Size() int { return len(c.world.comms) }

// Send puts a copy of payload in dest's mailbox.
func (c *Comm) Send(ctx context.Context, dest, tag int, payload []byte) error {
	return c.world.deliver(ctx, c.rank, dest, tag, payload)
}

// Isend is Send returning a completed request.
func (c *Comm) Isend(ctx context.Context, dest, tag int, payload []byte) (transport.Request, error) {
	if err := c.world.deliver(ctx, c.rank, dest, tag, payload); err != nil {
		return nil, err
	}
	return transport.Completed(nil), nil
}

// Recv takes the first message from source with tag out of the caller's
// mailbox, waiting for it if needed.
func (c *Comm) Recv(ctx context.Context, source, tag int) (transport.Message, error) {
	if source != transport.AnySource {
		if err := transport.CheckRank(source, len(c.world.comms)); err != nil {
			return nil, err
		}
	}
	return c.world.mailboxes[c.rank].Take(ctx, source, tag)
}

// Close is a no-op. The world owns the mailboxes.
func (c *Comm) Close(context.Context) error { return nil }
