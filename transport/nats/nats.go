// Package nats provides a communicator over NATS Core subjects.
//
// Every rank subscribes to redist.<world>.<rank>. Senders publish the encoded
// envelope to the destination's subject and mirror the source and tag in
// message headers. NATS Core delivers at most once and drops messages for
// subjects nobody listens to, so every rank of a world must be created
// before any of them sends.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/codec"
	"go.opentelemetry.io/otel/trace"
)

// ErrConnRequired is returned when no NATS connection is provided
var ErrConnRequired = errors.New("nats connection is required")

// DefaultWorld names the subjects of a run when WithWorld is not given.
var DefaultWorld = "default"

// Header keys carrying the envelope routing fields
const (
	HeaderSource = "Redist-Source"
	HeaderTag    = "Redist-Tag"
)

// Comm implements transport.Comm using NATS Core pub/sub.
type Comm struct {
	status  int32
	rank    int
	size    int
	conn    *nats.Conn
	sub     *nats.Subscription
	world   string
	codec   codec.Codec
	mailbox *transport.Mailbox
	logger  *slog.Logger
	onError func(error)
}

var _ transport.Comm = (*Comm)(nil)

// New creates the communicator of rank in a world of size ranks and
// subscribes to its subject.
func New(conn *nats.Conn, rank, size int, opts ...Option) (*Comm, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	if err := transport.CheckRank(rank, size); err != nil {
		return nil, err
	}

	c := &Comm{
		status:  1,
		rank:    rank,
		size:    size,
		conn:    conn,
		world:   DefaultWorld,
		codec:   codec.Default(),
		mailbox: transport.NewMailbox(),
		logger:  transport.Logger("transport>nats"),
		onError: func(error) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("rank", rank, "world", c.world)

	sub, err := conn.Subscribe(Subject(c.world, rank), c.handleMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	// The subscription must reach the server before peers publish.
	if err := conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush: %w", err)
	}
	c.sub = sub
	return c, nil
}

// Subject returns the subject a rank listens on.
func Subject(world string, rank int) string {
	return "redist." + world + "." + strconv.Itoa(rank)
}

func (c *Comm) isOpen() bool {
	return atomic.LoadInt32(&c.status) == 1
}

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.size }

// Send publishes the encoded message on dest's subject.
func (c *Comm) Send(ctx context.Context, dest, tag int, payload []byte) error {
	if !c.isOpen() {
		return transport.ErrTransportClosed
	}
	if err := transport.CheckRank(dest, c.size); err != nil {
		return err
	}

	msg := transport.NewMessage(transport.NewID(), c.rank, tag, payload, nil, trace.SpanContextFromContext(ctx))
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	out := nats.NewMsg(Subject(c.world, dest))
	out.Data = data
	out.Header.Set(HeaderSource, strconv.Itoa(c.rank))
	out.Header.Set(HeaderTag, strconv.Itoa(tag))
	out.Header.Set("Content-Type", c.codec.ContentType())

	if err := c.conn.PublishMsg(out); err != nil {
		return fmt.Errorf("publish to rank %d: %w", dest, err)
	}
	return nil
}

// Isend publishes on a separate goroutine. The request completes once the
// server acknowledged a flush.
func (c *Comm) Isend(ctx context.Context, dest, tag int, payload []byte) (transport.Request, error) {
	if !c.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if err := transport.CheckRank(dest, c.size); err != nil {
		return nil, err
	}
	return transport.Go(func() error {
		if err := c.Send(ctx, dest, tag, payload); err != nil {
			return err
		}
		return c.conn.FlushWithContext(ctx)
	}), nil
}

// Recv takes a matching message out of the mailbox fed by the subscription.
func (c *Comm) Recv(ctx context.Context, source, tag int) (transport.Message, error) {
	if source != transport.AnySource {
		if err := transport.CheckRank(source, c.size); err != nil {
			return nil, err
		}
	}
	return c.mailbox.Take(ctx, source, tag)
}

// Close unsubscribes and wakes pending receives. The connection was passed
// in pre-initialized and is left open.
func (c *Comm) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.status, 1, 0) {
		return nil
	}
	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	c.mailbox.Close()
	c.logger.Debug("communicator closed")
	return err
}

func (c *Comm) handleMessage(msg *nats.Msg) {
	decoded, err := c.codec.Decode(msg.Data)
	if err != nil {
		c.logger.Error("failed to decode message", "error", err, "subject", msg.Subject)
		c.onError(err)
		return
	}
	if err := checkHeaders(msg.Header, decoded); err != nil {
		c.logger.Error("inconsistent message headers", "error", err, "subject", msg.Subject)
		c.onError(err)
		return
	}
	if err := c.mailbox.Put(decoded); err != nil {
		c.logger.Debug("dropping message, mailbox closed", "msg_id", decoded.ID())
	}
}

// checkHeaders verifies that the routing headers, when present, agree with
// the envelope.
func checkHeaders(h nats.Header, msg transport.Message) error {
	if v := h.Get(HeaderSource); v != "" && v != strconv.Itoa(msg.Source()) {
		return fmt.Errorf("%w: source header %s, envelope %d", transport.ErrDecodeFailure, v, msg.Source())
	}
	if v := h.Get(HeaderTag); v != "" && v != strconv.Itoa(msg.Tag()) {
		return fmt.Errorf("%w: tag header %s, envelope %d", transport.ErrDecodeFailure, v, msg.Tag())
	}
	return nil
}
