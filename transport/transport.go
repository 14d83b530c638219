// Package transport provides the point-to-point communicator interface used
// to move containers between ranks, and the collectives built on top of it.
//
// Transport implementations (channel, redis, nats, kafka) import this package
// and deliver incoming messages into a Mailbox, which matches receives by
// source rank and tag and keeps unmatched messages pending.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/redist/transport/codec"
	"github.com/rbaliyan/redist/transport/message"
	"go.opentelemetry.io/otel/trace"
)

// Transport errors
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrInvalidRank     = errors.New("invalid rank")
	ErrInvalidGroup    = errors.New("invalid group")
	ErrDecodeFailure   = codec.ErrDecodeFailure
)

// AnySource matches a message from any sender in Recv.
const AnySource = -1

// Comm is a communicator between Size ranks.
//
// Messages between a pair of ranks with the same tag are received in the
// order they were sent. Implementations must be safe for concurrent use.
type Comm interface {
	// Rank returns the caller's rank.
	Rank() int

	// Size returns the number of ranks.
	Size() int

	// Send delivers payload to dest. It returns once the transport accepted
	// the message; the caller may reuse payload afterwards.
	Send(ctx context.Context, dest, tag int, payload []byte) error

	// Isend starts delivering payload to dest. The caller must not modify
	// payload until the request completed.
	Isend(ctx context.Context, dest, tag int, payload []byte) (Request, error)

	// Recv blocks until a message from source (or AnySource) with tag
	// arrives or ctx is done.
	Recv(ctx context.Context, source, tag int) (Message, error)

	// Close releases the resources of the communicator.
	Close(ctx context.Context) error
}

// Request tracks a non-blocking send.
type Request interface {
	// Wait blocks until the send completed and returns its error.
	Wait(ctx context.Context) error
}

// Message is the message interface from the message package
type Message = message.Message

// Codec is the codec interface from the codec package
type Codec = codec.Codec

// DefaultCodec returns the default envelope codec (MessagePack)
func DefaultCodec() Codec {
	return codec.Default()
}

// NewMessage creates a new message
func NewMessage(id string, source, tag int, payload []byte, metadata map[string]string, spanCtx trace.SpanContext) Message {
	return message.New(id, source, tag, payload, metadata, spanCtx)
}

// completed is a request that finished when it was created
type completed struct {
	err error
}

func (r completed) Wait(context.Context) error { return r.err }

// Completed returns a request that is already done.
func Completed(err error) Request {
	return completed{err: err}
}

// pending is a request completed by a goroutine
type pending struct {
	done chan struct{}
	err  error
}

func (r *pending) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go runs send on its own goroutine and returns a request completed when
// it returns.
func Go(send func() error) Request {
	r := &pending{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = send()
	}()
	return r
}

// WaitAll waits for every request and returns the joined errors.
func WaitAll(ctx context.Context, reqs []Request) error {
	var errs []error
	for _, r := range reqs {
		if r == nil {
			continue
		}
		if err := r.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckRank validates a destination or source rank against size.
func CheckRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidRank, rank, size)
	}
	return nil
}

// ID generation
var counter uint64

// NewID generates a new unique ID
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&counter, 1), 10)
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Jitter adds randomness to a duration to prevent thundering herd.
// Returns a duration between d*(1-factor) and d*(1+factor).
// Factor should be between 0 and 1 (e.g., 0.3 for +/-30% jitter).
func Jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || factor > 1 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + jitter))
}
