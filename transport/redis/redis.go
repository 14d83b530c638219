// Package redis provides a communicator over Redis Streams.
//
// Every rank owns one stream, redist:<world>:<rank>, and reads it through a
// consumer group. Senders XADD the encoded envelope to the destination's
// stream. A background consumer decodes incoming entries into the rank's
// mailbox and acknowledges them, so Recv never talks to Redis.
//
// Entries stay in the stream until consumed, so a sender may run ahead of a
// receiver that has not started yet.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/codec"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Client defines the interface for Redis client operations.
// Supports *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XGroupDestroy(ctx context.Context, stream, group string) *redis.IntCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XDel(ctx context.Context, stream string, ids ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ErrClientRequired is returned when no Redis client is provided
var ErrClientRequired = errors.New("redis client is required")

// Default configuration
var (
	DefaultWorld     = "default"
	DefaultMaxLen    = int64(0) // unlimited
	DefaultBlockTime = time.Second
	DefaultPollRate  = rate.Limit(200)
)

// streamPrefix is the fixed prefix for Redis streams to avoid clashing with user data
const streamPrefix = "redist"

// consumerGroup reads a rank's stream. Each stream has a single reader.
const consumerGroup = "redist"

// Comm implements transport.Comm using Redis Streams
type Comm struct {
	status  int32
	rank    int
	size    int
	client  Client
	world   string
	codec   codec.Codec
	mailbox *transport.Mailbox
	limiter *rate.Limiter
	logger  *slog.Logger
	onError func(error)

	maxLen    int64
	blockTime time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ transport.Comm = (*Comm)(nil)

// New creates the communicator of rank in a world of size ranks and starts
// consuming its stream.
func New(ctx context.Context, client Client, rank, size int, opts ...Option) (*Comm, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	if err := transport.CheckRank(rank, size); err != nil {
		return nil, err
	}

	c := &Comm{
		status:    1,
		rank:      rank,
		size:      size,
		client:    client,
		world:     DefaultWorld,
		codec:     codec.Default(),
		mailbox:   transport.NewMailbox(),
		limiter:   rate.NewLimiter(DefaultPollRate, 1),
		logger:    transport.Logger("transport>redis"),
		onError:   func(error) {},
		maxLen:    DefaultMaxLen,
		blockTime: DefaultBlockTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("rank", rank, "world", c.world)

	// Start at "0" so entries sent before this rank came up are delivered.
	stream := c.streamName(rank)
	err := client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group on %s: %w", stream, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(loopCtx, stream)
	}()

	c.logger.Debug("communicator started", "stream", stream)
	return c, nil
}

func (c *Comm) isOpen() bool {
	return atomic.LoadInt32(&c.status) == 1
}

func (c *Comm) streamName(rank int) string {
	return streamPrefix + ":" + c.world + ":" + strconv.Itoa(rank)
}

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.size }

// Send adds the encoded message to dest's stream.
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

	args := &redis.XAddArgs{
		Stream: c.streamName(dest),
		Values: map[string]interface{}{
			"data": data,
		},
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}

	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd to rank %d: %w", dest, err)
	}
	c.logger.Debug("sent message", "dest", dest, "tag", tag, "bytes", len(payload))
	return nil
}

// Isend sends on a separate goroutine.
func (c *Comm) Isend(ctx context.Context, dest, tag int, payload []byte) (transport.Request, error) {
	if !c.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if err := transport.CheckRank(dest, c.size); err != nil {
		return nil, err
	}
	return transport.Go(func() error { return c.Send(ctx, dest, tag, payload) }), nil
}

// Recv takes a matching message out of the mailbox fed by the consumer.
func (c *Comm) Recv(ctx context.Context, source, tag int) (transport.Message, error) {
	if source != transport.AnySource {
		if err := transport.CheckRank(source, c.size); err != nil {
			return nil, err
		}
	}
	return c.mailbox.Take(ctx, source, tag)
}

// Close stops the consumer and removes the consumer group. The client was
// passed in pre-initialized and is left open.
func (c *Comm) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.status, 1, 0) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.mailbox.Close()

	if err := c.client.XGroupDestroy(ctx, c.streamName(c.rank), consumerGroup).Err(); err != nil {
		c.logger.Warn("failed to destroy consumer group", "error", err)
	}
	c.logger.Debug("communicator closed")
	return nil
}

// Ping checks the connection to Redis.
func (c *Comm) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Comm) consumeLoop(ctx context.Context, stream string) {
	consumer := strconv.Itoa(c.rank)

	// Exponential backoff for read errors
	readBackoff := 100 * time.Millisecond
	maxReadBackoff := 30 * time.Second

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    16,
			Block:    c.blockTime,
		}).Result()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				readBackoff = 100 * time.Millisecond
				continue
			}
			jitteredBackoff := transport.Jitter(readBackoff, 0.3)
			c.logger.Error("read error, retrying with backoff", "error", err, "backoff", jitteredBackoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(jitteredBackoff):
			}

			readBackoff *= 2
			if readBackoff > maxReadBackoff {
				readBackoff = maxReadBackoff
			}
			continue
		}

		readBackoff = 100 * time.Millisecond

		for _, s := range streams {
			for _, xmsg := range s.Messages {
				c.deliver(ctx, stream, xmsg)
			}
		}
	}
}

// deliver decodes one stream entry into the mailbox and removes it from
// the stream. Entries that cannot be decoded are dropped.
func (c *Comm) deliver(ctx context.Context, stream string, xmsg redis.XMessage) {
	defer func() {
		if err := c.client.XAck(ctx, stream, consumerGroup, xmsg.ID).Err(); err != nil {
			c.logger.Warn("failed to ack message", "id", xmsg.ID, "error", err)
		}
		if err := c.client.XDel(ctx, stream, xmsg.ID).Err(); err != nil {
			c.logger.Warn("failed to delete message", "id", xmsg.ID, "error", err)
		}
	}()

	var data []byte
	switch v := xmsg.Values["data"].(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		c.logger.Error("invalid message format", "id", xmsg.ID)
		c.onError(fmt.Errorf("%w: entry %s has no data", transport.ErrDecodeFailure, xmsg.ID))
		return
	}

	msg, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Error("failed to decode message", "error", err, "id", xmsg.ID)
		c.onError(err)
		return
	}
	if err := c.mailbox.Put(msg); err != nil {
		c.logger.Debug("dropping message, mailbox closed", "id", xmsg.ID)
	}
}
