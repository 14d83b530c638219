// Package kafka provides a communicator over Kafka topics.
//
// Every rank reads partition 0 of its own topic, redist.<world>.<rank>.
// Senders produce the encoded envelope to the destination's topic through
// a SyncProducer, keyed by the source rank, so that messages of one sender
// keep their order. A background loop decodes consumed messages into the
// rank's mailbox.
//
// Topics must exist with at least one partition, or the brokers must allow
// automatic topic creation.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/codec"
	"go.opentelemetry.io/otel/trace"
)

// Errors
var (
	ErrProducerRequired = errors.New("kafka producer is required")
	ErrConsumerRequired = errors.New("kafka consumer is required")
)

// DefaultWorld names the topics of a run when WithWorld is not given.
var DefaultWorld = "default"

// Header keys carrying the envelope routing fields
const (
	HeaderSource = "redist-source"
	HeaderTag    = "redist-tag"
)

// Comm implements transport.Comm using Kafka
type Comm struct {
	status      int32
	rank        int
	size        int
	producer    sarama.SyncProducer
	consumer    sarama.Consumer
	partition   sarama.PartitionConsumer
	world       string
	startOffset int64
	codec       codec.Codec
	mailbox     *transport.Mailbox
	logger      *slog.Logger
	onError     func(error)

	wg sync.WaitGroup
}

var _ transport.Comm = (*Comm)(nil)

// New creates the communicator of rank in a world of size ranks and starts
// consuming its topic. The producer and consumer are owned by the caller.
func New(producer sarama.SyncProducer, consumer sarama.Consumer, rank, size int, opts ...Option) (*Comm, error) {
	if producer == nil {
		return nil, ErrProducerRequired
	}
	if consumer == nil {
		return nil, ErrConsumerRequired
	}
	if err := transport.CheckRank(rank, size); err != nil {
		return nil, err
	}

	c := &Comm{
		status:      1,
		rank:        rank,
		size:        size,
		producer:    producer,
		consumer:    consumer,
		world:       DefaultWorld,
		startOffset: sarama.OffsetOldest,
		codec:       codec.Default(),
		mailbox:     transport.NewMailbox(),
		logger:      transport.Logger("transport>kafka"),
		onError:     func(error) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("rank", rank, "world", c.world)

	topic := Topic(c.world, rank)
	pc, err := consumer.ConsumePartition(topic, 0, c.startOffset)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", topic, err)
	}
	c.partition = pc

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(pc)
	}()
	go func() {
		defer c.wg.Done()
		for err := range pc.Errors() {
			c.logger.Error("consumer error", "error", err)
			c.onError(err)
		}
	}()

	c.logger.Debug("communicator started", "topic", topic)
	return c, nil
}

// Topic returns the topic a rank reads.
func Topic(world string, rank int) string {
	return "redist." + world + "." + strconv.Itoa(rank)
}

// NewConfig returns a sarama configuration suitable for New. The producer
// waits for all in-sync replicas and reports successes, as SyncProducer
// requires, and honours the partition set on each message.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	cfg.Producer.Compression = sarama.CompressionLZ4
	cfg.Consumer.Return.Errors = true
	return cfg
}

func (c *Comm) isOpen() bool {
	return atomic.LoadInt32(&c.status) == 1
}

// Rank returns the caller's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks.
func (c *Comm) Size() int { return c.size }

// Send produces the encoded message to dest's topic.
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

	out := &sarama.ProducerMessage{
		Topic:     Topic(c.world, dest),
		Partition: 0,
		Key:       sarama.StringEncoder(strconv.Itoa(c.rank)),
		Value:     sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderSource), Value: []byte(strconv.Itoa(c.rank))},
			{Key: []byte(HeaderTag), Value: []byte(strconv.Itoa(tag))},
		},
	}
	partition, offset, err := c.producer.SendMessage(out)
	if err != nil {
		return fmt.Errorf("produce to rank %d: %w", dest, err)
	}
	c.logger.Debug("sent message", "dest", dest, "tag", tag, "partition", partition, "offset", offset)
	return nil
}

// Isend produces on a separate goroutine.
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

// Close stops consuming and wakes pending receives.
func (c *Comm) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.status, 1, 0) {
		return nil
	}
	c.partition.AsyncClose()
	c.wg.Wait()
	c.mailbox.Close()
	c.logger.Debug("communicator closed")
	return nil
}

func (c *Comm) consumeLoop(pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		decoded, err := c.codec.Decode(msg.Value)
		if err != nil {
			c.logger.Error("failed to decode message", "error", err,
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			c.onError(err)
			continue
		}
		if err := c.mailbox.Put(decoded); err != nil {
			c.logger.Debug("dropping message, mailbox closed", "offset", msg.Offset)
		}
	}
}
