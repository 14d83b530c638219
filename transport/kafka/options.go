package kafka

import (
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/redist/transport/codec"
)

// Option configures the Kafka communicator
type Option func(*Comm)

// WithCodec sets the codec for message serialization
func WithCodec(c codec.Codec) Option {
	return func(t *Comm) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithWorld sets the topic segment shared by every rank of a run.
func WithWorld(name string) Option {
	return func(t *Comm) {
		if name != "" {
			t.world = name
		}
	}
}

// WithStartOffset sets where the consumer starts on its topic. The default,
// sarama.OffsetOldest, delivers messages sent before the rank came up;
// sarama.OffsetNewest skips leftovers of an earlier run.
func WithStartOffset(offset int64) Option {
	return func(t *Comm) {
		if offset == sarama.OffsetOldest || offset == sarama.OffsetNewest || offset >= 0 {
			t.startOffset = offset
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Comm) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithErrorHandler sets the error handler callback. It is called for
// consumer errors and for messages that had to be dropped.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Comm) {
		if fn != nil {
			t.onError = fn
		}
	}
}
