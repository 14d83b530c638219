package redis

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/redist/transport/codec"
	"golang.org/x/time/rate"
)

// Option configures the Redis communicator
type Option func(*Comm)

// WithCodec sets the codec for message serialization
func WithCodec(c codec.Codec) Option {
	return func(t *Comm) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithWorld sets the name shared by every rank of a run. Streams of
// different worlds never mix, so several runs can share one Redis.
func WithWorld(name string) Option {
	return func(t *Comm) {
		if name != "" {
			t.world = name
		}
	}
}

// WithMaxLen sets the max length for streams (MAXLEN)
func WithMaxLen(n int64) Option {
	return func(t *Comm) {
		if n > 0 {
			t.maxLen = n
		}
	}
}

// WithBlockTime sets the block time for XREADGROUP
func WithBlockTime(d time.Duration) Option {
	return func(t *Comm) {
		if d > 0 {
			t.blockTime = d
		}
	}
}

// WithPollRate limits how often the consumer polls the stream when reads
// come back empty or fail.
func WithPollRate(r rate.Limit, burst int) Option {
	return func(t *Comm) {
		if r > 0 && burst > 0 {
			t.limiter = rate.NewLimiter(r, burst)
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
// messages the consumer had to drop.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Comm) {
		if fn != nil {
			t.onError = fn
		}
	}
}
