package nats

import (
	"log/slog"

	"github.com/rbaliyan/redist/transport/codec"
)

// Option configures the NATS communicator
type Option func(*Comm)

// WithCodec sets the codec for message serialization
func WithCodec(c codec.Codec) Option {
	return func(t *Comm) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithWorld sets the subject segment shared by every rank of a run.
func WithWorld(name string) Option {
	return func(t *Comm) {
		if name != "" {
			t.world = name
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
// messages the subscription had to drop.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Comm) {
		if fn != nil {
			t.onError = fn
		}
	}
}
