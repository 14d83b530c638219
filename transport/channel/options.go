package channel

import (
	"log/slog"

	"github.com/rbaliyan/redist/transport"
)

// options holds configuration for the world (unexported)
type options struct {
	codec  transport.Codec
	logger *slog.Logger
}

// Option configures the channel transport
type Option func(*options)

// WithCodec makes every message go through the envelope codec on its way
// to the destination mailbox, the way the network transports do. By default
// messages are handed over without encoding.
func WithCodec(c transport.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithLogger sets the logger for transport
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		logger: transport.Logger("transport>channel"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
