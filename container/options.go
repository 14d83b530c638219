package container

import (
	"log/slog"

	"github.com/rbaliyan/redist/payload"
)

// options holds configuration for a container (unexported)
type options struct {
	codec  payload.Codec
	logger *slog.Logger
}

// Option configures a container
type Option func(*options)

// WithCodec sets the payload codec used by Serialize and the decoding
// methods. Containers exchanging payloads must agree on it.
func WithCodec(c payload.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		codec:  payload.Default(),
		logger: slog.Default().With("component", "container"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
