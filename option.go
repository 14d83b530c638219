package redist

import (
	"log/slog"

	"github.com/rbaliyan/redist/payload"
	"github.com/rbaliyan/redist/transport"
)

// options holds the component configuration (unexported)
type options struct {
	comm    CommMethod
	merge   MergeMethod
	transit bool
	pack    *payload.PackOptions
	onFatal func(error)
	logger  *slog.Logger
	tracing bool
	metrics bool
}

// Option configures a Component
type Option func(*options)

// WithCommMethod selects how destinations learn their inbound message
// count. Default CommCollective.
func WithCommMethod(m CommMethod) Option {
	return func(o *options) {
		o.comm = m
	}
}

// WithMergeMethod selects when received chunks are merged. Default
// MergeStep.
func WithMergeMethod(m MergeMethod) Option {
	return func(o *options) {
		o.merge = m
	}
}

// WithTransit enables or disables keeping a rank's own chunk in-process.
// When disabled the chunk is serialized and sent to itself through the
// communicator like any other. Enabled by default.
func WithTransit(enabled bool) Option {
	return func(o *options) {
		o.transit = enabled
	}
}

// WithPack frames every non-empty payload with payload.Pack. Receivers
// detect packed payloads on their own, so ranks may disagree on this
// option.
func WithPack(opts payload.PackOptions) Option {
	return func(o *options) {
		o.pack = &opts
	}
}

// WithFatalHandler sets the callback receiving configuration and
// capability errors before Process returns them. The default logs them at
// error level; a handler may stop the process.
func WithFatalHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onFatal = fn
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

// WithTracing enables or disables the redist.process spans.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

// WithMetrics enables or disables the OpenTelemetry counters.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metrics = enabled
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		comm:    CommCollective,
		merge:   MergeStep,
		transit: true,
		logger:  transport.Logger("redist"),
		tracing: true,
		metrics: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.onFatal == nil {
		logger := o.logger
		o.onFatal = func(err error) {
			logger.Error("fatal redistribution error", "error", err)
		}
	}
	return o
}
