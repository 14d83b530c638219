// Package message provides the Message type exchanged between ranks.
//
// This package is imported by both codec and transport packages to avoid circular
// dependencies while providing a unified message type.
package message

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Message is a tagged payload sent from one rank to another
type Message interface {
	// ID returns the unique message identifier
	ID() string
	// Source returns the rank that sent the message
	Source() int
	// Tag returns the matching tag
	Tag() int
	// Payload returns the message payload
	Payload() []byte
	// Metadata returns optional key-value metadata
	Metadata() map[string]string
	// Context returns a context with trace information (if available)
	Context() context.Context
}

// message is the default Message implementation
type message struct {
	id       string
	source   int
	tag      int
	payload  []byte
	metadata map[string]string
	span     trace.SpanContext
}

func (m *message) ID() string                  { return m.id }
func (m *message) Source() int                 { return m.source }
func (m *message) Tag() int                    { return m.tag }
func (m *message) Payload() []byte             { return m.payload }
func (m *message) Metadata() map[string]string { return m.metadata }
func (m *message) Context() context.Context {
	return trace.ContextWithRemoteSpanContext(context.Background(), m.span)
}

// New creates a new message
func New(id string, source, tag int, payload []byte, metadata map[string]string, spanCtx trace.SpanContext) Message {
	return &message{
		id:       id,
		source:   source,
		tag:      tag,
		payload:  payload,
		metadata: metadata,
		span:     spanCtx,
	}
}

// Matches reports whether msg satisfies a receive for source and tag. A
// negative source matches any sender.
func Matches(msg Message, source, tag int) bool {
	return msg.Tag() == tag && (source < 0 || msg.Source() == source)
}

// Compile-time interface check
var _ Message = (*message)(nil)
