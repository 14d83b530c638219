// Package codec provides envelope serialization for transports that carry
// rank messages over an external broker.
//
// Supported formats:
//   - MessagePack (default, binary, compact)
//   - JSON (human-readable, payload as base64)
//   - Protocol Buffers (structpb envelope, payload as base64)
package codec

import (
	"errors"
	"strings"

	"github.com/rbaliyan/redist/transport/message"
)

// Codec errors
var (
	ErrEncodeFailure = errors.New("failed to encode message")
	ErrDecodeFailure = errors.New("failed to decode message")
)

// Message is the message interface used by codecs
type Message = message.Message

// Codec handles envelope serialization for external transports.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes a message to bytes.
	// Returns ErrEncodeFailure if serialization fails.
	Encode(msg Message) ([]byte, error)

	// Decode deserializes bytes to a message.
	// Returns ErrDecodeFailure if deserialization fails.
	Decode(data []byte) (Message, error)

	// ContentType returns the MIME type for this codec (e.g., "application/json").
	ContentType() string

	// Name returns a short identifier for this codec (e.g., "json", "msgpack", "proto").
	Name() string
}

// Default returns the default codec (MessagePack)
func Default() Codec {
	return MsgPack{}
}

// ByName returns the codec called name.
func ByName(name string) (Codec, bool) {
	switch strings.ToLower(name) {
	case "msgpack", "":
		return MsgPack{}, true
	case "json":
		return JSON{}, true
	case "proto", "protobuf":
		return Proto{}, true
	default:
		return nil, false
	}
}

// copyMetadata returns nil for empty metadata
func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
