// Package payload provides container payload serialization/deserialization.
//
// The payload package handles encoding and decoding of record containers and
// their fields, separate from transport-level envelope serialization.
//
// Usage:
//
//	// Use MessagePack codec (default)
//	c := container.New()
//
//	// Use JSON codec
//	c := container.New(container.WithCodec(payload.JSON{}))
//
//	// Use BSON codec
//	c := container.New(container.WithCodec(payload.BSON{}))
package payload

// Codec encodes/decodes container payload data.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes the payload to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes to the target type.
	// The target must be a pointer.
	Decode(data []byte, v any) error

	// ContentType returns the MIME type (e.g., "application/msgpack").
	ContentType() string
}

// Default returns the default codec (MessagePack).
func Default() Codec {
	return MsgPack{}
}
