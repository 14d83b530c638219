package codec

import (
	"errors"

	"github.com/rbaliyan/redist/transport/message"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/trace"
)

// MsgPack implements Codec using MessagePack serialization.
// MessagePack carries the payload as native binary, without the base64
// overhead of the text codecs.
type MsgPack struct{}

// msgpackMessage is the MessagePack wire format
type msgpackMessage struct {
	ID       string            `msgpack:"id"`
	Source   int               `msgpack:"source"`
	Tag      int               `msgpack:"tag"`
	Payload  []byte            `msgpack:"payload"`
	Metadata map[string]string `msgpack:"metadata,omitempty"`
}

// Encode serializes a message to MessagePack bytes
func (c MsgPack) Encode(msg Message) ([]byte, error) {
	mm := msgpackMessage{
		ID:       msg.ID(),
		Source:   msg.Source(),
		Tag:      msg.Tag(),
		Payload:  msg.Payload(),
		Metadata: copyMetadata(msg.Metadata()),
	}

	data, err := msgpack.Marshal(mm)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}

	return data, nil
}

// Decode deserializes MessagePack bytes to a message
func (c MsgPack) Decode(data []byte) (Message, error) {
	var mm msgpackMessage
	if err := msgpack.Unmarshal(data, &mm); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}

	return message.New(mm.ID, mm.Source, mm.Tag, mm.Payload, copyMetadata(mm.Metadata), trace.SpanContext{}), nil
}

// ContentType returns the MIME type for MessagePack
func (c MsgPack) ContentType() string {
	return "application/msgpack"
}

// Name returns the codec identifier
func (c MsgPack) Name() string {
	return "msgpack"
}

// Compile-time check
var _ Codec = MsgPack{}
