package codec

import (
	"encoding/json"
	"errors"

	"github.com/rbaliyan/redist/transport/message"
	"go.opentelemetry.io/otel/trace"
)

// JSON implements Codec using JSON serialization.
//
// Payload is stored as raw bytes (base64 in JSON wire format).
type JSON struct{}

// jsonMessage is the JSON wire format
type jsonMessage struct {
	ID       string            `json:"id"`
	Source   int               `json:"source"`
	Tag      int               `json:"tag"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Encode serializes a message to JSON bytes
func (c JSON) Encode(msg Message) ([]byte, error) {
	jm := jsonMessage{
		ID:       msg.ID(),
		Source:   msg.Source(),
		Tag:      msg.Tag(),
		Payload:  msg.Payload(),
		Metadata: copyMetadata(msg.Metadata()),
	}

	data, err := json.Marshal(jm)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}

	return data, nil
}

// Decode deserializes JSON bytes to a message
func (c JSON) Decode(data []byte) (Message, error) {
	var jm jsonMessage
	if err := json.Unmarshal(data, &jm); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}

	return message.New(jm.ID, jm.Source, jm.Tag, jm.Payload, copyMetadata(jm.Metadata), trace.SpanContext{}), nil
}

// ContentType returns the MIME type for JSON
func (c JSON) ContentType() string {
	return "application/json"
}

// Name returns the codec identifier
func (c JSON) Name() string {
	return "json"
}

// Compile-time check
var _ Codec = JSON{}
