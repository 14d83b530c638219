package codec

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rbaliyan/redist/transport/message"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto implements Codec using Protocol Buffers serialization.
//
// The envelope is a google.protobuf.Struct so no generated code is needed:
//   - id: string
//   - source, tag: number
//   - payload: base64 string
//   - metadata: nested struct of strings
type Proto struct{}

// Encode serializes a message to Protocol Buffer bytes
func (c Proto) Encode(msg Message) ([]byte, error) {
	fields := map[string]any{
		"id":      msg.ID(),
		"source":  msg.Source(),
		"tag":     msg.Tag(),
		"payload": base64.StdEncoding.EncodeToString(msg.Payload()),
	}
	if md := msg.Metadata(); len(md) > 0 {
		m := make(map[string]any, len(md))
		for k, v := range md {
			m[k] = v
		}
		fields["metadata"] = m
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}

	return data, nil
}

// Decode deserializes Protocol Buffer bytes to a message
func (c Proto) Decode(data []byte) (Message, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, errors.Join(ErrDecodeFailure, err)
	}

	f := st.GetFields()
	payload, err := base64.StdEncoding.DecodeString(f["payload"].GetStringValue())
	if err != nil {
		return nil, errors.Join(ErrDecodeFailure, fmt.Errorf("payload: %w", err))
	}
	if len(payload) == 0 {
		payload = nil
	}

	var metadata map[string]string
	if md := f["metadata"].GetStructValue(); md != nil && len(md.GetFields()) > 0 {
		metadata = make(map[string]string, len(md.GetFields()))
		for k, v := range md.GetFields() {
			metadata[k] = v.GetStringValue()
		}
	}

	return message.New(
		f["id"].GetStringValue(),
		int(f["source"].GetNumberValue()),
		int(f["tag"].GetNumberValue()),
		payload,
		metadata,
		trace.SpanContext{},
	), nil
}

// ContentType returns the MIME type for Protocol Buffers
func (c Proto) ContentType() string {
	return "application/x-protobuf"
}

// Name returns the codec identifier
func (c Proto) Name() string {
	return "proto"
}

// Compile-time check
var _ Codec = Proto{}
