package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rbaliyan/redist/transport/message"
	"go.opentelemetry.io/otel/trace"
)

func TestCodecs(t *testing.T) {
	codecs := []Codec{MsgPack{}, JSON{}, Proto{}}
	for _, codec := range codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Run("Encode and Decode", func(t *testing.T) {
				payload := []byte{0x00, 0xff, 0x10, 'a', 'b'}
				msg := message.New("id-1", 3, 42, payload, nil, trace.SpanContext{})

				data, err := codec.Encode(msg)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				decoded, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}

				if decoded.ID() != "id-1" {
					t.Errorf("expected id-1, got %s", decoded.ID())
				}
				if decoded.Source() != 3 {
					t.Errorf("expected source 3, got %d", decoded.Source())
				}
				if decoded.Tag() != 42 {
					t.Errorf("expected tag 42, got %d", decoded.Tag())
				}
				if !bytes.Equal(decoded.Payload(), payload) {
					t.Errorf("payload mismatch: %v != %v", decoded.Payload(), payload)
				}
				if decoded.Metadata() != nil {
					t.Error("expected nil metadata")
				}
			})

			t.Run("Encode and Decode with metadata", func(t *testing.T) {
				metadata := map[string]string{"key": "value", "env": "test"}
				msg := message.New("id-2", 0, 2, []byte("data"), metadata, trace.SpanContext{})

				data, err := codec.Encode(msg)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				decoded, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if diff := cmp.Diff(metadata, decoded.Metadata()); diff != "" {
					t.Errorf("metadata mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("Negative tag", func(t *testing.T) {
				msg := message.New("id-3", 1, -1, nil, nil, trace.SpanContext{})
				data, err := codec.Encode(msg)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				decoded, err := codec.Decode(data)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if decoded.Tag() != -1 {
					t.Errorf("expected tag -1, got %d", decoded.Tag())
				}
				if len(decoded.Payload()) != 0 {
					t.Errorf("expected empty payload, got %v", decoded.Payload())
				}
			})

			t.Run("Decode garbage returns error", func(t *testing.T) {
				_, err := codec.Decode([]byte{0xc1, 0xff, 0x00, 0x7b})
				if !errors.Is(err, ErrDecodeFailure) {
					t.Errorf("expected ErrDecodeFailure, got %v", err)
				}
			})
		})
	}
}

func TestDefaultCodec(t *testing.T) {
	if Default().Name() != "msgpack" {
		t.Errorf("expected default codec to be msgpack, got %s", Default().Name())
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"msgpack", "json", "proto"} {
		c, ok := ByName(name)
		if !ok {
			t.Fatalf("codec %q not found", name)
		}
		if c.Name() != name {
			t.Errorf("expected %s, got %s", name, c.Name())
		}
	}
	if _, ok := ByName("xml"); ok {
		t.Error("unexpected codec xml")
	}
}
