package nats

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/redist/transport"
	"go.opentelemetry.io/otel/trace"
)

func TestSubject(t *testing.T) {
	if got := Subject("run-7", 3); got != "redist.run-7.3" {
		t.Errorf("unexpected subject %s", got)
	}
}

func TestNewWithoutConn(t *testing.T) {
	if _, err := New(nil, 0, 1); !errors.Is(err, ErrConnRequired) {
		t.Errorf("expected ErrConnRequired, got %v", err)
	}
}

func TestCheckHeaders(t *testing.T) {
	msg := transport.NewMessage("id", 2, 9, nil, nil, trace.SpanContext{})

	tests := []struct {
		name    string
		header  nats.Header
		wantErr bool
	}{
		{"no headers", nats.Header{}, false},
		{"matching", nats.Header{HeaderSource: []string{"2"}, HeaderTag: []string{"9"}}, false},
		{"wrong source", nats.Header{HeaderSource: []string{"1"}}, true},
		{"wrong tag", nats.Header{HeaderTag: []string{"8"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkHeaders(tt.header, msg)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil && !errors.Is(err, transport.ErrDecodeFailure) {
				t.Errorf("expected ErrDecodeFailure, got %v", err)
			}
		})
	}
}

// TestSendRecv runs against the server named by NATS_URL.
func TestSendRecv(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	world := transport.NewID()
	c0, err := New(conn, 0, 2, WithWorld(world))
	if err != nil {
		t.Fatal(err)
	}
	defer c0.Close(ctx)
	c1, err := New(conn, 1, 2, WithWorld(world))
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close(ctx)

	req, err := c0.Isend(ctx, 1, 5, []byte("over nats"))
	if err != nil {
		t.Fatal(err)
	}
	if err := req.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	msg, err := c1.Recv(ctx, 0, 5)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(msg.Payload()) != "over nats" {
		t.Errorf("got %q", msg.Payload())
	}
}
