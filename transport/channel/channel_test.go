package channel

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/codec"
	"golang.org/x/sync/errgroup"
)

func TestNewWorld(t *testing.T) {
	w, err := NewWorld(3)
	if err != nil {
		t.Fatalf("NewWorld failed: %v", err)
	}
	defer w.Close()

	if w.Size() != 3 {
		t.Errorf("expected size 3, got %d", w.Size())
	}
	for r := 0; r < 3; r++ {
		c := w.Comm(r)
		if c.Rank() != r || c.Size() != 3 {
			t.Errorf("rank %d: got rank %d size %d", r, c.Rank(), c.Size())
		}
	}

	if _, err := NewWorld(0); !errors.Is(err, transport.ErrInvalidGroup) {
		t.Errorf("expected ErrInvalidGroup, got %v", err)
	}
}

func TestSendRecv(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"direct", nil},
		{"msgpack envelope", []Option{WithCodec(codec.MsgPack{})}},
		{"proto envelope", []Option{WithCodec(codec.Proto{})}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, err := NewWorld(2, tc.opts...)
			if err != nil {
				t.Fatal(err)
			}
			defer w.Close()

			payload := []byte("hello")
			if err := w.Comm(0).Send(ctx, 1, 7, payload); err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			payload[0] = 'j'

			msg, err := w.Comm(1).Recv(ctx, 0, 7)
			if err != nil {
				t.Fatalf("Recv failed: %v", err)
			}
			if msg.Source() != 0 || msg.Tag() != 7 {
				t.Errorf("expected source 0 tag 7, got %d %d", msg.Source(), msg.Tag())
			}
			if !bytes.Equal(msg.Payload(), []byte("hello")) {
				t.Errorf("payload not copied: %q", msg.Payload())
			}
		})
	}
}

func TestRecvMatching(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(3)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.Comm(1).Send(ctx, 0, 5, []byte("a"))
	w.Comm(2).Send(ctx, 0, 6, []byte("b"))
	w.Comm(1).Send(ctx, 0, 5, []byte("c"))

	t.Run("by tag", func(t *testing.T) {
		msg, err := w.Comm(0).Recv(ctx, transport.AnySource, 6)
		if err != nil {
			t.Fatal(err)
		}
		if string(msg.Payload()) != "b" || msg.Source() != 2 {
			t.Errorf("expected b from 2, got %q from %d", msg.Payload(), msg.Source())
		}
	})

	t.Run("in order per sender", func(t *testing.T) {
		for _, want := range []string{"a", "c"} {
			msg, err := w.Comm(0).Recv(ctx, 1, 5)
			if err != nil {
				t.Fatal(err)
			}
			if string(msg.Payload()) != want {
				t.Errorf("expected %q, got %q", want, msg.Payload())
			}
		}
	})

	if w.Pending(0) != 0 {
		t.Errorf("expected empty mailbox, got %d", w.Pending(0))
	}
}

func TestIsend(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	req, err := w.Comm(1).Isend(ctx, 0, 3, []byte("x"))
	if err != nil {
		t.Fatalf("Isend failed: %v", err)
	}
	if err := req.Wait(ctx); err != nil {
		t.Errorf("Wait failed: %v", err)
	}
	if w.Pending(0) != 1 {
		t.Errorf("expected 1 pending message, got %d", w.Pending(0))
	}
}

func TestInvalidRank(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Comm(0).Send(ctx, 2, 0, nil); !errors.Is(err, transport.ErrInvalidRank) {
		t.Errorf("expected ErrInvalidRank, got %v", err)
	}
	if _, err := w.Comm(0).Recv(ctx, 5, 0); !errors.Is(err, transport.ErrInvalidRank) {
		t.Errorf("expected ErrInvalidRank, got %v", err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	w, err := NewWorld(2)
	if err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := w.Comm(0).Recv(ctx, 1, 0)
		return err
	})

	time.Sleep(10 * time.Millisecond)
	w.Close()

	if err := g.Wait(); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if err := w.Comm(1).Send(ctx, 0, 0, nil); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestRecvContext(t *testing.T) {
	w, err := NewWorld(2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := w.Comm(0).Recv(ctx, 1, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
