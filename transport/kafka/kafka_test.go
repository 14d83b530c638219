package kafka

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rbaliyan/redist/transport"
	"github.com/rbaliyan/redist/transport/codec"
	"go.opentelemetry.io/otel/trace"
)

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestNew(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewConfig())
	consumer := mocks.NewConsumer(t, nil)

	if _, err := New(nil, consumer, 0, 1); !errors.Is(err, ErrProducerRequired) {
		t.Errorf("expected ErrProducerRequired, got %v", err)
	}
	if _, err := New(producer, nil, 0, 1); !errors.Is(err, ErrConsumerRequired) {
		t.Errorf("expected ErrConsumerRequired, got %v", err)
	}
	if _, err := New(producer, consumer, 1, 1); !errors.Is(err, transport.ErrInvalidRank) {
		t.Errorf("expected ErrInvalidRank, got %v", err)
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("w", 12); got != "redist.w.12" {
		t.Errorf("unexpected topic %s", got)
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	producer := mocks.NewSyncProducer(t, NewConfig())
	consumer := mocks.NewConsumer(t, nil)
	consumer.ExpectConsumePartition(Topic("run", 0), 0, sarama.OffsetOldest)

	c, err := New(producer, consumer, 0, 2, WithWorld("run"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "redist.run.1" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		if header(msg, HeaderSource) != "0" || header(msg, HeaderTag) != "6" {
			return fmt.Errorf("unexpected headers %v", msg.Headers)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		decoded, err := codec.Default().Decode(value)
		if err != nil {
			return err
		}
		if !bytes.Equal(decoded.Payload(), []byte("chunk")) {
			return fmt.Errorf("unexpected payload %q", decoded.Payload())
		}
		return nil
	})
	req, err := c.Isend(ctx, 1, 6, []byte("chunk"))
	if err != nil {
		t.Fatal(err)
	}
	if err := req.Wait(ctx); err != nil {
		t.Errorf("Wait failed: %v", err)
	}

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	if err := c.Send(ctx, 1, 6, nil); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("expected ErrOutOfBrokers, got %v", err)
	}
	if err := c.Send(ctx, 2, 6, nil); !errors.Is(err, transport.ErrInvalidRank) {
		t.Errorf("expected ErrInvalidRank, got %v", err)
	}
}

func TestRecv(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	producer := mocks.NewSyncProducer(t, NewConfig())
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(Topic(DefaultWorld, 1), 0, sarama.OffsetOldest)

	dropped := make(chan error, 1)
	c, err := New(producer, consumer, 1, 3, WithErrorHandler(func(err error) { dropped <- err }))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	encode := func(source, tag int, payload string) []byte {
		data, err := codec.Default().Encode(transport.NewMessage(transport.NewID(), source, tag, []byte(payload), nil, trace.SpanContext{}))
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte{0xc1}})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: encode(2, 4, "late")})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: encode(0, 4, "early")})

	msg, err := c.Recv(ctx, 0, 4)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(msg.Payload()) != "early" {
		t.Errorf("expected early, got %q", msg.Payload())
	}
	msg, err = c.Recv(ctx, transport.AnySource, 4)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if msg.Source() != 2 {
		t.Errorf("expected source 2, got %d", msg.Source())
	}

	select {
	case err := <-dropped:
		if !errors.Is(err, codec.ErrDecodeFailure) {
			t.Errorf("expected ErrDecodeFailure, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("garbage message was not reported")
	}

	c.Close(ctx)
	if _, err := c.Recv(ctx, 0, 9); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}
