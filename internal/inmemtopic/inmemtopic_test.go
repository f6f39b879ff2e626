package inmemtopic_test

import (
	"context"
	"testing"
	"time"

	"github.com/emilniklas/sequent/internal/inmemtopic"
	"github.com/emilniklas/sequent/topic"
)

func TestFactoryMakeIsIdempotent(t *testing.T) {
	f := inmemtopic.NewFactory()
	ctx := context.Background()

	a, err := f.Make(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.Make(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected repeated Make calls with the same name to return the same Topic")
	}
}

func TestProduceConsumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := inmemtopic.NewFactory()
	tp, err := f.Make(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}

	producer, err := tp.Producer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := producer.Produce(ctx, topic.RawEvent{TimestampMs: topic.Now(), Message: []byte("hello")}); err != nil {
		t.Fatal(err)
	}

	consumer, err := tp.Consumer(ctx, topic.ConsumerGroup{Name: "g1", StartFrom: topic.Beginning})
	if err != nil {
		t.Fatal(err)
	}

	env, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if env == nil {
		t.Fatal("expected an envelope")
	}
	if string(env.Event().Message) != "hello" {
		t.Fatalf("unexpected message: %s", env.Event().Message)
	}
	if err := env.Ack(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestNackRedeliversAtLeastOnce(t *testing.T) {
	ctx := context.Background()
	f := inmemtopic.NewFactory()
	tp, _ := f.Make(ctx, "orders")
	producer, _ := tp.Producer(ctx)
	producer.Produce(ctx, topic.RawEvent{TimestampMs: topic.Now(), Message: []byte("one")})

	consumer, _ := tp.Consumer(ctx, topic.ConsumerGroup{Name: "g1", StartFrom: topic.Beginning})

	env, err := consumer.Consume(ctx)
	if err != nil || env == nil {
		t.Fatalf("expected an envelope, got %v, %v", env, err)
	}
	if err := env.Nack(ctx, nil); err != nil {
		t.Fatal(err)
	}

	redelivered, err := consumer.Consume(ctx)
	if err != nil || redelivered == nil {
		t.Fatalf("expected redelivery after nack, got %v, %v", redelivered, err)
	}
	if string(redelivered.Event().Message) != "one" {
		t.Fatalf("unexpected redelivered message: %s", redelivered.Event().Message)
	}
}

func TestConsumerGroupsHaveIndependentOffsets(t *testing.T) {
	ctx := context.Background()
	f := inmemtopic.NewFactory()
	tp, _ := f.Make(ctx, "orders")
	producer, _ := tp.Producer(ctx)
	producer.Produce(ctx, topic.RawEvent{TimestampMs: topic.Now(), Message: []byte("x")})

	c1, _ := tp.Consumer(ctx, topic.ConsumerGroup{Name: "g1", StartFrom: topic.Beginning})
	c2, _ := tp.Consumer(ctx, topic.ConsumerGroup{Name: "g2", StartFrom: topic.Beginning})

	e1, _ := c1.Consume(ctx)
	e1.Ack(ctx)

	e2, err := c2.Consume(ctx)
	if err != nil || e2 == nil {
		t.Fatal("expected g2 to independently observe the event g1 already acked")
	}
}

func TestConsumeReturnsOnCancellation(t *testing.T) {
	ctx := context.Background()
	f := inmemtopic.NewFactory()
	tp, _ := f.Make(ctx, "empty")
	consumer, _ := tp.Consumer(ctx, topic.ConsumerGroup{Name: "g1", StartFrom: topic.Beginning})

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var env topic.Envelope
	var err error
	go func() {
		env, err = consumer.Consume(cctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancellation")
	}
	if env != nil || err != nil {
		t.Fatalf("expected nil, nil on cancellation, got %v, %v", env, err)
	}
}

func TestStartFromEndSkipsExistingEvents(t *testing.T) {
	ctx := context.Background()
	f := inmemtopic.NewFactory()
	tp, _ := f.Make(ctx, "orders")
	producer, _ := tp.Producer(ctx)
	producer.Produce(ctx, topic.RawEvent{TimestampMs: topic.Now(), Message: []byte("before")})

	consumer, _ := tp.Consumer(ctx, topic.ConsumerGroup{Name: "tail", StartFrom: topic.End})
	producer.Produce(ctx, topic.RawEvent{TimestampMs: topic.Now(), Message: []byte("after")})

	env, err := consumer.Consume(ctx)
	if err != nil || env == nil {
		t.Fatalf("expected the post-join event, got %v, %v", env, err)
	}
	if string(env.Event().Message) != "after" {
		t.Fatalf("expected to skip pre-join events, got %s", env.Event().Message)
	}
}
