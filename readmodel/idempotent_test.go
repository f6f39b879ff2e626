package readmodel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emilniklas/sequent/eventtype"
	"github.com/emilniklas/sequent/idempotency"
	"github.com/emilniklas/sequent/readmodel"
)

func TestIdempotentSkipsAlreadyAppliedEvent(t *testing.T) {
	cache := idempotency.New(100, time.Minute)
	var calls int
	inner := readmodel.Handler(func(context.Context, eventtype.Event, interface{}, []byte) error {
		calls++
		return nil
	})
	wrapped := readmodel.Idempotent("totals", cache, inner)

	ev := eventtype.Event{Timestamp: time.UnixMilli(1000), Message: map[string]interface{}{"id": "a"}}

	if err := wrapped(context.Background(), ev, nil, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := wrapped(context.Background(), ev, nil, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected the redelivered event to be skipped, inner handler ran %d times", calls)
	}
}

// TestIdempotentRetriesAfterFailure covers spec P7: a handler that fails on
// first attempt and succeeds on redelivery must still be invoked (and take
// effect) on that redelivery, so Idempotent must not mark the event seen
// until the wrapped handler actually succeeds.
func TestIdempotentRetriesAfterFailure(t *testing.T) {
	cache := idempotency.New(100, time.Minute)
	var calls int
	boom := errors.New("boom")
	inner := readmodel.Handler(func(context.Context, eventtype.Event, interface{}, []byte) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	})
	wrapped := readmodel.Idempotent("totals", cache, inner)

	ev := eventtype.Event{Timestamp: time.UnixMilli(1000), Message: map[string]interface{}{"id": "a"}}

	if err := wrapped(context.Background(), ev, nil, []byte("a")); !errors.Is(err, boom) {
		t.Fatalf("expected the first, failing call to propagate its error, got %v", err)
	}
	if err := wrapped(context.Background(), ev, nil, []byte("a")); err != nil {
		t.Fatalf("expected the retried redelivery to succeed, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both the failed attempt and its retry to invoke the inner handler, got %d calls", calls)
	}

	// A third delivery of the same event, now that it succeeded, is skipped.
	if err := wrapped(context.Background(), ev, nil, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected the event to be skipped once already applied, got %d calls", calls)
	}
}
