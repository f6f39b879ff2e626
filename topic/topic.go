// Package topic specifies the substrate-agnostic contracts of C3/C4: a
// named, append-only, partition-keyed log of raw events, its producers,
// and its at-least-once consumer groups. Concrete substrates (in-memory,
// file, broker) are external collaborators; this package defines only
// their shape, per spec §6.
//
// Shaped after kode4food-caravan's topic/topic.go Topic/Producer/Consumer
// interfaces and internal/ingestion/wal.go's ack/segment vocabulary from
// the teacher.
package topic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RawEvent is the substrate-level unit: a producer timestamp, an opaque
// already-serialized message, and an optional partition key.
type RawEvent struct {
	TimestampMs int64
	Message     []byte
	Key         []byte
}

// Now stamps a RawEvent with the current wall clock, as Producer
// implementations do at produce time (spec §3: "producer's clock at
// produce time").
func Now() int64 { return time.Now().UnixMilli() }

// StartFrom selects where a new consumer group begins reading a topic.
type StartFrom int

const (
	Beginning StartFrom = iota
	End
)

// ConsumerGroup names a set of cooperating consumers that share offset
// state. Anonymous groups (AnonymousGroup) get a fresh unique name per
// call and therefore never share offsets with any other group.
type ConsumerGroup struct {
	Name      string
	StartFrom StartFrom
}

// AnonymousGroup returns a ConsumerGroup with a freshly generated unique
// name, grounded on internal/common/types.go's use of google/uuid for
// identifier generation.
func AnonymousGroup(startFrom StartFrom) ConsumerGroup {
	return ConsumerGroup{Name: "anon-" + uuid.NewString(), StartFrom: startFrom}
}

// Envelope is an at-least-once delivery unit. Callers must eventually call
// either Ack or Nack; WithEnvelope below acks unless the wrapped function
// failed, in which case it nacks.
type Envelope interface {
	Event() RawEvent
	Ack(ctx context.Context) error
	Nack(ctx context.Context, cause error) error
}

// WithEnvelope runs fn over e's event and acks on success, nacks on
// failure, returning whatever error occurred. This is the Go idiom for
// spec §4.3's implicit-ack-on-scoped-release rule.
func WithEnvelope(ctx context.Context, e Envelope, fn func(RawEvent) error) error {
	if err := fn(e.Event()); err != nil {
		if nackErr := e.Nack(ctx, err); nackErr != nil {
			return nackErr
		}
		return err
	}
	return e.Ack(ctx)
}

// Producer publishes events to a topic. Produce returns only after the
// substrate's own durability guarantee (commit ack for a broker, fsync
// for a file, enqueue for in-memory) — see spec §4.3.
type Producer interface {
	Produce(ctx context.Context, event RawEvent) error
	Close(ctx context.Context) error
}

// Consumer yields the next envelope for its consumer group, or (nil, nil)
// on clean cancellation/shutdown (spec §4.3: "Returns none on clean
// shutdown/cancellation"). A non-nil error indicates a substrate error.
type Consumer interface {
	Consume(ctx context.Context) (Envelope, error)
	Close(ctx context.Context) error
}

// Topic is a named append-only partitioned log of RawEvents. Substrates
// satisfying this contract must support consumer groups with Beginning/End
// start policies and at-least-once redelivery on nack or unacked
// disconnect (spec §6).
type Topic interface {
	Name() string
	Producer(ctx context.Context) (Producer, error)
	Consumer(ctx context.Context, group ConsumerGroup) (Consumer, error)
}

// Factory makes Topics by name, idempotently: repeated calls with the same
// name must return topics sharing storage and offsets (spec §6).
type Factory interface {
	Make(ctx context.Context, name string) (Topic, error)
}
