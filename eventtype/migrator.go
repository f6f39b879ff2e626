package eventtype

import (
	"context"
	"sync"

	"github.com/emilniklas/sequent/catchup"
	"github.com/emilniklas/sequent/codec"
	"github.com/emilniklas/sequent/sequenterr"
	"github.com/emilniklas/sequent/topic"
)

// Migrator is C7: an idempotent, once-per-process forward replicator from
// a source EventType's topic to a destination EventType's topic (spec
// §3, §4.6). destination is a thunk rather than a direct reference to
// break the cycle with the EventType it helps construct (spec §9).
type Migrator struct {
	source      EventType
	destination func() *EventType
	transform   func(old map[string]interface{}) ([]map[string]interface{}, error)
	codec       codec.Codec

	mu        sync.Mutex
	startedCh chan struct{}
	result    *RunningMigration
	err       error
}

// RunningMigration is a live replicator holding the source consumer and
// destination producer (spec §3). It owns a cancel function and releases
// both on Dispose.
type RunningMigration struct {
	cancel   context.CancelFunc
	consumer topic.Consumer
	producer topic.Producer
	caughtUp <-chan struct{}
	doneC    chan struct{}

	mu  sync.Mutex
	err error
}

func (rm *RunningMigration) fail(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.err == nil {
		rm.err = err
	}
}

// Err returns the first fatal error observed by the replication loop, if
// any.
func (rm *RunningMigration) Err() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.err
}

// Wait blocks until this migration has caught up with its source or has
// failed, whichever happens first (spec §4.6 step 6's "ready future", and
// §7's "the Migrator's ready-future rejects if not yet caught up").
func (rm *RunningMigration) Wait(ctx context.Context) error {
	select {
	case <-rm.caughtUp:
		return rm.Err()
	case <-rm.doneC:
		return rm.Err()
	case <-ctx.Done():
		return sequenterr.New(sequenterr.KindCancelled, "wait for migrator catch-up cancelled").WithCause(ctx.Err())
	}
}

// Dispose cancels the replication loop and releases the consumer and
// producer (spec §4.6 step 7, §5 cancellation).
func (rm *RunningMigration) Dispose(ctx context.Context) error {
	rm.cancel()
	<-rm.doneC
	cErr := rm.consumer.Close(ctx)
	pErr := rm.producer.Close(ctx)
	if cErr != nil {
		return cErr
	}
	return pErr
}

// Run is idempotent (spec P10, §5 "Migrator idempotency"): concurrent or
// repeated calls all observe the same *RunningMigration, because only the
// first caller performs the work; everyone else waits on startedCh.
func (m *Migrator) Run(ctx context.Context, factory topic.Factory, opts RunOptions) (*RunningMigration, error) {
	m.mu.Lock()
	if m.startedCh != nil {
		ch := m.startedCh
		m.mu.Unlock()
		<-ch
		return m.result, m.err
	}
	m.startedCh = make(chan struct{})
	m.mu.Unlock()

	rm, err := m.start(ctx, factory, opts)

	m.mu.Lock()
	m.result, m.err = rm, err
	close(m.startedCh)
	m.mu.Unlock()

	return rm, err
}

func (m *Migrator) start(ctx context.Context, factory topic.Factory, opts RunOptions) (*RunningMigration, error) {
	dest := m.destination()

	srcTopic, err := m.source.Topic(ctx, factory)
	if err != nil {
		return nil, err
	}
	dstTopic, err := dest.Topic(ctx, factory)
	if err != nil {
		return nil, err
	}

	// Named consumer group makes migration resumable and lets cooperating
	// processes share the work (spec §4.6 step 2, invariant).
	group := topic.ConsumerGroup{Name: srcTopic.Name() + "-" + dstTopic.Name(), StartFrom: topic.Beginning}
	rawConsumer, err := srcTopic.Consumer(ctx, group)
	if err != nil {
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "open migrator source consumer").WithCause(err)
	}

	destProducer, err := dstTopic.Producer(ctx)
	if err != nil {
		_ = rawConsumer.Close(ctx)
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "open migrator destination producer").WithCause(err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	var onProgress func(int64)
	if opts.OnProgress != nil {
		name := srcTopic.Name() + "->" + dstTopic.Name()
		onProgress = func(n int64) { opts.OnProgress(name, n) }
	}

	cc := catchup.New(rawConsumer, opts.CatchUp, onProgress)

	rm := &RunningMigration{
		cancel:   cancel,
		consumer: rawConsumer,
		producer: destProducer,
		caughtUp: cc.CaughtUp(),
		doneC:    make(chan struct{}),
	}

	go m.loop(runCtx, cc, rm)

	return rm, nil
}

func (m *Migrator) loop(ctx context.Context, cc *catchup.Consumer, rm *RunningMigration) {
	defer close(rm.doneC)

	for {
		env, err := cc.Consume(ctx)
		if err != nil {
			rm.fail(sequenterr.New(sequenterr.KindMigratorFailure, "consume source event").WithCause(err))
			return
		}
		if env == nil {
			return
		}

		raw := env.Event()
		decoded, err := m.codec.Deserialize(raw.Message)
		if err != nil {
			_ = env.Nack(ctx, err)
			rm.fail(sequenterr.New(sequenterr.KindMigratorFailure, "decode source event").WithCause(err))
			return
		}
		msg, _ := decoded.(map[string]interface{})

		outputs, err := m.transform(msg)
		if err != nil {
			_ = env.Nack(ctx, err)
			rm.fail(sequenterr.New(sequenterr.KindMigratorFailure, "transform failed").WithCause(err))
			return
		}

		if failErr := m.replicate(ctx, rm, raw, outputs); failErr != nil {
			_ = env.Nack(ctx, failErr)
			rm.fail(failErr)
			return
		}

		if err := env.Ack(ctx); err != nil {
			rm.fail(sequenterr.New(sequenterr.KindSubstrateError, "ack source event").WithCause(err))
			return
		}
	}
}

// replicate publishes every transform output preserving the original
// event's timestamp and partition key (spec §4.6 step 5), so ordering and
// aggregation stay stable across the migration chain.
func (m *Migrator) replicate(ctx context.Context, rm *RunningMigration, original topic.RawEvent, outputs []map[string]interface{}) error {
	for _, out := range outputs {
		data, err := m.codec.Serialize(out)
		if err != nil {
			return sequenterr.New(sequenterr.KindMigratorFailure, "serialize replicated event").WithCause(err)
		}
		if err := rm.producer.Produce(ctx, topic.RawEvent{
			TimestampMs: original.TimestampMs,
			Message:     data,
			Key:         original.Key,
		}); err != nil {
			return sequenterr.New(sequenterr.KindMigratorFailure, "produce to destination topic").WithCause(err)
		}
	}
	return nil
}
