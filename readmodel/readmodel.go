// Package readmodel implements C8: the declarative binding of
// (eventType, ingestor) pairs and optional initializers to a read-model
// client, and the ingestion scheduler that fans in their consumers,
// merges them in approximate timestamp order, and signals catch-up.
//
// Grounded on internal/ingestion/buffer.go's N-concurrent-stream fan-in
// shape and internal/storage/manager.go's flush-loop structure from the
// teacher.
package readmodel

import (
	"context"
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/emilniklas/sequent/casing"
	"github.com/emilniklas/sequent/eventtype"
	"github.com/emilniklas/sequent/schema"
	"github.com/emilniklas/sequent/sequenterr"
	"github.com/emilniklas/sequent/topic"
)

// Handler projects one event into a read-model client. Go closures have
// no canonical string form, so Nonce is the mechanism callers use to force
// a fresh namespace when a handler's behavior changes without the
// function's reflect-derived name changing (e.g. an edited anonymous
// closure) — see §4.7's namespace hash.
type Handler func(ctx context.Context, event eventtype.Event, client interface{}, key []byte) error

// Init runs once, in order, before any ingestion begins (spec §4.7 step 3).
type Init func(ctx context.Context, client interface{}) error

type ingestorSpec struct {
	eventType eventtype.EventType
	handler   Handler
	nonce     int
}

type initSpec struct {
	init  Init
	nonce int
}

// ReadModel is the immutable value of spec §3: a name plus ordered
// ingestors and initializers. On/OnInit return new values.
type ReadModel struct {
	name         string
	ingestors    []ingestorSpec
	initializers []initSpec
}

// New constructs an empty ReadModel.
func New(name string) ReadModel {
	return ReadModel{name: name}
}

// On appends an ingestor binding an EventType to a handler.
func (r ReadModel) On(et eventtype.EventType, handler Handler, nonce ...int) ReadModel {
	n := 0
	if len(nonce) > 0 {
		n = nonce[0]
	}
	r.ingestors = append(append([]ingestorSpec{}, r.ingestors...), ingestorSpec{eventType: et, handler: handler, nonce: n})
	return r
}

// OnInit appends an initializer.
func (r ReadModel) OnInit(init Init, nonce ...int) ReadModel {
	n := 0
	if len(nonce) > 0 {
		n = nonce[0]
	}
	r.initializers = append(append([]initSpec{}, r.initializers...), initSpec{init: init, nonce: n})
	return r
}

// BindAggregate returns a copy of r with every ingestor's EventType rebound
// to the named aggregate (spec §4.8's ".useReadModel" threading the
// aggregate through for consistent topic naming), so its consumer group
// names agree with whatever producer published into the aggregate's
// topics.
func (r ReadModel) BindAggregate(name string) (ReadModel, error) {
	bound := r
	bound.ingestors = make([]ingestorSpec, len(r.ingestors))
	for i, ing := range r.ingestors {
		et, err := eventtype.BindAggregate(ing.eventType, name)
		if err != nil {
			return ReadModel{}, err
		}
		ing.eventType = et
		bound.ingestors[i] = ing
	}
	return bound, nil
}

func funcName(f interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
}

// Namespace computes the namespace of spec §3/§4.7 step 1: any change to
// handlers, initializers, or their nonces yields a different namespace,
// forcing re-projection from scratch.
func (r ReadModel) Namespace(policy casing.Policy, suffixSeparator string) string {
	var sb []byte
	for _, i := range r.initializers {
		sb = append(sb, []byte(funcName(i.init)+"#"+strconv.Itoa(i.nonce)+"\n")...)
	}
	for _, ing := range r.ingestors {
		sb = append(sb, []byte(ing.eventType.Schema().String()+"#"+ing.eventType.Name()+"#"+
			strconv.Itoa(ing.nonce)+"#"+funcName(ing.handler)+"\n")...)
	}
	hash := schema.ContentHash(string(sb))
	return casing.Apply(policy, r.name) + suffixSeparator + hash
}

// ClientFactory is spec §6's ReadModelClientFactory<Client> contract.
type ClientFactory struct {
	NamingConvention casing.Policy
	SuffixSeparator  string
	Make             func(ctx context.Context, namespace string) (interface{}, error)
	OnCatchUp        func(ctx context.Context, client interface{}) error
	// Dispose, if set, is called when the start-scope is released, after
	// all consumers have stopped (spec §3 "the client is disposed last").
	Dispose func(ctx context.Context, client interface{}) error
}

// StartOptions configures Start.
type StartOptions struct {
	RunOptions eventtype.RunOptions
	Logger     func(msg string, fields map[string]interface{})
}

// Handle is the live, disposable result of Start: the client plus the
// ability to stop the live tail. Closing it cancels every underlying
// consumer's pending Consume and disposes the client last; it does not
// call the consumers' own Close methods.
type Handle struct {
	Client interface{}
	cancel context.CancelFunc
	doneC  chan struct{}
	scope  *ClientFactory
	ctx    context.Context
}

// Close cancels the live tail, waits for it to stop, then disposes the
// client.
func (h *Handle) Close(ctx context.Context) error {
	h.cancel()
	<-h.doneC
	if h.scope.Dispose != nil {
		return h.scope.Dispose(ctx, h.Client)
	}
	return nil
}

// prefetch is one ingestor's always-in-flight next-envelope state machine
// (spec §4.7.1 "Prefetch"): Prefetching, Ready, or Taken.
type prefetch struct {
	index    int
	ing      ingestorSpec
	consumer *eventtype.Consumer

	mu      sync.Mutex
	pending chan prefetchResult
}

type prefetchResult struct {
	env *eventtype.Envelope
	err error
}

func newPrefetch(index int, ing ingestorSpec, consumer *eventtype.Consumer) *prefetch {
	p := &prefetch{index: index, ing: ing, consumer: consumer}
	return p
}

func (p *prefetch) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil {
		return
	}
	ch := make(chan prefetchResult, 1)
	p.pending = ch
	go func() {
		env, err := p.consumer.Consume(ctx)
		ch <- prefetchResult{env: env, err: err}
	}()
}

// peek returns the prefetched envelope's timestamp if it resolves within
// timeout; ok is false if it didn't (the prefetch keeps running
// regardless) (spec §4.7.1).
func (p *prefetch) peek(ctx context.Context, timeout time.Duration) (ts time.Time, ok bool, err error) {
	p.start(ctx)
	p.mu.Lock()
	ch := p.pending
	p.mu.Unlock()

	if timeout <= 0 {
		select {
		case res := <-ch:
			p.stash(ch, res)
			if res.err != nil {
				return time.Time{}, false, res.err
			}
			if res.env == nil {
				return time.Time{}, false, nil
			}
			return res.env.Event().Timestamp, true, nil
		case <-ctx.Done():
			return time.Time{}, false, nil
		}
	}

	select {
	case res := <-ch:
		p.stash(ch, res)
		if res.err != nil {
			return time.Time{}, false, res.err
		}
		if res.env == nil {
			return time.Time{}, false, nil
		}
		return res.env.Event().Timestamp, true, nil
	case <-time.After(timeout):
		return time.Time{}, false, nil
	case <-ctx.Done():
		return time.Time{}, false, nil
	}
}

// stash re-delivers a result already drained from the channel so take()
// doesn't re-consume.
func (p *prefetch) stash(ch chan prefetchResult, res prefetchResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == ch {
		resolved := make(chan prefetchResult, 1)
		resolved <- res
		p.pending = resolved
	}
}

// take waits for the prefetch with no timeout, consumes it, and starts the
// next prefetch (spec §4.7.1).
func (p *prefetch) take(ctx context.Context) (*eventtype.Envelope, error) {
	p.start(ctx)
	p.mu.Lock()
	ch := p.pending
	p.pending = nil
	p.mu.Unlock()

	res := <-ch
	p.start(ctx)
	return res.env, res.err
}

// merger implements MultiConsumerIngestor (spec §4.7.1): an N-way,
// timeout-bounded, approximately time-ordered merge over per-ingestor
// prefetchers.
type merger struct {
	prefetches []*prefetch
	peekTimeout time.Duration
}

type mergeResult struct {
	index int
	env   *eventtype.Envelope
}

// next implements spec §4.7.1's algorithm.
func (m *merger) next(ctx context.Context) (*mergeResult, error) {
	for {
		type observation struct {
			ts time.Time
			ok bool
		}
		observations := make([]observation, len(m.prefetches))

		var wg sync.WaitGroup
		errs := make([]error, len(m.prefetches))
		for i, p := range m.prefetches {
			wg.Add(1)
			go func(i int, p *prefetch) {
				defer wg.Done()
				ts, ok, err := p.peek(ctx, m.peekTimeout)
				observations[i] = observation{ts: ts, ok: ok}
				errs[i] = err
			}(i, p)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}

		best := -1
		for i, obs := range observations {
			if !obs.ok {
				continue
			}
			if best == -1 || obs.ts.Before(observations[best].ts) {
				best = i
			}
		}

		if best != -1 {
			env, err := m.prefetches[best].take(ctx)
			if err != nil {
				return nil, err
			}
			if env == nil {
				continue
			}
			return &mergeResult{index: best, env: env}, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}

		// All peeks timed out: race all peek(infinity) for any stream to
		// produce, then recurse (spec §4.7.1 step 4).
		winner := make(chan int, len(m.prefetches))
		raceCtx, cancelRace := context.WithCancel(ctx)
		for i, p := range m.prefetches {
			go func(i int, p *prefetch) {
				_, ok, _ := p.peek(raceCtx, 0)
				if ok {
					select {
					case winner <- i:
					default:
					}
				}
			}(i, p)
		}
		select {
		case <-winner:
		case <-ctx.Done():
			cancelRace()
			return nil, nil
		}
		cancelRace()
	}
}

// Start implements spec §4.7: compute the namespace, make the client, run
// initializers, open one CatchUpConsumer per ingestor, merge them in
// approximate timestamp order, and return once every ingestor has caught
// up. The live tail continues in the background until the returned
// Handle is closed.
func Start(ctx context.Context, r ReadModel, factory topic.Factory, cf ClientFactory, opts StartOptions) (*Handle, error) {
	namespace := r.Namespace(cf.NamingConvention, cf.SuffixSeparator)

	client, err := cf.Make(ctx, namespace)
	if err != nil {
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "make read-model client").WithCause(err)
	}

	for _, init := range r.initializers {
		if err := init.init(ctx, client); err != nil {
			return nil, sequenterr.New(sequenterr.KindIngestorFailure, "read-model initializer failed").WithCause(err)
		}
	}

	scopeCtx, cancel := context.WithCancel(ctx)

	prefetches := make([]*prefetch, len(r.ingestors))
	catchUpSignals := make([]<-chan struct{}, len(r.ingestors))

	for i, ing := range r.ingestors {
		group := topic.ConsumerGroup{Name: namespace + "-" + ing.eventType.TopicName(), StartFrom: topic.Beginning}
		consumer, err := ing.eventType.Consumer(scopeCtx, factory, group, opts.RunOptions, nil)
		if err != nil {
			cancel()
			return nil, err
		}
		prefetches[i] = newPrefetch(i, ing, consumer)
		catchUpSignals[i] = consumer.CaughtUp()
	}

	idleMs := opts.RunOptions.CatchUp.CatchUpIdleMs
	if idleMs <= 0 {
		idleMs = 1000
	}
	peekTimeout := time.Duration(float64(idleMs)*0.7) * time.Millisecond

	m := &merger{prefetches: prefetches, peekTimeout: peekTimeout}

	// failC carries the terminal error of the ingestion loop, if any, so a
	// failure occurring before every ingestor has caught up reaches the
	// catch-up wait below instead of leaving it blocked forever (spec §7:
	// IngestorFailure/SubstrateError must propagate to the caller).
	failC := make(chan error, 1)
	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		for {
			res, err := m.next(scopeCtx)
			if err != nil {
				if opts.Logger != nil {
					opts.Logger("ingestor failure", map[string]interface{}{"error": err.Error()})
				}
				failC <- sequenterr.New(sequenterr.KindSubstrateError, "ingestion merge failed").WithCause(err)
				cancel()
				return
			}
			if res == nil {
				return
			}
			ev := res.env.Event()
			ing := r.ingestors[res.index]
			handleErr := ing.handler(scopeCtx, ev, client, ev.Key)
			if handleErr != nil {
				_ = res.env.Nack(scopeCtx, handleErr)
				if opts.Logger != nil {
					opts.Logger("ingestor failure", map[string]interface{}{"error": handleErr.Error(), "eventType": ing.eventType.Name()})
				}
				failC <- sequenterr.New(sequenterr.KindIngestorFailure, "ingestor failed for "+ing.eventType.Name()).WithCause(handleErr)
				cancel()
				return
			}
			if err := res.env.Ack(scopeCtx); err != nil {
				if opts.Logger != nil {
					opts.Logger("ack failed", map[string]interface{}{"error": err.Error()})
				}
				failC <- sequenterr.New(sequenterr.KindSubstrateError, "ack failed").WithCause(err)
				cancel()
				return
			}
		}
	}()

	for _, sig := range catchUpSignals {
		select {
		case <-sig:
		case err := <-failC:
			cancel()
			return nil, err
		case <-ctx.Done():
			cancel()
			return nil, sequenterr.New(sequenterr.KindCancelled, "read-model start cancelled before catch-up")
		}
	}

	if cf.OnCatchUp != nil {
		if err := cf.OnCatchUp(ctx, client); err != nil {
			cancel()
			return nil, sequenterr.New(sequenterr.KindIngestorFailure, "onCatchUp failed").WithCause(err)
		}
	}
	if opts.Logger != nil {
		opts.Logger("ingestor caught up", map[string]interface{}{"readModel": r.name, "namespace": namespace})
	}

	return &Handle{Client: client, cancel: cancel, doneC: doneC, scope: &cf, ctx: scopeCtx}, nil
}
