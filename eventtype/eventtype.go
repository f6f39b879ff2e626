// Package eventtype implements C6 (EventType) and C7 (Migrator) together,
// in one package, because spec §9 notes an inherent cycle between the two:
// a Migrator's destination is the very EventType it helps produce. Keeping
// them in one package lets the destination be captured as a closure over a
// pointer set at construction time (spec §9 "store a lazily-initialized
// cell"), without an import cycle.
//
// Grounded on internal/processing/pipeline.go's Transform/sequential-stage/
// DLQ-on-failure shape — the teacher's field_projection /
// timestamp_normalization / type_coercion pipeline stages are the direct
// structural analog of AddFields / RemoveFields / FlatMap here.
package eventtype

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/emilniklas/sequent/catchup"
	"github.com/emilniklas/sequent/codec"
	"github.com/emilniklas/sequent/schema"
	"github.com/emilniklas/sequent/sequenterr"
	"github.com/emilniklas/sequent/topic"
)

// AggregateRef is the minimal view of an aggregate an EventType needs to
// compute its identity string and topic name (spec §3). Package aggregate
// builds the full Aggregate type on top of BindAggregate below.
type AggregateRef struct {
	Name string
}

// EventType is the immutable value of spec §3: a declared name, schema,
// nonce, migrator chain, and optional aggregate binding. Every operator
// below returns a new value; the receiver remains valid and keeps its own
// topic.
type EventType struct {
	name      string
	sch       schema.Schema
	nonce     int
	migrators []*Migrator
	aggregate *AggregateRef
	codec     codec.Codec
}

// Option configures New.
type Option func(*EventType)

// WithNonce sets the explicit nonce (default 0).
func WithNonce(n int) Option { return func(e *EventType) { e.nonce = n } }

// WithCodec overrides the default JSON codec.
func WithCodec(c codec.Codec) Option { return func(e *EventType) { e.codec = c } }

// New constructs an EventType with an empty migrator chain (spec §4.5).
func New(name string, sch schema.Schema, opts ...Option) EventType {
	e := EventType{name: name, sch: sch, codec: codec.JSON()}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func (e EventType) Name() string          { return e.name }
func (e EventType) Schema() schema.Schema { return e.sch }
func (e EventType) Nonce() int            { return e.nonce }
func (e EventType) IsAggregated() bool    { return e.aggregate != nil }

// identityString is et.string() from spec §3.
func (e EventType) identityString() string {
	name := e.name
	if e.aggregate != nil {
		name = e.name + " (agg)"
	}
	return name + " " + e.sch.String()
}

// TopicName implements the critical invariant of spec §3: same name +
// structurally equal schema + same nonce (+ same aggregate) always yields
// the same topic name, and any change to any of those yields a different
// one.
func (e EventType) TopicName() string {
	hash := schema.ContentHash(e.identityString() + strconv.Itoa(e.nonce))
	var parts []string
	if e.aggregate != nil && e.aggregate.Name != "" {
		parts = append(parts, e.aggregate.Name)
	}
	if e.name != "" {
		parts = append(parts, e.name)
	}
	parts = append(parts, hash)
	return strings.Join(parts, "-")
}

// Topic resolves the substrate topic this EventType is backed by.
func (e EventType) Topic(ctx context.Context, factory topic.Factory) (topic.Topic, error) {
	t, err := factory.Make(ctx, e.TopicName())
	if err != nil {
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "make topic "+e.TopicName()).WithCause(err)
	}
	return t, nil
}

// resolveNonce implements spec §4.5's filter/flatMap collision rule: if a
// caller did not explicitly request a nonce and the candidate EventType
// would resolve to the same topic name as the receiver, the nonce is
// bumped until it doesn't (one bump always suffices, since nonce is the
// only remaining degree of freedom in the hash input).
func (e EventType) resolveNonce(newSchema schema.Schema, requested int, explicit bool) int {
	if explicit {
		return requested
	}
	candidate := e
	candidate.sch = newSchema
	candidate.nonce = requested
	if candidate.TopicName() == e.TopicName() {
		return requested + 1
	}
	return requested
}

func explicitNonce(opts []Option) (int, bool) {
	probe := EventType{nonce: -1}
	for _, o := range opts {
		o(&probe)
	}
	if probe.nonce == -1 {
		return 0, false
	}
	return probe.nonce, true
}

// childAndMigrator builds the new EventType sharing the receiver's
// migrator-chain prefix plus one new Migrator from the receiver to it, per
// spec §9's "immutable builder ... copy-on-write ... shared-ownership of
// an immutable list".
func (e EventType) childAndMigrator(newSchema schema.Schema, nonce int, transform func(map[string]interface{}) ([]map[string]interface{}, error)) EventType {
	child := &EventType{
		name:      e.name,
		sch:       newSchema,
		nonce:     nonce,
		aggregate: e.aggregate,
		codec:     e.codec,
	}
	m := &Migrator{
		source:      e,
		destination: func() *EventType { return child },
		transform:   transform,
		codec:       e.codec,
	}
	child.migrators = append(append([]*Migrator{}, e.migrators...), m)
	return *child
}

// AddedField is one field added by AddFields.
type AddedField struct {
	Name    string
	Schema  schema.Schema
	Compute func(old map[string]interface{}) (interface{}, error)
}

// AddFields requires the current schema is a Record; the result's schema
// is the receiver's fields plus the new ones, and its Migrator computes
// each new field from the old event (spec §4.5).
func (e EventType) AddFields(fields []AddedField, opts ...Option) (EventType, error) {
	existing, ok := schema.Fields(e.sch)
	if !ok {
		return EventType{}, sequenterr.New(sequenterr.KindSchemaViolation, "addFields requires a Record schema")
	}
	newFields := append([]schema.Field{}, existing...)
	for _, f := range fields {
		newFields = append(newFields, schema.Field{Name: f.Name, Schema: f.Schema})
	}
	newSchema := schema.Record(newFields...)

	nonce, explicit := explicitNonce(opts)
	nonce = e.resolveNonce(newSchema, nonce, explicit)

	transform := func(old map[string]interface{}) ([]map[string]interface{}, error) {
		out := make(map[string]interface{}, len(old)+len(fields))
		for k, v := range old {
			out[k] = v
		}
		for _, f := range fields {
			v, err := f.Compute(old)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return []map[string]interface{}{out}, nil
	}

	return e.childAndMigrator(newSchema, nonce, transform), nil
}

// RemoveFields drops the named fields from the schema and from every
// replicated event.
func (e EventType) RemoveFields(names []string, opts ...Option) (EventType, error) {
	existing, ok := schema.Fields(e.sch)
	if !ok {
		return EventType{}, sequenterr.New(sequenterr.KindSchemaViolation, "removeFields requires a Record schema")
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var newFields []schema.Field
	for _, f := range existing {
		if !drop[f.Name] {
			newFields = append(newFields, f)
		}
	}
	newSchema := schema.Record(newFields...)

	nonce, explicit := explicitNonce(opts)
	nonce = e.resolveNonce(newSchema, nonce, explicit)

	transform := func(old map[string]interface{}) ([]map[string]interface{}, error) {
		out := make(map[string]interface{}, len(old))
		for k, v := range old {
			if !drop[k] {
				out[k] = v
			}
		}
		return []map[string]interface{}{out}, nil
	}

	return e.childAndMigrator(newSchema, nonce, transform), nil
}

// TurnFieldsOptional wraps the named fields' schemas in Optional; the
// migrator transform is the identity (spec §4.5).
func (e EventType) TurnFieldsOptional(names []string, opts ...Option) (EventType, error) {
	existing, ok := schema.Fields(e.sch)
	if !ok {
		return EventType{}, sequenterr.New(sequenterr.KindSchemaViolation, "turnFieldsOptional requires a Record schema")
	}
	toOptional := make(map[string]bool, len(names))
	for _, n := range names {
		toOptional[n] = true
	}
	newFields := make([]schema.Field, len(existing))
	for i, f := range existing {
		if toOptional[f.Name] {
			if _, already := schema.Inner(f.Schema); already {
				newFields[i] = f
				continue
			}
			newFields[i] = schema.Field{Name: f.Name, Schema: schema.Optional(f.Schema)}
		} else {
			newFields[i] = f
		}
	}
	newSchema := schema.Record(newFields...)

	nonce, explicit := explicitNonce(opts)
	nonce = e.resolveNonce(newSchema, nonce, explicit)

	identity := func(old map[string]interface{}) ([]map[string]interface{}, error) {
		return []map[string]interface{}{old}, nil
	}

	return e.childAndMigrator(newSchema, nonce, identity), nil
}

// Map is sugar for FlatMap that always yields exactly one output event.
func (e EventType) Map(newSchema schema.Schema, f func(old map[string]interface{}) (map[string]interface{}, error), opts ...Option) (EventType, error) {
	return e.FlatMap(newSchema, func(old map[string]interface{}) ([]map[string]interface{}, error) {
		v, err := f(old)
		if err != nil {
			return nil, err
		}
		return []map[string]interface{}{v}, nil
	}, opts...)
}

// FlatMap applies f to every event, which may yield zero, one, or many
// output events, and declares the result's schema explicitly since f's
// shape is arbitrary (spec §4.5).
func (e EventType) FlatMap(newSchema schema.Schema, f func(old map[string]interface{}) ([]map[string]interface{}, error), opts ...Option) (EventType, error) {
	nonce, explicit := explicitNonce(opts)
	nonce = e.resolveNonce(newSchema, nonce, explicit)
	return e.childAndMigrator(newSchema, nonce, f), nil
}

// Filter keeps events matching predicate and drops the rest; the schema
// is unchanged, so the nonce is auto-incremented (via resolveNonce, unless
// the caller passed WithNonce explicitly) to avoid colliding with the
// unfiltered topic (spec §4.5, scenario 3).
func (e EventType) Filter(predicate func(map[string]interface{}) bool, opts ...Option) (EventType, error) {
	return e.FlatMap(e.sch, func(old map[string]interface{}) ([]map[string]interface{}, error) {
		if predicate(old) {
			return []map[string]interface{}{old}, nil
		}
		return nil, nil
	}, opts...)
}

// RunOptions configures Producer/Consumer/Migrator.Run calls.
type RunOptions struct {
	CatchUp    catchup.Options
	OnProgress func(name string, delivered int64)
}

// EventProducer is the result of EventType.Producer: it owns the running
// migrations that materialized the latest topic and the producer bound to
// it.
type EventProducer struct {
	et       EventType
	producer topic.Producer
	runs     []*RunningMigration
}

// Producer runs every Migrator in the chain (materializing every
// intermediate topic), waiting for each to catch up with its source
// before starting the next, then opens a producer on the final topic
// (spec §4.5).
func (e EventType) Producer(ctx context.Context, factory topic.Factory, opts RunOptions) (*EventProducer, error) {
	var runs []*RunningMigration
	for _, m := range e.migrators {
		rm, err := m.Run(ctx, factory, opts)
		if err != nil {
			disposeAll(ctx, runs)
			return nil, err
		}
		runs = append(runs, rm)
		if err := rm.Wait(ctx); err != nil {
			disposeAll(ctx, runs)
			return nil, err
		}
	}

	t, err := e.Topic(ctx, factory)
	if err != nil {
		disposeAll(ctx, runs)
		return nil, err
	}
	p, err := t.Producer(ctx)
	if err != nil {
		disposeAll(ctx, runs)
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "open producer").WithCause(err)
	}
	return &EventProducer{et: e, producer: p, runs: runs}, nil
}

func disposeAll(ctx context.Context, runs []*RunningMigration) {
	for i := len(runs) - 1; i >= 0; i-- {
		_ = runs[i].Dispose(ctx)
	}
}

// Produce validates the event, derives its partition key, and publishes it
// (spec §4.5's EventProducer.produce).
func (p *EventProducer) Produce(ctx context.Context, event map[string]interface{}, key []byte) error {
	if verr := p.et.sch.Validate(event); verr != nil {
		return sequenterr.AsSchemaViolation(verr)
	}

	derivedKey, err := p.et.resolveKey(event, key)
	if err != nil {
		return err
	}

	data, err := p.et.codec.Serialize(event)
	if err != nil {
		return sequenterr.New(sequenterr.KindSubstrateError, "serialize event").WithCause(err)
	}

	if err := p.producer.Produce(ctx, topic.RawEvent{TimestampMs: topic.Now(), Message: data, Key: derivedKey}); err != nil {
		return sequenterr.New(sequenterr.KindSubstrateError, "produce event").WithCause(err)
	}
	return nil
}

// Close disposes the producer and cascades disposal to every running
// migration, in reverse construction order (spec §5).
func (p *EventProducer) Close(ctx context.Context) error {
	err := p.producer.Close(ctx)
	disposeAll(ctx, p.runs)
	return err
}

func (e EventType) resolveKey(event map[string]interface{}, callerKey []byte) ([]byte, error) {
	if e.aggregate == nil {
		return callerKey, nil
	}
	if callerKey != nil {
		return nil, sequenterr.New(sequenterr.KindAggregateKeyConflict, "caller-supplied key not allowed inside aggregate "+e.aggregate.Name)
	}
	idValue, present := event["id"]
	if !present || idValue == nil {
		return nil, sequenterr.New(sequenterr.KindMissingAggregateKey, "event missing \"id\" field required by aggregate "+e.aggregate.Name)
	}

	fields, _ := schema.Fields(e.sch)
	var idSchema schema.Schema
	for _, f := range fields {
		if f.Name == "id" {
			idSchema = f.Schema
			break
		}
	}
	if inner, ok := schema.Inner(idSchema); ok {
		idSchema = inner
	}

	switch idSchema.(type) {
	case nil:
		return nil, sequenterr.New(sequenterr.KindMissingAggregateKey, "aggregate "+e.aggregate.Name+" EventType has no declared \"id\" field")
	}

	switch v := idValue.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case float64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
		return buf, nil
	default:
		return nil, sequenterr.New(sequenterr.KindMissingAggregateKey, "unsupported id field type for aggregate key derivation")
	}
}

// BindAggregate returns a copy of e scoped to the named aggregate,
// enforcing spec §4.8's invariant that an aggregated EventType must be a
// Record with an "id" field. Used by package aggregate; kept here to avoid
// an import cycle between eventtype and aggregate (spec §9's
// EventType/Migrator cycle note applies analogously).
func BindAggregate(e EventType, name string) (EventType, error) {
	fields, ok := schema.Fields(e.sch)
	if !ok {
		return EventType{}, sequenterr.New(sequenterr.KindSchemaViolation, "aggregate EventType must have a Record schema")
	}
	hasID := false
	for _, f := range fields {
		if f.Name == "id" {
			hasID = true
			break
		}
	}
	if !hasID {
		return EventType{}, sequenterr.New(sequenterr.KindSchemaViolation, "aggregate EventType must declare an \"id\" field")
	}
	e.aggregate = &AggregateRef{Name: name}
	return e, nil
}

// Event is the ingestor-visible projection of a RawEvent: timestamp as a
// wall-clock instant, decoded message, and optional key (spec §3).
type Event struct {
	Timestamp time.Time
	Message   map[string]interface{}
	Key       []byte
}

// Envelope wraps a substrate topic.Envelope decoded into an Event.
type Envelope struct {
	event Event
	raw   topic.Envelope
}

func (e *Envelope) Event() Event { return e.event }
func (e *Envelope) Ack(ctx context.Context) error { return e.raw.Ack(ctx) }
func (e *Envelope) Nack(ctx context.Context, cause error) error { return e.raw.Nack(ctx, cause) }

// Consumer is the CatchUpConsumer-wrapped, schema-decoding consumer
// returned by EventType.Consumer.
type Consumer struct {
	inner *catchup.Consumer
	codec codec.Codec
}

// Consume decodes the next envelope, or returns (nil, nil) on clean
// cancellation.
func (c *Consumer) Consume(ctx context.Context) (*Envelope, error) {
	env, err := c.inner.Consume(ctx)
	if err != nil {
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "consume").WithCause(err)
	}
	if env == nil {
		return nil, nil
	}
	raw := env.Event()
	decoded, err := c.codec.Deserialize(raw.Message)
	if err != nil {
		_ = env.Nack(ctx, err)
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "decode event").WithCause(err)
	}
	msg, _ := decoded.(map[string]interface{})
	return &Envelope{
		event: Event{Timestamp: time.UnixMilli(raw.TimestampMs), Message: msg, Key: raw.Key},
		raw:   env,
	}, nil
}

// CaughtUp exposes the wrapped CatchUpConsumer's latch, for callers that
// want to observe it directly instead of via an onCatchUp callback.
func (c *Consumer) CaughtUp() <-chan struct{} { return c.inner.CaughtUp() }

func (c *Consumer) Close(ctx context.Context) error { return c.inner.Close(ctx) }

// Consumer opens a CatchUpConsumer-wrapped, schema-decoding Consumer on
// e's topic (spec §4.5).
func (e EventType) Consumer(ctx context.Context, factory topic.Factory, group topic.ConsumerGroup, opts RunOptions, onCatchUp func()) (*Consumer, error) {
	t, err := e.Topic(ctx, factory)
	if err != nil {
		return nil, err
	}
	raw, err := t.Consumer(ctx, group)
	if err != nil {
		return nil, sequenterr.New(sequenterr.KindSubstrateError, "open consumer").WithCause(err)
	}
	var onProgress func(int64)
	if opts.OnProgress != nil {
		onProgress = func(n int64) { opts.OnProgress(e.name, n) }
	}
	cc := catchup.New(raw, opts.CatchUp, onProgress)
	if onCatchUp != nil {
		go func() {
			<-cc.CaughtUp()
			onCatchUp()
		}()
	}
	return &Consumer{inner: cc, codec: e.codec}, nil
}
