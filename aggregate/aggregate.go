// Package aggregate implements C9: a namespace that partitions events of a
// set of EventTypes by a record's "id" field. Binding an EventType to an
// Aggregate rejects production of events with a missing id and rejects
// caller-supplied partition keys, deriving the key from id instead (spec
// §3, §4.8).
//
// Grounded on internal/common/types.go's PartitionKey/PartitionPath
// key-derivation helpers from the teacher, repurposed here from
// time-bucket S3 partitioning to the id-field key derivation spec §4.8
// requires; the actual derivation lives in eventtype.BindAggregate/
// resolveKey to avoid an import cycle (spec §9's cycle note applies
// analogously to Aggregate as it does to Migrator).
package aggregate

import (
	"context"

	"github.com/emilniklas/sequent/eventtype"
	"github.com/emilniklas/sequent/readmodel"
	"github.com/emilniklas/sequent/topic"
)

// Aggregate is the immutable value of spec §3: a name scoping a set of
// EventTypes, paired with the topic factory every producer/read-model bound
// to it resolves topics through.
type Aggregate struct {
	name    string
	factory topic.Factory
}

// New constructs an Aggregate bound to factory, per spec §4.8's
// "Aggregate(name, topicFactory)".
func New(name string, factory topic.Factory) Aggregate {
	return Aggregate{name: name, factory: factory}
}

// Name returns the aggregate's name.
func (a Aggregate) Name() string { return a.name }

// UseEventType rebinds et to this aggregate (spec §4.8's invariant: et must
// be a Record with a declared "id" field) and returns a producer for the
// rebound EventType, resolved through the aggregate's topic factory.
func (a Aggregate) UseEventType(ctx context.Context, et eventtype.EventType, opts eventtype.RunOptions) (*eventtype.EventProducer, error) {
	bound, err := eventtype.BindAggregate(et, a.name)
	if err != nil {
		return nil, err
	}
	return bound.Producer(ctx, a.factory, opts)
}

// ClientScope threads a ReadModelClientFactory through an Aggregate so a
// read model's ingestors resolve the same aggregate-scoped topic names as
// producers opened via UseEventType (spec §4.8's
// ".useClientFactory(cf).useReadModel(rm, opts)").
type ClientScope struct {
	aggregate Aggregate
	cf        readmodel.ClientFactory
}

// UseClientFactory binds cf to this aggregate for a subsequent UseReadModel
// call.
func (a Aggregate) UseClientFactory(cf readmodel.ClientFactory) ClientScope {
	return ClientScope{aggregate: a, cf: cf}
}

// UseReadModel rebinds every ingestor's EventType to the scope's aggregate
// and starts the read model through the aggregate's topic factory, so topic
// names agree with whatever producer published the events (spec §4.8).
func (s ClientScope) UseReadModel(ctx context.Context, rm readmodel.ReadModel, opts readmodel.StartOptions) (*readmodel.Handle, error) {
	bound, err := rm.BindAggregate(s.aggregate.name)
	if err != nil {
		return nil, err
	}
	return readmodel.Start(ctx, bound, s.aggregate.factory, s.cf, opts)
}
