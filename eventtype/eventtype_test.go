package eventtype_test

import (
	"context"
	"testing"
	"time"

	"github.com/emilniklas/sequent/catchup"
	"github.com/emilniklas/sequent/eventtype"
	"github.com/emilniklas/sequent/internal/inmemtopic"
	"github.com/emilniklas/sequent/schema"
	"github.com/emilniklas/sequent/topic"
)

func orderSchema() schema.Schema {
	return schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "total", Schema: schema.Number()},
	)
}

var runOpts = eventtype.RunOptions{
	CatchUp: catchup.Options{ProgressLogIntervalMs: 3000, CatchUpIdleMs: 50},
}

func TestTopicNameStableForEqualDefinition(t *testing.T) {
	a := eventtype.New("order-placed", orderSchema())
	b := eventtype.New("order-placed", orderSchema())
	if a.TopicName() != b.TopicName() {
		t.Fatal("expected structurally equal EventType definitions to resolve to the same topic name")
	}
}

func TestTopicNameChangesWithSchema(t *testing.T) {
	a := eventtype.New("order-placed", orderSchema())
	b := eventtype.New("order-placed", schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
	))
	if a.TopicName() == b.TopicName() {
		t.Fatal("expected a schema change to change the topic name")
	}
}

func TestAddFieldsProducesDistinctEvolvedTopic(t *testing.T) {
	v1 := eventtype.New("order-placed", orderSchema())
	v2, err := v1.AddFields([]eventtype.AddedField{
		{Name: "currency", Schema: schema.String(), Compute: func(old map[string]interface{}) (interface{}, error) {
			return "USD", nil
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v1.TopicName() == v2.TopicName() {
		t.Fatal("expected AddFields to produce a distinct topic")
	}
	fields, ok := schema.Fields(v2.Schema())
	if !ok || len(fields) != 3 {
		t.Fatalf("expected 3 fields after AddFields, got %v", fields)
	}
}

func TestAddFieldsRejectsNonRecordSchema(t *testing.T) {
	et := eventtype.New("scalar", schema.String())
	if _, err := et.AddFields([]eventtype.AddedField{{Name: "x", Schema: schema.String()}}); err == nil {
		t.Fatal("expected addFields on a non-Record schema to fail")
	}
}

func TestFilterBumpsNonceToAvoidCollision(t *testing.T) {
	et := eventtype.New("order-placed", orderSchema())
	filtered, err := et.Filter(func(map[string]interface{}) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if et.TopicName() == filtered.TopicName() {
		t.Fatal("expected Filter's auto-bumped nonce to avoid the unfiltered topic name")
	}
}

// TestMigratorReplicatesAndProducerWaitsForCatchUp exercises spec §4.6's
// Producer path: producing through an evolved EventType first replays the
// prior version's history through every Migrator in the chain before a
// producer opens on the destination topic.
func TestMigratorReplicatesAndProducerWaitsForCatchUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	factory := inmemtopic.NewFactory()

	v1 := eventtype.New("order-placed", orderSchema())
	p1, err := v1.Producer(ctx, factory, runOpts)
	if err != nil {
		t.Fatal(err)
	}
	if err := p1.Produce(ctx, map[string]interface{}{"id": "order-1", "total": 10.0}, nil); err != nil {
		t.Fatal(err)
	}
	if err := p1.Close(ctx); err != nil {
		t.Fatal(err)
	}

	v2, err := v1.AddFields([]eventtype.AddedField{
		{Name: "currency", Schema: schema.String(), Compute: func(old map[string]interface{}) (interface{}, error) {
			return "USD", nil
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	p2, err := v2.Producer(ctx, factory, runOpts)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close(ctx)

	consumer, err := v2.Consumer(ctx, factory, topic.ConsumerGroup{Name: "reader", StartFrom: topic.Beginning}, runOpts, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close(ctx)

	env, err := consumer.Consume(ctx)
	if err != nil || env == nil {
		t.Fatalf("expected the replicated v1 event to appear on v2's topic, got %v, %v", env, err)
	}
	ev := env.Event()
	if ev.Message["currency"] != "USD" {
		t.Fatalf("expected the migrated event to carry the computed field, got %v", ev.Message)
	}
	if ev.Message["id"] != "order-1" {
		t.Fatalf("expected the migrated event to preserve prior fields, got %v", ev.Message)
	}
}

func TestMigratorRunIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	factory := inmemtopic.NewFactory()

	v1 := eventtype.New("order-placed", orderSchema())
	v2, err := v1.RemoveFields([]string{"total"})
	if err != nil {
		t.Fatal(err)
	}

	p1, err := v1.Producer(ctx, factory, runOpts)
	if err != nil {
		t.Fatal(err)
	}
	p1.Close(ctx)

	// Calling Producer twice for v2 starts the same migrator chain twice;
	// Migrator.Run must make the second call a no-op that observes the
	// first call's RunningMigration rather than double-replicating.
	pA, err := v2.Producer(ctx, factory, runOpts)
	if err != nil {
		t.Fatal(err)
	}
	defer pA.Close(ctx)

	pB, err := v2.Producer(ctx, factory, runOpts)
	if err != nil {
		t.Fatal(err)
	}
	defer pB.Close(ctx)
}

func TestProduceValidatesSchema(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	factory := inmemtopic.NewFactory()

	et := eventtype.New("order-placed", orderSchema())
	p, err := et.Producer(ctx, factory, runOpts)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close(ctx)

	if err := p.Produce(ctx, map[string]interface{}{"id": "order-1"}, nil); err == nil {
		t.Fatal("expected producing an event missing a required field to fail validation")
	}
}
