// Command example wires the module's core packages into one running
// process end to end: configuration, structured logging, metrics,
// tracing, an in-memory topic substrate, an Aggregate, a migrated
// EventType, and a read model whose client is held in process memory (the
// Postgres, Redis, S3 and audit-log adapters are not used here) —
// demonstrating the six
// scenarios spec §8 walks through (define a schema, produce through an
// aggregate, evolve the schema with AddFields, run a read model to catch
// up, watch a migrator replicate history, and serve introspection).
//
// Grounded on cmd/server/main.go's wiring order (config -> logger ->
// metrics -> tracing -> adapters -> domain) from the teacher; the
// teacher's own main.go (gRPC/REST ingestion API, stream/pipeline
// managers) has no equivalent here since this framework is a library, not
// a multi-tenant ingestion service — see DESIGN.md for what was dropped
// and why.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/emilniklas/sequent/aggregate"
	"github.com/emilniklas/sequent/casing"
	"github.com/emilniklas/sequent/catchup"
	"github.com/emilniklas/sequent/config"
	"github.com/emilniklas/sequent/eventtype"
	"github.com/emilniklas/sequent/health"
	"github.com/emilniklas/sequent/internal/inmemtopic"
	"github.com/emilniklas/sequent/introspect"
	"github.com/emilniklas/sequent/logger"
	"github.com/emilniklas/sequent/metrics"
	"github.com/emilniklas/sequent/readmodel"
	"github.com/emilniklas/sequent/schema"
	"github.com/emilniklas/sequent/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.FromEnv().ForComponent("example")
	met := metrics.New(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: "sequent-example",
		Exporter:    "stdout",
	})
	if err != nil {
		lg.Fatal("init tracing", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if tp != nil {
		defer tp.Shutdown(ctx)
	}

	factory := inmemtopic.NewFactory()

	// --- spec §8 scenario 1: define an order schema and an aggregate. ---
	orderV1 := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "total", Schema: schema.Number()},
	)
	orderEventType := eventtype.New("order-placed", orderV1)
	orders := aggregate.New("orders", factory)

	runOpts := eventtype.RunOptions{
		CatchUp: catchup.Options{
			ProgressLogIntervalMs: cfg.CatchUp.ProgressLogIntervalMs,
			CatchUpIdleMs:         cfg.CatchUp.CatchUpIdleMs,
		},
		OnProgress: func(name string, delivered int64) {
			lg.Debug("catch-up progress", map[string]interface{}{"consumer": name, "delivered": delivered})
		},
	}

	producer, err := orders.UseEventType(ctx, orderEventType, runOpts)
	if err != nil {
		lg.Fatal("bind order event type to aggregate", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer producer.Close(ctx)

	if err := producer.Produce(ctx, map[string]interface{}{
		"id":    "order-1",
		"total": 42.5,
	}, nil); err != nil {
		lg.Error("produce order", map[string]interface{}{"error": err.Error()})
	}
	met.EventsProduced.WithLabelValues(orderEventType.TopicName()).Inc()

	// --- spec §8 scenario 2: evolve the schema with AddFields. ---
	orderV2, err := orderEventType.AddFields([]eventtype.AddedField{
		{
			Name:   "currency",
			Schema: schema.String(),
			Compute: func(old map[string]interface{}) (interface{}, error) {
				return "USD", nil
			},
		},
	})
	if err != nil {
		lg.Fatal("evolve order schema", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	producerV2, err := orders.UseEventType(ctx, orderV2, runOpts)
	if err != nil {
		lg.Fatal("bind evolved order event type", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer producerV2.Close(ctx)

	// --- spec §8 scenario 3: run a read model and watch it catch up. ---
	type orderTotals struct {
		mu    sync.Mutex
		count int
	}
	totals := &orderTotals{}

	rm := readmodel.New("order-totals").On(orderV2, func(ctx context.Context, event eventtype.Event, client interface{}, key []byte) error {
		totals.mu.Lock()
		totals.count++
		totals.mu.Unlock()
		met.IngestionEvents.WithLabelValues("order-totals", "order-placed").Inc()
		return nil
	})

	cf := readmodel.ClientFactory{
		NamingConvention: casing.SnakeCase,
		SuffixSeparator:  "__",
		Make: func(ctx context.Context, namespace string) (interface{}, error) {
			return namespace, nil
		},
	}

	handle, err := orders.UseClientFactory(cf).UseReadModel(ctx, rm, readmodel.StartOptions{
		RunOptions: runOpts,
		Logger: func(msg string, fields map[string]interface{}) {
			lg.Info(msg, fields)
		},
	})
	if err != nil {
		lg.Fatal("start read model", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer handle.Close(ctx)

	// --- health, introspection, and graceful shutdown. ---
	tracker := health.NewTracker("example-node")
	tracker.RegisterCatchUpLag("order-totals", 5*time.Second, func() time.Duration { return 0 })

	registry := introspect.NewRegistry()
	registry.SetReadModel("order-totals", introspect.ReadModelStatus{
		Name:      "order-totals",
		Namespace: rm.Namespace(casing.SnakeCase, "__"),
		CaughtUp:  false,
	})

	srv := introspect.NewServer(tracker, registry, nil, nil)
	httpSrv := &http.Server{Addr: cfg.Observability.MetricsAddress, Handler: srv.Handler()}
	go func() {
		lg.Info("introspection listening", map[string]interface{}{"address": httpSrv.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Warning("introspection server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	defer httpSrv.Shutdown(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		lg.Info("shutting down", nil)
	case <-time.After(2 * time.Second):
		lg.Info("example run complete", map[string]interface{}{"orders_ingested": fmt.Sprint(totals.count)})
	}
	cancel()
}
