// Package catchup implements C5: a CatchUpConsumer that wraps a raw
// topic.Consumer to detect the transition from "replaying history" to
// "tailing live", latching exactly once, and emits periodic throughput
// telemetry. Grounded on internal/health/tracker.go's checker/status
// polling pattern and internal/observability/metrics.go's counter idiom
// for the progress telemetry (wired to Prometheus one layer up, in
// package metrics, to keep this package substrate- and
// observability-backend-agnostic).
package catchup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emilniklas/sequent/topic"
)

// Options configures catch-up detection and telemetry cadence (spec §4.4,
// §5 "Timeouts").
type Options struct {
	// ProgressLogIntervalMs governs telemetry only. Default 3000.
	ProgressLogIntervalMs int64
	// CatchUpIdleMs controls both the idle latch and (scaled by 0.7 one
	// layer up, in package readmodel) the merge peek timeout. Default 1000.
	CatchUpIdleMs int64
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() Options {
	return Options{ProgressLogIntervalMs: 3000, CatchUpIdleMs: 1000}
}

func (o Options) withDefaults() Options {
	if o.ProgressLogIntervalMs <= 0 {
		o.ProgressLogIntervalMs = 3000
	}
	if o.CatchUpIdleMs <= 0 {
		o.CatchUpIdleMs = 1000
	}
	return o
}

// Consumer wraps an inner topic.Consumer with catch-up detection. At-least
// once delivery semantics of the inner consumer are preserved verbatim
// (spec §4.4): Consumer never itself acks, nacks, or drops an envelope.
type Consumer struct {
	inner topic.Consumer
	opts  Options

	onProgress func(delivered int64)

	startOnce sync.Once
	progressN int64

	latchOnce sync.Once
	caughtUpC chan struct{}
}

// New wraps inner with catch-up detection. onProgress, if non-nil, is
// invoked roughly every ProgressLogIntervalMs with the cumulative number
// of envelopes delivered so far.
func New(inner topic.Consumer, opts Options, onProgress func(delivered int64)) *Consumer {
	return &Consumer{
		inner:      inner,
		opts:       opts.withDefaults(),
		onProgress: onProgress,
		caughtUpC:  make(chan struct{}),
	}
}

// CaughtUp returns a channel that is closed exactly once, the instant this
// consumer latches caught-up (spec P9). Safe to call from multiple
// goroutines; all observe the same close.
func (c *Consumer) CaughtUp() <-chan struct{} { return c.caughtUpC }

func (c *Consumer) latch() {
	c.latchOnce.Do(func() { close(c.caughtUpC) })
}

func (c *Consumer) ensureStarted() {
	c.startOnce.Do(func() {
		if c.onProgress == nil {
			return
		}
		go func() {
			ticker := time.NewTicker(time.Duration(c.opts.ProgressLogIntervalMs) * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				c.onProgress(atomic.LoadInt64(&c.progressN))
				select {
				case <-c.caughtUpC:
					return
				default:
				}
			}
		}()
	})
}

type consumeResult struct {
	env topic.Envelope
	err error
}

// Consume delivers the next envelope, or (nil, nil) on clean
// cancellation/shutdown. Three predicates latch catch-up exactly once
// (spec §4.4): recency of a delivered event, idling longer than
// CatchUpIdleMs without a delivery, or cancellation firing first.
func (c *Consumer) Consume(ctx context.Context) (topic.Envelope, error) {
	c.ensureStarted()

	resultC := make(chan consumeResult, 1)
	go func() {
		env, err := c.inner.Consume(ctx)
		resultC <- consumeResult{env: env, err: err}
	}()

	idle := time.NewTimer(time.Duration(c.opts.CatchUpIdleMs) * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			c.latch() // cancellation predicate
			return nil, nil

		case <-idle.C:
			c.latch() // idle predicate; the inner consume keeps running
			idle.Reset(time.Duration(c.opts.CatchUpIdleMs) * time.Millisecond)

		case res := <-resultC:
			if res.err != nil {
				return nil, res.err
			}
			if res.env == nil {
				return nil, nil
			}
			if time.Now().UnixMilli()-res.env.Event().TimestampMs <= c.opts.CatchUpIdleMs {
				c.latch() // recency predicate
			}
			atomic.AddInt64(&c.progressN, 1)
			return res.env, nil
		}
	}
}

// Close releases the inner consumer.
func (c *Consumer) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}
