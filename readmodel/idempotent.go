package readmodel

import (
	"context"
	"fmt"

	"github.com/emilniklas/sequent/eventtype"
	"github.com/emilniklas/sequent/idempotency"
)

// Idempotent wraps handler so a redelivered event that was already applied
// successfully (spec P7's at-least-once guarantee) is skipped rather than
// re-applied: it is opt-in, for handlers whose side effect isn't naturally
// idempotent (an external API call, sending an email). name disambiguates
// the cache key across ingestors sharing one Cache.
//
// A key is recorded only after handler succeeds, never before: per P7, a
// handler that fails on first attempt and succeeds on redelivery must
// still be invoked on that redelivery, so marking the key seen up front
// (before knowing the outcome) would wrongly skip the retry.
//
// The dedup key is derived from the event's original timestamp and
// partition key (spec §4.6 "preserving the original event timestamp and
// partition key"), which together identify the produced occurrence across
// redelivery the same way the substrate itself does.
func Idempotent(name string, cache *idempotency.Cache, handler Handler) Handler {
	return func(ctx context.Context, event eventtype.Event, client interface{}, key []byte) error {
		dedupKey := fmt.Sprintf("%s:%d:%x", name, event.Timestamp.UnixMilli(), key)
		if cache.Contains(dedupKey) {
			return nil
		}
		if err := handler(ctx, event, client, key); err != nil {
			return err
		}
		cache.Seen(dedupKey)
		return nil
	}
}
