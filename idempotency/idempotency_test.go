package idempotency_test

import (
	"testing"
	"time"

	"github.com/emilniklas/sequent/idempotency"
)

func TestSeenChecksAndSetsAtomically(t *testing.T) {
	c := idempotency.New(10, time.Minute)

	if c.Seen("a") {
		t.Fatal("expected \"a\" to be unseen on first check")
	}
	if !c.Seen("a") {
		t.Fatal("expected \"a\" to be seen on second check")
	}
}

func TestContainsDoesNotRecord(t *testing.T) {
	c := idempotency.New(10, time.Minute)

	if c.Contains("a") {
		t.Fatal("expected \"a\" to be absent before any Seen/record")
	}
	if c.Contains("a") {
		t.Fatal("Contains must not record the key as a side effect")
	}
	if c.Seen("a") {
		t.Fatal("expected \"a\" to still be unseen, Contains must be read-only")
	}
}

func TestForgetAllowsReprocessing(t *testing.T) {
	c := idempotency.New(10, time.Minute)

	c.Seen("a")
	if !c.Contains("a") {
		t.Fatal("expected \"a\" to be recorded")
	}
	c.Forget("a")
	if c.Contains("a") {
		t.Fatal("expected Forget to remove the key")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := idempotency.New(2, time.Minute)

	c.Seen("a")
	c.Seen("b")
	c.Seen("c") // evicts "a", the least recently used

	if c.Contains("a") {
		t.Fatal("expected \"a\" to have been evicted")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("expected \"b\" and \"c\" to still be recorded")
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity to cap Len at 2, got %d", c.Len())
	}
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	c := idempotency.New(10, 10*time.Millisecond)

	c.Seen("a")
	time.Sleep(30 * time.Millisecond)

	if c.Contains("a") {
		t.Fatal("expected \"a\" to have expired")
	}
	if c.Seen("a") {
		t.Fatal("expected an expired key to be treated as unseen")
	}
}
