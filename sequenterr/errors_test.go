package sequenterr_test

import (
	"errors"
	"testing"

	"github.com/emilniklas/sequent/sequenterr"
)

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	err := sequenterr.New(sequenterr.KindSubstrateError, "open topic")
	if !errors.Is(err, sequenterr.ErrSubstrateError) {
		t.Fatal("expected errors.Is to match the sentinel for the error's kind")
	}
	if errors.Is(err, sequenterr.ErrCancelled) {
		t.Fatal("expected errors.Is to reject a different kind's sentinel")
	}
}

func TestUnwrapReturnsCauseWhenSet(t *testing.T) {
	cause := errors.New("connection refused")
	err := sequenterr.New(sequenterr.KindSubstrateError, "open topic").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestValidationErrorRendersNestedPaths(t *testing.T) {
	ve := &sequenterr.ValidationError{
		Message: "invalid record",
		Causes: []*sequenterr.ValidationError{
			{Path: "total", Message: "expected number, got string"},
		},
	}
	got := ve.Error()
	want := "invalid record\n  total: expected number, got string"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !errors.Is(sequenterr.AsSchemaViolation(ve), sequenterr.ErrSchemaViolation) {
		t.Fatal("expected AsSchemaViolation to produce a SchemaViolation-kind error")
	}
}
