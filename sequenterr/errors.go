// Package sequenterr defines the error taxonomy shared by every layer of
// the event projection engine: schema validation, production, migration,
// and read-model ingestion all raise one of a small, fixed set of kinds.
package sequenterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the fixed error kinds of the framework. It is never
// meant to be matched by value equality; use errors.Is against the
// sentinel Err* values below.
type Kind string

const (
	KindSchemaViolation      Kind = "schema_violation"
	KindMissingAggregateKey  Kind = "missing_aggregate_key"
	KindAggregateKeyConflict Kind = "aggregate_key_conflict"
	KindIngestorFailure      Kind = "ingestor_failure"
	KindMigratorFailure      Kind = "migrator_failure"
	KindSubstrateError       Kind = "substrate_error"
	KindCancelled            Kind = "cancelled"
)

// Sentinel errors, one per Kind, so callers can use errors.Is without
// reaching into the Error struct.
var (
	ErrSchemaViolation      = errors.New(string(KindSchemaViolation))
	ErrMissingAggregateKey  = errors.New(string(KindMissingAggregateKey))
	ErrAggregateKeyConflict = errors.New(string(KindAggregateKeyConflict))
	ErrIngestorFailure      = errors.New(string(KindIngestorFailure))
	ErrMigratorFailure      = errors.New(string(KindMigratorFailure))
	ErrSubstrateError       = errors.New(string(KindSubstrateError))
	ErrCancelled            = errors.New(string(KindCancelled))
)

func sentinelFor(k Kind) error {
	switch k {
	case KindSchemaViolation:
		return ErrSchemaViolation
	case KindMissingAggregateKey:
		return ErrMissingAggregateKey
	case KindAggregateKeyConflict:
		return ErrAggregateKeyConflict
	case KindIngestorFailure:
		return ErrIngestorFailure
	case KindMigratorFailure:
		return ErrMigratorFailure
	case KindSubstrateError:
		return ErrSubstrateError
	case KindCancelled:
		return ErrCancelled
	default:
		return errors.New(string(k))
	}
}

// Error is the carrier type for all framework errors. It wraps a Kind's
// sentinel so errors.Is(err, sequenterr.ErrSchemaViolation) works, plus an
// optional Cause and a small field bag for structured logging.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Fields  map[string]interface{}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return sentinelFor(e.Kind)
}

func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// ValidationError is the tree-structured diagnostic raised by
// Schema.Validate (spec §9 "Error tree"): a description plus an ordered
// list of sub-violations, so field paths nest naturally under record and
// array validation.
type ValidationError struct {
	Path    string
	Message string
	Causes  []*ValidationError
}

func (v *ValidationError) Error() string {
	var b strings.Builder
	v.render(&b, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (v *ValidationError) render(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	b.WriteString("\n")
	for _, c := range v.Causes {
		c.render(b, depth+1)
	}
}

// AsSchemaViolation wraps a ValidationError as a SchemaViolation Error.
func AsSchemaViolation(ve *ValidationError) *Error {
	return New(KindSchemaViolation, ve.Error()).WithCause(ve)
}
