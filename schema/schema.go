// Package schema implements the recursive schema sum type of the event
// projection engine (String, Number, Boolean, Bytes, Optional, Array,
// Record, Union), its structural validator, and the canonical textual form
// used everywhere in this module as the input to content-addressed
// hashing (topic names, read-model namespaces).
package schema

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/emilniklas/sequent/sequenterr"
)

// Schema is a node in the recursive type descriptor tree. Every variant
// below satisfies it; callers normally hold a Schema value and never a
// concrete variant type.
type Schema interface {
	// String renders the canonical textual form used for content
	// addressing: two structurally equal schemas always render identically,
	// and two structurally different schemas never collide.
	String() string

	// Validate checks v against this schema, returning nil on success or a
	// tree-structured *sequenterr.ValidationError describing every
	// violation found.
	Validate(v interface{}) *sequenterr.ValidationError

	canonical(indent int) string
}

func indentOf(depth int) string { return strings.Repeat("  ", depth) }

// --- String ---

type stringSchema struct{}

// String constructs the String variant.
func String() Schema { return stringSchema{} }

func (stringSchema) String() string             { return "string" }
func (stringSchema) canonical(int) string       { return "string" }
func (stringSchema) Validate(v interface{}) *sequenterr.ValidationError {
	if _, ok := v.(string); !ok {
		return &sequenterr.ValidationError{Message: fmt.Sprintf("expected string, got %T", v)}
	}
	return nil
}

// --- Number ---

type numberSchema struct{}

// Number constructs the Number variant. Go callers pass float64 values.
func Number() Schema { return numberSchema{} }

func (numberSchema) String() string       { return "number" }
func (numberSchema) canonical(int) string { return "number" }
func (numberSchema) Validate(v interface{}) *sequenterr.ValidationError {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return nil
	default:
		return &sequenterr.ValidationError{Message: fmt.Sprintf("expected number, got %T", v)}
	}
}

// --- Boolean ---

type booleanSchema struct{}

// Boolean constructs the Boolean variant.
func Boolean() Schema { return booleanSchema{} }

func (booleanSchema) String() string       { return "boolean" }
func (booleanSchema) canonical(int) string { return "boolean" }
func (booleanSchema) Validate(v interface{}) *sequenterr.ValidationError {
	if _, ok := v.(bool); !ok {
		return &sequenterr.ValidationError{Message: fmt.Sprintf("expected boolean, got %T", v)}
	}
	return nil
}

// --- Bytes ---

type bytesSchema struct{}

// Bytes constructs the Bytes variant.
func Bytes() Schema { return bytesSchema{} }

func (bytesSchema) String() string       { return "bytes" }
func (bytesSchema) canonical(int) string { return "bytes" }
func (bytesSchema) Validate(v interface{}) *sequenterr.ValidationError {
	if _, ok := v.([]byte); !ok {
		return &sequenterr.ValidationError{Message: fmt.Sprintf("expected bytes, got %T", v)}
	}
	return nil
}

// --- Optional ---

type optionalSchema struct{ inner Schema }

// Optional wraps s: the value may be absent (nil) or satisfy s.
func Optional(s Schema) Schema { return optionalSchema{inner: s} }

func (o optionalSchema) String() string       { return o.canonical(0) }
func (o optionalSchema) canonical(i int) string {
	if _, isUnion := o.inner.(unionSchema); isUnion {
		return "(" + o.inner.canonical(i) + ")?"
	}
	return o.inner.canonical(i) + "?"
}
func (o optionalSchema) Validate(v interface{}) *sequenterr.ValidationError {
	if v == nil {
		return nil
	}
	return o.inner.Validate(v)
}

// Inner returns the wrapped schema, used by aggregate key derivation to
// unwrap an Optional id field.
func Inner(s Schema) (Schema, bool) {
	if o, ok := s.(optionalSchema); ok {
		return o.inner, true
	}
	return nil, false
}

// --- Array ---

type arraySchema struct{ elem Schema }

// Array constructs the Array(elem) variant.
func Array(elem Schema) Schema { return arraySchema{elem: elem} }

func (a arraySchema) String() string       { return a.canonical(0) }
func (a arraySchema) canonical(i int) string {
	if _, isUnion := a.elem.(unionSchema); isUnion {
		return "(" + a.elem.canonical(i) + ")[]"
	}
	return a.elem.canonical(i) + "[]"
}
func (a arraySchema) Validate(v interface{}) *sequenterr.ValidationError {
	arr, ok := v.([]interface{})
	if !ok {
		return &sequenterr.ValidationError{Message: fmt.Sprintf("expected array, got %T", v)}
	}
	var causes []*sequenterr.ValidationError
	for idx, elem := range arr {
		if err := a.elem.Validate(elem); err != nil {
			err.Path = prefixPath(fmt.Sprintf("[%d]", idx), err.Path)
			causes = append(causes, err)
		}
	}
	return combine("invalid array", causes)
}

// --- Record ---

// Field is one named, ordered member of a Record schema.
type Field struct {
	Name   string
	Schema Schema
}

type recordSchema struct{ fields []Field }

// Record constructs the Record variant from its fields in declaration
// (and therefore canonical-string) order. Field names must be non-empty.
func Record(fields ...Field) Schema {
	for _, f := range fields {
		if f.Name == "" {
			panic("schema: record field name must not be empty")
		}
	}
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return recordSchema{fields: cp}
}

// Fields returns the declared fields of a Record schema in order, or
// (nil, false) if s is not a Record.
func Fields(s Schema) ([]Field, bool) {
	r, ok := s.(recordSchema)
	if !ok {
		return nil, false
	}
	return r.fields, true
}

func (r recordSchema) String() string       { return r.canonical(0) }
func (r recordSchema) canonical(depth int) string {
	if len(r.fields) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteString("{\n")
	for _, f := range r.fields {
		b.WriteString(indentOf(depth + 1))
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Schema.canonical(depth + 1))
		b.WriteString("\n")
	}
	b.WriteString(indentOf(depth))
	b.WriteString("}")
	return b.String()
}

func (r recordSchema) Validate(v interface{}) *sequenterr.ValidationError {
	m, ok := v.(map[string]interface{})
	if !ok {
		return &sequenterr.ValidationError{Message: fmt.Sprintf("expected record, got %T", v)}
	}

	declared := make(map[string]Schema, len(r.fields))
	for _, f := range r.fields {
		declared[f.Name] = f.Schema
	}

	var causes []*sequenterr.ValidationError

	for key, val := range m {
		fs, ok := declared[key]
		if !ok {
			causes = append(causes, &sequenterr.ValidationError{
				Path:    key,
				Message: fmt.Sprintf("unexpected field %q", key),
			})
			continue
		}
		if err := fs.Validate(val); err != nil {
			err.Path = prefixPath(key, err.Path)
			causes = append(causes, err)
		}
	}

	for _, f := range r.fields {
		if _, isOptional := f.Schema.(optionalSchema); isOptional {
			continue
		}
		if _, present := m[f.Name]; !present {
			causes = append(causes, &sequenterr.ValidationError{
				Path:    f.Name,
				Message: fmt.Sprintf("missing required %q", f.Name),
			})
		}
	}

	return combine("invalid record", causes)
}

// --- Union ---

type unionSchema struct{ variants []Schema }

// Union builds a flat union of the given schemas: nested unions among the
// arguments are flattened so the canonical string form is stable (spec
// §4.1 "or(other) ... nested unions are flattened").
func Union(schemas ...Schema) Schema {
	var flat []Schema
	for _, s := range schemas {
		if u, ok := s.(unionSchema); ok {
			flat = append(flat, u.variants...)
		} else {
			flat = append(flat, s)
		}
	}
	return unionSchema{variants: flat}
}

// Or is sugar for Union(a, b), flattening as Union does.
func Or(a, b Schema) Schema { return Union(a, b) }

func (u unionSchema) String() string       { return u.canonical(0) }
func (u unionSchema) canonical(depth int) string {
	parts := make([]string, len(u.variants))
	for i, v := range u.variants {
		parts[i] = v.canonical(depth)
	}
	return strings.Join(parts, " | ")
}

func (u unionSchema) Validate(v interface{}) *sequenterr.ValidationError {
	var attempts []*sequenterr.ValidationError
	for _, variant := range u.variants {
		if err := variant.Validate(v); err == nil {
			return nil
		} else {
			attempts = append(attempts, err)
		}
	}
	return combine(fmt.Sprintf("value did not match any of %d union variant(s)", len(u.variants)), attempts)
}

// --- shared helpers ---

func prefixPath(prefix, rest string) string {
	if rest == "" {
		return prefix
	}
	return prefix + "." + rest
}

// combine implements the §4.1 aggregation rule: zero causes -> nil; one
// cause -> propagated directly; two or more -> wrapped under a single
// tree node, preserving encounter order.
func combine(summary string, causes []*sequenterr.ValidationError) *sequenterr.ValidationError {
	switch len(causes) {
	case 0:
		return nil
	case 1:
		return causes[0]
	default:
		return &sequenterr.ValidationError{Message: summary, Causes: causes}
	}
}

// ContentHash returns the lowercase hex SHA-1 digest of s, the stable hash
// function used throughout this module for content-addressed topic names
// and read-model namespaces (spec §9: "any collision-resistant function
// producing stable hex output is acceptable").
func ContentHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
