package schema_test

import (
	"strings"
	"testing"

	"github.com/emilniklas/sequent/schema"
)

func TestCanonicalStringStability(t *testing.T) {
	a := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "title", Schema: schema.String()},
	)
	b := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "title", Schema: schema.String()},
	)
	if a.String() != b.String() {
		t.Fatalf("structurally equal schemas rendered differently:\n%s\nvs\n%s", a.String(), b.String())
	}
}

func TestCanonicalStringDistinctness(t *testing.T) {
	a := schema.Record(schema.Field{Name: "id", Schema: schema.String()})
	b := schema.Record(schema.Field{Name: "id", Schema: schema.Number()})
	if a.String() == b.String() {
		t.Fatalf("structurally different schemas rendered identically: %s", a.String())
	}
}

func TestRecordStringFormat(t *testing.T) {
	s := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "titleLen", Schema: schema.Number()},
	)
	want := "{\n  id: string\n  titleLen: number\n}"
	if got := s.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNestedRecordIndentation(t *testing.T) {
	s := schema.Record(
		schema.Field{Name: "nested", Schema: schema.Record(
			schema.Field{Name: "x", Schema: schema.Number()},
		)},
	)
	if !strings.Contains(s.String(), "\n    x: number\n") {
		t.Fatalf("expected nested field indented 4 spaces, got: %s", s.String())
	}
}

func TestOptionalArrayUnionSuffixes(t *testing.T) {
	if got := schema.Optional(schema.String()).String(); got != "string?" {
		t.Fatalf("got %q", got)
	}
	if got := schema.Array(schema.String()).String(); got != "string[]" {
		t.Fatalf("got %q", got)
	}
	if got := schema.Union(schema.String(), schema.Number()).String(); got != "string | number" {
		t.Fatalf("got %q", got)
	}
}

func TestUnionFlattensNested(t *testing.T) {
	inner := schema.Union(schema.String(), schema.Number())
	outer := schema.Union(inner, schema.Boolean())
	want := "string | number | boolean"
	if got := outer.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRecordValidateMissingRequired(t *testing.T) {
	s := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "title", Schema: schema.String()},
	)
	err := s.Validate(map[string]interface{}{"id": "a"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `missing required "title"`) {
		t.Fatalf("unexpected error: %s", err.Error())
	}
}

func TestRecordValidateUnknownField(t *testing.T) {
	s := schema.Record(schema.Field{Name: "id", Schema: schema.String()})
	err := s.Validate(map[string]interface{}{"id": "a", "extra": 1})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), `unexpected field "extra"`) {
		t.Fatalf("unexpected error: %s", err.Error())
	}
}

func TestRecordValidateOptionalFieldMayBeAbsent(t *testing.T) {
	s := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "nickname", Schema: schema.Optional(schema.String())},
	)
	if err := s.Validate(map[string]interface{}{"id": "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecordValidateMultipleErrorsCollected(t *testing.T) {
	s := schema.Record(
		schema.Field{Name: "id", Schema: schema.String()},
		schema.Field{Name: "title", Schema: schema.String()},
	)
	err := s.Validate(map[string]interface{}{"extra": 1})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Causes) != 3 {
		t.Fatalf("expected 3 causes (2 missing + 1 unexpected), got %d: %v", len(err.Causes), err)
	}
}

func TestArrayValidateIndexedPath(t *testing.T) {
	s := schema.Array(schema.Number())
	err := s.Validate([]interface{}{1.0, "nope", 3.0})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if err.Path != "[1]" {
		t.Fatalf("expected path [1], got %q (%v)", err.Path, err)
	}
}

func TestContentHashStability(t *testing.T) {
	s := schema.Record(schema.Field{Name: "id", Schema: schema.String()})
	h1 := schema.ContentHash(s.String())
	h2 := schema.ContentHash(s.String())
	if h1 != h2 {
		t.Fatalf("hash not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 40 {
		t.Fatalf("expected 40-char hex sha1, got %d chars: %s", len(h1), h1)
	}
}
