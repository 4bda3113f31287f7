package template

import (
	"reflect"
	"testing"
)

func TestExtractVariables(t *testing.T) {
	vars, err := ExtractVariables("prompt: ${rd.content}! and ${other}")
	if err != nil {
		t.Fatalf("ExtractVariables() error = %v", err)
	}
	want := []string{"rd.content", "other"}
	if !reflect.DeepEqual(vars, want) {
		t.Errorf("ExtractVariables() = %v, want %v", vars, want)
	}
}

func TestExtractVariables_Unclosed(t *testing.T) {
	if _, err := ExtractVariables("prompt: ${rd.content"); err == nil {
		t.Error("ExtractVariables() with unclosed '${' should error")
	}
}

func TestResolveValue_Nesting(t *testing.T) {
	lookup := MapLookup{
		"rd": map[string]any{"content": "hello"},
	}

	v, err := ResolveValue("rd.content", lookup)
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if v != "hello" {
		t.Errorf("ResolveValue() = %v, want hello", v)
	}
}

func TestResolveValue_MissingKey(t *testing.T) {
	lookup := MapLookup{"rd": map[string]any{"content": "hello"}}
	if _, err := ResolveValue("rd.missing", lookup); err == nil {
		t.Error("ResolveValue() with missing key should error")
	}
}

func TestResolveValue_Index(t *testing.T) {
	lookup := MapLookup{"items": []any{"a", "b", "c"}}
	v, err := ResolveValue("items[1]", lookup)
	if err != nil {
		t.Fatalf("ResolveValue() error = %v", err)
	}
	if v != "b" {
		t.Errorf("ResolveValue() = %v, want b", v)
	}
}

func TestResolveString_Embedded(t *testing.T) {
	lookup := MapLookup{"rd": map[string]any{"content": "hello"}}
	got, err := ResolveString("prompt: ${rd.content}!", lookup)
	if err != nil {
		t.Fatalf("ResolveString() error = %v", err)
	}
	if got != "prompt: hello!" {
		t.Errorf("ResolveString() = %q, want %q", got, "prompt: hello!")
	}
}

func TestResolveNested_WholeValuePreservesType(t *testing.T) {
	lookup := MapLookup{"rd": map[string]any{"content": "hello"}}
	got, err := ResolveNested("${rd}", lookup)
	if err != nil {
		t.Fatalf("ResolveNested() error = %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("ResolveNested() = %T, want map[string]any", got)
	}
	if m["content"] != "hello" {
		t.Errorf("ResolveNested() content = %v, want hello", m["content"])
	}
}

func TestResolveNested_Idempotent(t *testing.T) {
	lookup := MapLookup{}
	value := map[string]any{
		"a": []any{"x", 1, true},
		"b": "no templates here",
	}

	first, err := ResolveNested(value, lookup)
	if err != nil {
		t.Fatalf("ResolveNested() error = %v", err)
	}
	second, err := ResolveNested(first, lookup)
	if err != nil {
		t.Fatalf("ResolveNested() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ResolveNested() not idempotent: %v != %v", first, second)
	}
}

func TestResolveNested_StructurePreserved(t *testing.T) {
	lookup := MapLookup{"x": 42, "y": "hi"}
	value := map[string]any{
		"nested": []any{"${x}", map[string]any{"k": "${y}!"}},
	}

	got, err := ResolveNested(value, lookup)
	if err != nil {
		t.Fatalf("ResolveNested() error = %v", err)
	}
	m := got.(map[string]any)
	arr := m["nested"].([]any)
	if arr[0] != 42 {
		t.Errorf("arr[0] = %v, want 42 (int preserved)", arr[0])
	}
	inner := arr[1].(map[string]any)
	if inner["k"] != "hi!" {
		t.Errorf("inner[k] = %v, want hi!", inner["k"])
	}
}
