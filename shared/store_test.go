package shared

import "testing"

func TestSetNamespace_WrapsNonMapping(t *testing.T) {
	s := New()
	s.SetNamespace("n1", "plain-string")

	ns, ok := s.Namespace("n1")
	if !ok {
		t.Fatal("expected namespace n1 to exist")
	}
	if ns["value"] != "plain-string" {
		t.Errorf("namespace[value] = %v, want plain-string", ns["value"])
	}
}

func TestSetNamespace_NilBecomesEmptyMap(t *testing.T) {
	s := New()
	s.SetNamespace("n1", nil)

	ns, ok := s.Namespace("n1")
	if !ok {
		t.Fatal("expected namespace n1 to exist")
	}
	if len(ns) != 0 {
		t.Errorf("namespace = %v, want empty map", ns)
	}
}

func TestSetNamespace_MappingPassesThrough(t *testing.T) {
	s := New()
	s.SetNamespace("n1", map[string]any{"a": 1})

	ns, _ := s.Namespace("n1")
	if ns["a"] != 1 {
		t.Errorf("namespace[a] = %v, want 1", ns["a"])
	}
}

func TestClone_IsolatesTopLevelWrites(t *testing.T) {
	s := New()
	s.Set("item", "a")

	clone := s.Clone()
	clone.Set("item", "b")

	if got, _ := s.Get("item"); got != "a" {
		t.Errorf("original store mutated by clone write: got %v", got)
	}
	if got, _ := clone.Get("item"); got != "b" {
		t.Errorf("clone not updated: got %v", got)
	}
}

func TestIsReserved(t *testing.T) {
	cases := map[string]bool{
		"node_a":           false,
		"_claude_metadata": true,
		"__llm_calls__":    true,
		"input_file":       false,
	}
	for key, want := range cases {
		if got := IsReserved(key); got != want {
			t.Errorf("IsReserved(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestAppendLLMCall(t *testing.T) {
	s := New()
	s.AppendLLMCall(map[string]any{"tokens": 10})
	s.AppendLLMCall(map[string]any{"tokens": 20})

	list := s.EnsureLLMCalls()
	if len(list) != 2 {
		t.Fatalf("len(__llm_calls__) = %d, want 2", len(list))
	}
}
