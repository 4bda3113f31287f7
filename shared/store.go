// Package shared implements the process-local state mapping threaded
// through one workflow run (spec §3.3). It owns the shared[node_id]
// namespacing convention, the shallow-copy-for-isolation primitive batch
// workers rely on, and the reserved-key conventions ("_...", "__..__").
//
// Grounded on petalflow's envelope.go: Store.Clone mirrors
// Envelope.Clone's shallow-copy-of-the-map discipline, reshaped from a
// single flat Vars bag to the spec's per-node namespace convention.
package shared

import (
	"strings"
	"sync"
)

// Store is the shared store: a process-local map threaded through a
// workflow run. It is exclusively owned by the executor during a run;
// concurrent batch items operate on independent shallow copies (§3.3,
// §5). The one exception is the outer store's "__llm_calls__"
// aggregator, which parallel batch workers all append to directly —
// llmMu guards that append (and the Clone read racing against it)
// since Go has no atomic list-append.
type Store struct {
	data  map[string]any
	llmMu sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]any)}
}

// FromInputs seeds a store from externally supplied workflow inputs
// (the executor's initialization step, §4.2).
func FromInputs(inputs map[string]any) *Store {
	s := New()
	for k, v := range inputs {
		s.data[k] = v
	}
	return s
}

// Get returns the top-level value for key.
func (s *Store) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Root implements template.Lookup.
func (s *Store) Root(name string) (any, bool) {
	return s.Get(name)
}

// Set assigns a top-level value.
func (s *Store) Set(key string, value any) {
	s.data[key] = value
}

// Delete removes a top-level key.
func (s *Store) Delete(key string) {
	delete(s.data, key)
}

// Namespace returns the sub-mapping owned by a node, or nil if the node
// hasn't written anything yet.
func (s *Store) Namespace(nodeID string) (map[string]any, bool) {
	v, ok := s.data[nodeID]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// SetNamespace writes a node's outputs under shared[node_id]. A
// non-mapping output is wrapped as {"value": v}; nil becomes {}.
func (s *Store) SetNamespace(nodeID string, outputs any) {
	s.data[nodeID] = Namespaced(outputs)
}

// Namespaced applies the wrap-as-{"value":v}/nil-becomes-{} convention
// without writing to a store, so callers (e.g. the batch engine, which
// writes per-item namespaces into isolated contexts before capturing the
// result rather than into the outer store) can reuse the same rule.
func Namespaced(outputs any) map[string]any {
	if outputs == nil {
		return map[string]any{}
	}
	if m, ok := outputs.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": outputs}
}

// Clone returns a shallow copy suitable for parallel batch item
// isolation: the top-level map is copied so writes to context[node_id]
// or context[alias] don't leak to siblings, but nested mutable values
// (sub-maps, slices) remain shared by reference, same as
// petalflow.Envelope.Clone's contract for Vars.
func (s *Store) Clone() *Store {
	s.llmMu.Lock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	s.llmMu.Unlock()
	return &Store{data: out}
}

// Raw exposes the underlying map for callers that need direct access
// (e.g. marshaling the final store, or output extraction). Mutating the
// returned map mutates the store.
func (s *Store) Raw() map[string]any {
	return s.data
}

// Keys returns all top-level keys, in no particular order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// IsReserved reports whether key follows a reserved naming convention:
// a leading "_" (traces, progress events, per-node metadata) or the
// "__...__" internal-aggregator shape (e.g. "__llm_calls__").
func IsReserved(key string) bool {
	return strings.HasPrefix(key, "_")
}

// IsInternalAggregator reports the stricter "__...__" reserved shape.
func IsInternalAggregator(key string) bool {
	return strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__")
}

// LLMCallsKey is the reserved key for the append-only usage-aggregation
// list the batch engine and LLM-backed nodes write to (§3.3, §4.3).
const LLMCallsKey = "__llm_calls__"

// EnsureLLMCalls makes sure shared["__llm_calls__"] exists as a list,
// returning it. Safe to call repeatedly.
func (s *Store) EnsureLLMCalls() []any {
	v, ok := s.data[LLMCallsKey]
	if !ok {
		list := make([]any, 0)
		s.data[LLMCallsKey] = list
		return list
	}
	list, ok := v.([]any)
	if !ok {
		list = make([]any, 0)
		s.data[LLMCallsKey] = list
	}
	return list
}

// AppendLLMCall appends one usage record to the shared aggregator list.
// Safe for concurrent use by parallel batch workers.
func (s *Store) AppendLLMCall(record any) {
	s.llmMu.Lock()
	defer s.llmMu.Unlock()
	list := s.EnsureLLMCalls()
	s.data[LLMCallsKey] = append(list, record)
}
