// Package llmadapter defines the pluggable {schema, prompt} -> structured
// object provider boundary the planner's LLM-backed nodes call through.
// It owns none of the provider SDKs themselves (those are out of core
// scope per the spec); it only fixes the request/response shape every
// planner node depends on and the usage-tracking convention the batch
// engine's __llm_calls__ aggregation expects.
//
// Grounded on petalflow's core/types.go: Client mirrors core.LLMClient's
// single Complete method; Request/Response are InputText/JSONSchema and
// Text/JSON narrowed to the planner's structured-output-only usage
// (petalflow's richer tool-call/streaming/messages fields aren't needed
// here, since every planner call is a single-shot structured request).
package llmadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client abstracts a single provider/model backend. Concrete providers
// (API clients, local model runners) live outside this package; the
// planner only depends on this interface.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is a single-shot structured-output LLM call.
type Request struct {
	Model       string
	System      string
	InputText   string
	JSONSchema  map[string]any
	Temperature *float64
	MaxTokens   *int
}

// Response is a structured LLM result.
type Response struct {
	JSON     map[string]any
	Text     string
	Provider string
	Model    string
	Usage    Usage
}

// Usage tracks token consumption for one call, the per-item record the
// batch engine appends to shared["__llm_calls__"] (spec §3.3, §4.3).
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// AsRecord renders u as the map shape __llm_calls__ entries use.
func (u Usage) AsRecord() map[string]any {
	return map[string]any{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.TotalTokens,
	}
}

// ErrMissingStructuredOutput is returned when a provider's response
// carries no parseable structured body — spec §4.6's "treats a missing
// content[0].input response shape as a hard error" invariant.
var ErrMissingStructuredOutput = errors.New("llmadapter: response has no structured output")

// Decode unmarshals resp.JSON into out (a pointer to a struct tagged for
// encoding/json), failing with ErrMissingStructuredOutput if the
// response carried no JSON body.
func Decode(resp Response, out any) error {
	if resp.JSON == nil {
		return ErrMissingStructuredOutput
	}
	raw, err := json.Marshal(resp.JSON)
	if err != nil {
		return fmt.Errorf("llmadapter: re-marshal structured response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("llmadapter: decode structured response: %w", err)
	}
	return nil
}
