package planner

import (
	"context"

	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
)

// ParamHint is a candidate value for a generated workflow's eventual
// input, extracted speculatively from user text/stdin. Hints never bind
// to the generated workflow's actual parameter names (spec §4.6:
// ParameterMapping "does not consume discovered_params").
type ParamHint struct {
	Value      any    `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string `json:"source"`
}

type paramDiscoveryNode struct {
	client llmadapter.Client
}

func (d *paramDiscoveryNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params, nil
}

func (d *paramDiscoveryNode) Exec(ctx context.Context, prep any) (any, error) {
	params := prep.(map[string]any)
	userInput, _ := params["user_input"].(string)
	stdin, _ := params["stdin"].(string)

	resp, err := d.client.Complete(ctx, llmadapter.Request{
		InputText:  "Extract candidate parameter hints from this request and any piped input.\n\nRequest: " + userInput + "\n\nStdin: " + stdin,
		JSONSchema: paramHintSchema,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Hints map[string]ParamHint `json:"hints"`
	}
	if err := llmadapter.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Hints, nil
}

func (d *paramDiscoveryNode) ExecFallback(_ context.Context, _ any, _ error) (any, error) {
	return map[string]ParamHint{}, nil
}

func (d *paramDiscoveryNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	hints := exec.(map[string]ParamHint)
	out := make(map[string]any, len(hints))
	for k, v := range hints {
		out[k] = map[string]any{"value": v.Value, "confidence": v.Confidence, "source": v.Source}
	}
	return out, "default", nil
}

var paramHintSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"hints": map[string]any{"type": "object"},
	},
}

// discoverParams runs ParameterDiscovery for Path B.
func (p *Planner) discoverParams(ctx context.Context, userInput, stdin string) (map[string]ParamHint, error) {
	n := &paramDiscoveryNode{client: p.Client}
	inst := node.NewInstance("param_discovery", n, map[string]any{"user_input": userInput, "stdin": stdin})

	store := shared.New()
	if _, err := inst.Run(ctx, store); err != nil {
		return nil, err
	}
	ns, _ := store.Namespace("param_discovery")
	hints := make(map[string]ParamHint, len(ns))
	for k, v := range ns {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		hints[k] = ParamHint{
			Value:      m["value"],
			Confidence: floatOr(m["confidence"], 0),
			Source:     stringOr(m["source"], ""),
		}
	}
	return hints, nil
}
