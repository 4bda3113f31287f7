package planner

import (
	"context"
	"fmt"

	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
)

// discoveryResult is the structured response WorkflowDiscovery's LLM
// call must produce.
type discoveryResult struct {
	Found        bool    `json:"found"`
	WorkflowName string  `json:"workflow_name"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// discoveryNode issues WorkflowDiscovery's single LLM call. It follows
// the node.Node lifecycle contract like every core node type, even
// though the planner drives it directly rather than through a compiled
// graph (spec §4.6: a fixed topology, not an authorable one).
type discoveryNode struct {
	client  llmadapter.Client
	summary []WorkflowSummary
}

func (d *discoveryNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	userInput, _ := params["user_input"].(string)
	if userInput == "" {
		return nil, fmt.Errorf("discovery: user_input is required")
	}
	return userInput, nil
}

func (d *discoveryNode) Exec(ctx context.Context, prep any) (any, error) {
	userInput := prep.(string)
	resp, err := d.client.Complete(ctx, llmadapter.Request{
		InputText:  discoveryPrompt(userInput, d.summary),
		JSONSchema: discoverySchema,
	})
	if err != nil {
		return nil, err
	}
	var out discoveryResult
	if err := llmadapter.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *discoveryNode) ExecFallback(_ context.Context, _ any, _ error) (any, error) {
	return discoveryResult{Found: false, Reasoning: "llm call failed; defaulting to not_found"}, nil
}

func (d *discoveryNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	res := exec.(discoveryResult)
	outputs := map[string]any{
		"found":         res.Found,
		"workflow_name": res.WorkflowName,
		"confidence":    res.Confidence,
		"reasoning":     res.Reasoning,
	}
	if res.Found {
		return outputs, "found_existing", nil
	}
	return outputs, "not_found", nil
}

var discoverySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"found":         map[string]any{"type": "boolean"},
		"workflow_name": map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "number"},
		"reasoning":     map[string]any{"type": "string"},
	},
	"required": []string{"found"},
}

func discoveryPrompt(userInput string, summaries []WorkflowSummary) string {
	prompt := "Does an existing saved workflow satisfy this request?\n\nRequest: " + userInput + "\n\nSaved workflows:\n"
	for _, s := range summaries {
		prompt += fmt.Sprintf("- %s: %s\n", s.Name, s.Description)
	}
	return prompt
}

// discover runs WorkflowDiscovery: one LLM call routed to
// found_existing when the LLM claims a match, not_found otherwise. A
// claimed match that doesn't resolve to a loadable workflow (checked by
// the caller via Library.Find) is treated as not found with a warning,
// per spec §4.6.
func (p *Planner) discover(ctx context.Context, userInput string) (discoveryResult, error) {
	summaries, err := p.Library.BrowseContext(ctx)
	if err != nil {
		summaries = nil
	}
	n := &discoveryNode{client: p.Client, summary: summaries}
	inst := node.NewInstance("discovery", n, map[string]any{"user_input": userInput})

	store := shared.New()
	if _, err := inst.Run(ctx, store); err != nil {
		return discoveryResult{}, err
	}
	ns, _ := store.Namespace("discovery")
	return discoveryResult{
		Found:        truthyBool(ns["found"]),
		WorkflowName: stringOr(ns["workflow_name"], ""),
		Confidence:   floatOr(ns["confidence"], 0),
		Reasoning:    stringOr(ns["reasoning"], ""),
	}, nil
}

func truthyBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func floatOr(v any, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}
