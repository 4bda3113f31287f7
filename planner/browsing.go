package planner

import (
	"context"
	"fmt"

	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
)

// Selection is ComponentBrowsing's output: a deliberately
// over-inclusive superset of node types and saved workflows relevant to
// the request (spec §4.6: "prompt deliberately biases toward
// over-inclusion").
type Selection struct {
	NodeTypes      []string `json:"node_types"`
	WorkflowNames  []string `json:"workflow_names"`
}

type browsingNode struct {
	client llmadapter.Client
	types  []NodeTypeSummary
	saved  []WorkflowSummary
}

func (b *browsingNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	userInput, _ := params["user_input"].(string)
	if userInput == "" {
		return nil, fmt.Errorf("browsing: user_input is required")
	}
	return userInput, nil
}

func (b *browsingNode) Exec(ctx context.Context, prep any) (any, error) {
	userInput := prep.(string)
	resp, err := b.client.Complete(ctx, llmadapter.Request{
		InputText:  browsingPrompt(userInput, b.types, b.saved),
		JSONSchema: browsingSchema,
	})
	if err != nil {
		return nil, err
	}
	var out Selection
	if err := llmadapter.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *browsingNode) ExecFallback(_ context.Context, _ any, _ error) (any, error) {
	// Neutral fallback: select everything rather than nothing, since an
	// empty selection would starve the generator of any components.
	var allTypes []string
	for _, t := range b.types {
		allTypes = append(allTypes, t.Type)
	}
	return Selection{NodeTypes: allTypes}, nil
}

func (b *browsingNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	sel := exec.(Selection)
	return map[string]any{
		"node_types":     toAnySlice(sel.NodeTypes),
		"workflow_names": toAnySlice(sel.WorkflowNames),
	}, "default", nil
}

var browsingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"node_types":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"workflow_names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

func browsingPrompt(userInput string, types []NodeTypeSummary, saved []WorkflowSummary) string {
	prompt := "List every node type and saved workflow that MIGHT be relevant (over-include rather than omit).\n\nRequest: " + userInput + "\n\nAvailable node types:\n"
	for _, t := range types {
		prompt += fmt.Sprintf("- %s: %s\n", t.Type, t.Description)
	}
	return prompt
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// browse runs ComponentBrowsing for Path B.
func (p *Planner) browse(ctx context.Context, userInput string) (Selection, error) {
	types := listNodeTypes(p.Registry)
	saved, _ := p.Library.BrowseContext(ctx)

	n := &browsingNode{client: p.Client, types: types, saved: saved}
	inst := node.NewInstance("browsing", n, map[string]any{"user_input": userInput})

	store := shared.New()
	if _, err := inst.Run(ctx, store); err != nil {
		return Selection{}, err
	}
	ns, _ := store.Namespace("browsing")
	return Selection{
		NodeTypes:     toStringSlice(ns["node_types"]),
		WorkflowNames: toStringSlice(ns["workflow_names"]),
	}, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
