package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
)

type metadataNode struct {
	client llmadapter.Client
}

func (m *metadataNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params, nil
}

func (m *metadataNode) Exec(ctx context.Context, prep any) (any, error) {
	params := prep.(map[string]any)
	wf, _ := params["workflow"].(*ir.Workflow)

	resp, err := m.client.Complete(ctx, llmadapter.Request{
		InputText:  "Summarize this workflow for a searchable library entry.\n\n" + describeWorkflow(wf),
		JSONSchema: metadataSchema,
	})
	if err != nil {
		return nil, err
	}
	var out Metadata
	if err := llmadapter.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *metadataNode) ExecFallback(_ context.Context, prep any, _ error) (any, error) {
	params := prep.(map[string]any)
	wf, _ := params["workflow"].(*ir.Workflow)
	return deterministicMetadata(wf), nil
}

func (m *metadataNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	meta := exec.(Metadata)
	return map[string]any{
		"suggested_name":    meta.SuggestedName,
		"description":       meta.Description,
		"search_keywords":   toAnySlice(meta.SearchKeywords),
		"capabilities":      toAnySlice(meta.Capabilities),
		"typical_use_cases": toAnySlice(meta.TypicalUseCases),
	}, "default", nil
}

var metadataSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"suggested_name":    map[string]any{"type": "string"},
		"description":       map[string]any{"type": "string"},
		"search_keywords":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"capabilities":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"typical_use_cases": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

func describeWorkflow(wf *ir.Workflow) string {
	if wf == nil {
		return ""
	}
	var types []string
	for _, n := range wf.Nodes {
		types = append(types, n.Type)
	}
	return fmt.Sprintf("nodes: %s", strings.Join(types, " -> "))
}

// deterministicMetadata is MetadataGeneration's exec_fallback: metadata
// is non-essential, so a failed LLM call degrades to a name derived from
// the node chain and empty lists rather than failing the planner.
func deterministicMetadata(wf *ir.Workflow) Metadata {
	if wf == nil {
		return Metadata{SuggestedName: "untitled-workflow"}
	}
	var parts []string
	for _, n := range wf.Nodes {
		parts = append(parts, n.Type)
	}
	return Metadata{
		SuggestedName: strings.Join(parts, "-"),
		Description:   fmt.Sprintf("workflow with %d node(s)", len(wf.Nodes)),
	}
}

// generateMetadata runs MetadataGeneration.
func (p *Planner) generateMetadata(ctx context.Context, wf *ir.Workflow) (Metadata, error) {
	n := &metadataNode{client: p.Client}
	inst := node.NewInstance("metadata", n, map[string]any{"workflow": wf})

	store := shared.New()
	if _, err := inst.Run(ctx, store); err != nil {
		return Metadata{}, err
	}
	ns, _ := store.Namespace("metadata")
	return Metadata{
		SuggestedName:   stringOr(ns["suggested_name"], ""),
		Description:     stringOr(ns["description"], ""),
		SearchKeywords:  toStringSlice(ns["search_keywords"]),
		Capabilities:    toStringSlice(ns["capabilities"]),
		TypicalUseCases: toStringSlice(ns["typical_use_cases"]),
	}, nil
}
