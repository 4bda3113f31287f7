package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
)

type generatorNode struct {
	client llmadapter.Client
}

func (g *generatorNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params, nil
}

func (g *generatorNode) Exec(ctx context.Context, prep any) (any, error) {
	params := prep.(map[string]any)
	resp, err := g.client.Complete(ctx, llmadapter.Request{
		InputText:  generatorPrompt(params),
		JSONSchema: generatorSchema,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := resp.JSON["workflow"]
	if !ok {
		return nil, llmadapter.ErrMissingStructuredOutput
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("generator: re-marshal workflow: %w", err)
	}
	var wf ir.Workflow
	if err := json.Unmarshal(encoded, &wf); err != nil {
		return nil, fmt.Errorf("generator: decode workflow: %w", err)
	}
	return &wf, nil
}

func (g *generatorNode) ExecFallback(_ context.Context, _ any, lastErr error) (any, error) {
	return (*ir.Workflow)(nil), fmt.Errorf("generator: llm call failed: %w", lastErr)
}

func (g *generatorNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	wf := exec.(*ir.Workflow)
	if wf == nil {
		return map[string]any{}, "error", nil
	}
	return map[string]any{"workflow": wf}, "default", nil
}

var generatorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"workflow": map[string]any{"type": "object"},
	},
	"required": []string{"workflow"},
}

func generatorPrompt(params map[string]any) string {
	userInput, _ := params["user_input"].(string)
	sel, _ := params["selection"].(Selection)
	hints, _ := params["hints"].(map[string]ParamHint)
	prevErrors, _ := params["validation_errors"].([]string)

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a complete workflow IR for this request: %s\n\n", userInput)
	fmt.Fprintf(&b, "Available node types: %s\n", strings.Join(sel.NodeTypes, ", "))
	if len(hints) > 0 {
		b.WriteString("Candidate values seen in the request (do not hardcode; declare as inputs):\n")
		for name, h := range hints {
			fmt.Fprintf(&b, "- %s: %v\n", name, h.Value)
		}
	}
	b.WriteString("Requirements: every \"${...}\" used in node params must have a matching entry in the workflow's inputs block. Use linear edges only (no branching).\n")
	if len(prevErrors) > 0 {
		b.WriteString("\nThe previous attempt failed validation with:\n")
		for _, e := range prevErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

// generate runs one WorkflowGenerator attempt (spec §4.6: Path B only,
// capped at MaxGeneratorAttempts by the caller).
func (p *Planner) generate(ctx context.Context, userInput string, selection Selection, hints map[string]ParamHint, prevErrors []string) (*ir.Workflow, error) {
	n := &generatorNode{client: p.Client}
	inst := node.NewInstance("generator", n, map[string]any{
		"user_input":        userInput,
		"selection":         selection,
		"hints":             hints,
		"validation_errors": prevErrors,
	})

	store := shared.New()
	action, err := inst.Run(ctx, store)
	if err != nil {
		return nil, err
	}
	if action == "error" {
		return nil, fmt.Errorf("generator: llm produced no usable workflow")
	}
	ns, _ := store.Namespace("generator")
	wf, _ := ns["workflow"].(*ir.Workflow)
	if wf == nil {
		return nil, fmt.Errorf("generator: empty workflow in response")
	}
	return wf, nil
}
