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

type paramMappingNode struct {
	client llmadapter.Client
}

func (m *paramMappingNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	wf, _ := params["workflow"].(*ir.Workflow)
	if wf == nil {
		return nil, fmt.Errorf("param_mapping: workflow is required")
	}
	return params, nil
}

func (m *paramMappingNode) Exec(ctx context.Context, prep any) (any, error) {
	params := prep.(map[string]any)
	wf := params["workflow"].(*ir.Workflow)
	userInput, _ := params["user_input"].(string)
	stdin, _ := params["stdin"].(string)

	resp, err := m.client.Complete(ctx, llmadapter.Request{
		InputText:  mappingPrompt(wf, userInput, stdin),
		JSONSchema: mappingSchema(wf),
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Values map[string]any `json:"values"`
	}
	if err := llmadapter.Decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

func (m *paramMappingNode) ExecFallback(_ context.Context, _ any, _ error) (any, error) {
	return map[string]any{}, nil
}

func (m *paramMappingNode) Post(_ context.Context, _ *shared.Store, prep, exec any) (any, string, error) {
	params := prep.(map[string]any)
	wf := params["workflow"].(*ir.Workflow)
	values := exec.(map[string]any)

	var missing []string
	for name, spec := range wf.Inputs {
		if _, ok := values[name]; ok {
			continue
		}
		if spec.Default != nil {
			values[name] = spec.Default
			continue
		}
		if spec.Required {
			missing = append(missing, name)
		}
	}

	outputs := map[string]any{
		"extracted_params": values,
		"missing_params":   toAnySlice(missing),
	}
	if len(missing) > 0 {
		return outputs, "params_incomplete", nil
	}
	return outputs, "params_complete", nil
}

func mappingSchema(wf *ir.Workflow) map[string]any {
	props := make(map[string]any, len(wf.Inputs))
	for name, spec := range wf.Inputs {
		props[name] = map[string]any{"type": jsonSchemaType(spec.Type)}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"values": map[string]any{"type": "object", "properties": props},
		},
	}
}

func jsonSchemaType(t string) string {
	switch t {
	case "int", "integer", "number", "float":
		return "number"
	case "bool", "boolean":
		return "boolean"
	default:
		return "string"
	}
}

func mappingPrompt(wf *ir.Workflow, userInput, stdin string) string {
	var names []string
	for name := range wf.Inputs {
		names = append(names, name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Extract values for these declared inputs: %s\n\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Request: %s\n", userInput)
	if stdin != "" {
		fmt.Fprintf(&b, "Stdin: %s\n", stdin)
	}
	return b.String()
}

// mapParameters runs ParameterMapping: an independent extraction of
// wf's declared inputs from userInput/stdin (never from
// discoverParams' hints, since a generated workflow's input names may
// differ — spec §4.6).
func (p *Planner) mapParameters(wf *ir.Workflow, userInput, stdin string) (map[string]any, []string) {
	n := &paramMappingNode{client: p.Client}
	inst := node.NewInstance("param_mapping", n, map[string]any{
		"workflow":   wf,
		"user_input": userInput,
		"stdin":      stdin,
	})

	store := shared.New()
	if _, err := inst.Run(context.Background(), store); err != nil {
		return map[string]any{}, requiredInputNames(wf)
	}
	ns, _ := store.Namespace("param_mapping")
	extracted, _ := ns["extracted_params"].(map[string]any)
	missing := toStringSlice(ns["missing_params"])
	return extracted, missing
}

func requiredInputNames(wf *ir.Workflow) []string {
	var out []string
	for name, spec := range wf.Inputs {
		if spec.Required && spec.Default == nil {
			out = append(out, name)
		}
	}
	return out
}
