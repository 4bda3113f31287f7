// Package planner implements the natural-language workflow planner: a
// fixed finite-state flow of LLM-backed steps (discovery, browsing,
// parameter extraction, generation, validation, metadata) that
// converges on a parameter-mapping step whose routing decision gates
// execution (spec §4.6).
//
// Grounded on petalflow's runtime.go: the Validator's retry-vs-advance
// branch and ParameterMapping's complete/incomplete branch mirror
// determineSuccessors' action-based routing, hardcoded here rather than
// run through a generic graph because the spec frames the planner as a
// *fixed* topology, not an authorable one. Each step's request/response
// shape is core.LLMClient's Complete narrowed via llmadapter.
package planner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pflow-dev/pflow/compiler"
	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/registry"
)

// Action is the terminal routing decision ParameterMapping produces.
type Action string

const (
	ActionParamsComplete         Action = "params_complete"
	ActionParamsCompleteValidate Action = "params_complete_validate"
	ActionParamsIncomplete       Action = "params_incomplete"
	ActionFailed                 Action = "failed"
)

// MaxGeneratorAttempts bounds WorkflowGenerator/Validator retries
// (spec §4.6: "Attempts are capped at 3").
const MaxGeneratorAttempts = 3

// WorkflowLibrary resolves a saved workflow by name for Path A
// (WorkflowDiscovery's found_existing branch) and supplies the
// discovery/browsing context from saved metadata. Implemented by
// worklib.Library.
type WorkflowLibrary interface {
	Find(ctx context.Context, name string) (*ir.Workflow, bool, error)
	BrowseContext(ctx context.Context) ([]WorkflowSummary, error)
}

// WorkflowSummary is the saved-workflow metadata surfaced to the
// discovery and browsing prompts.
type WorkflowSummary struct {
	Name         string
	Description  string
	Keywords     []string
	Capabilities []string
}

// NodeTypeSummary is the per-type metadata surfaced to ComponentBrowsing.
type NodeTypeSummary struct {
	Type        string
	Description string
}

// listNodeTypes turns a registry's entries into the summaries
// ComponentBrowsing's prompt is built from.
func listNodeTypes(reg *registry.Registry) []NodeTypeSummary {
	if reg == nil {
		return nil
	}
	all := reg.All()
	out := make([]NodeTypeSummary, 0, len(all))
	for nodeType, entry := range all {
		out = append(out, NodeTypeSummary{Type: nodeType, Description: entry.Interface.Description})
	}
	return out
}

// Metadata is the workflow-library record MetadataGeneration produces.
type Metadata struct {
	SuggestedName   string   `json:"suggested_name"`
	Description     string   `json:"description"`
	SearchKeywords  []string `json:"search_keywords"`
	Capabilities    []string `json:"capabilities"`
	TypicalUseCases []string `json:"typical_use_cases"`
}

// Result is the planner's final, host-facing output.
type Result struct {
	Action             Action
	Workflow           *ir.Workflow
	ExtractedParams    map[string]any
	MissingParams      []string
	ValidationErrors   []string
	Metadata           Metadata
	GenerationAttempts int
}

// Planner drives the fixed state machine described in spec §4.6.
type Planner struct {
	Client   llmadapter.Client
	Library  WorkflowLibrary
	Registry *registry.Registry
}

// New creates a Planner bound to its collaborators.
func New(client llmadapter.Client, lib WorkflowLibrary, reg *registry.Registry) *Planner {
	return &Planner{Client: client, Library: lib, Registry: reg}
}

// validate runs the Validator step: structural IR validation, template
// resolvability, and node-type existence, reusing the compiler's
// validation passes without instantiating anything (the planner never
// runs the workflow it's validating).
func (p *Planner) validate(wf *ir.Workflow) []ir.Diagnostic {
	c := compiler.New(p.Registry, nil)
	return c.Validate(wf)
}

// Plan runs the planner end to end for one user_input (+ optional
// stdin), returning a Result whose Action gates what the host does next:
// params_complete(_validate) to run the workflow, params_incomplete to
// ask the user for the missing values, failed to report an error.
func (p *Planner) Plan(ctx context.Context, userInput string, stdin string) (*Result, error) {
	disc, err := p.discover(ctx, userInput)
	if err != nil {
		return nil, fmt.Errorf("planner: discovery: %w", err)
	}

	var (
		wf       *ir.Workflow
		pathB    bool
		attempts int
		valErrs  []string
	)

	if disc.Found {
		loaded, ok, err := p.Library.Find(ctx, disc.WorkflowName)
		if err != nil {
			return nil, fmt.Errorf("planner: loading %q: %w", disc.WorkflowName, err)
		}
		if ok {
			wf = loaded
		} else {
			slog.Warn("planner: discovery named a workflow that could not be loaded; generating a new one", "workflow_name", disc.WorkflowName)
		}
	}

	if wf == nil {
		pathB = true
		selection, err := p.browse(ctx, userInput)
		if err != nil {
			return nil, fmt.Errorf("planner: component browsing: %w", err)
		}

		hints, err := p.discoverParams(ctx, userInput, stdin)
		if err != nil {
			return nil, fmt.Errorf("planner: parameter discovery: %w", err)
		}

		for attempts = 1; attempts <= MaxGeneratorAttempts; attempts++ {
			generated, err := p.generate(ctx, userInput, selection, hints, valErrs)
			if err != nil {
				return nil, fmt.Errorf("planner: workflow generation: %w", err)
			}

			diags := p.validate(generated)
			if !ir.HasErrors(diags) {
				wf = generated
				valErrs = nil
				break
			}

			valErrs = topErrors(diags, 3)
			if attempts >= MaxGeneratorAttempts {
				return &Result{
					Action:             ActionFailed,
					ValidationErrors:   valErrs,
					GenerationAttempts: attempts,
				}, nil
			}
		}
	}

	meta, err := p.generateMetadata(ctx, wf)
	if err != nil {
		meta = deterministicMetadata(wf)
	}

	extracted, missing := p.mapParameters(wf, userInput, stdin)

	action := ActionParamsComplete
	if pathB {
		action = ActionParamsCompleteValidate
	}
	if len(missing) > 0 {
		action = ActionParamsIncomplete
	}

	return &Result{
		Action:             action,
		Workflow:           wf,
		ExtractedParams:    extracted,
		MissingParams:      missing,
		Metadata:           meta,
		GenerationAttempts: attempts,
	}, nil
}

func topErrors(diags []ir.Diagnostic, n int) []string {
	errs := ir.Errors(diags)
	if len(errs) > n {
		errs = errs[:n]
	}
	out := make([]string, len(errs))
	for i, d := range errs {
		out[i] = d.String()
	}
	return out
}
