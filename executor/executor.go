// Package executor runs a compiled compiler.Graph: it initializes the
// shared store from workflow inputs, walks the graph action by action,
// and extracts declared (or fallback) outputs at the end (spec §4.2).
//
// Grounded on petalflow's runtime.go: executeGraphSequential's
// queue-based walk and hop-count cycle guard generalize directly;
// determineSuccessors' action-based edge filtering generalizes to the
// IR's explicit per-edge action (petalflow derives the action from a
// RouterNode's stored RouteDecision, pflow's nodes return it directly
// from post). generateRunID's crypto/rand id is replaced with
// google/uuid, matching the redesign direction the spec's Design Notes
// describe (favor an explicit run context over ad hoc ids).
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pflow-dev/pflow/batch"
	"github.com/pflow-dev/pflow/compiler"
	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
	"github.com/pflow-dev/pflow/template"
)

// ErrMaxHopsExceeded guards against runaway action cycles.
var ErrMaxHopsExceeded = errors.New("executor: maximum hops exceeded")

// DefaultMaxHops bounds total node executions per run.
const DefaultMaxHops = 1000

// fallbackOutputKeys is the search order used when a workflow declares
// no outputs block (spec §6 table, §4.6 "Outputs resolution at workflow end").
var fallbackOutputKeys = []string{"response", "output", "result", "text"}

// Options controls one Run invocation.
type Options struct {
	// MaxHops bounds total node executions; 0 uses DefaultMaxHops.
	MaxHops int
	// OutputKey, if set, overrides both the declared outputs block and
	// the fallback search order (host's --output-key).
	OutputKey string
}

// Result is what Run returns: the resolved declared/fallback outputs
// plus the final shared store, for hosts that want more than the
// summary outputs.
type Result struct {
	RunID   string
	Outputs map[string]any
	Store   *shared.Store
}

// Run executes g starting at its entry node, threading store through
// the action-routed walk, then resolves workflow-level outputs.
func Run(ctx context.Context, g *compiler.Graph, store *shared.Store, opts Options) (*Result, error) {
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	runID := uuid.NewString()

	if g.Entry == "" {
		return &Result{RunID: runID, Outputs: map[string]any{}, Store: store}, nil
	}

	current := g.Entry
	hops := 0
	for current != "" {
		hops++
		if hops > opts.MaxHops {
			return nil, fmt.Errorf("%w: stopped at node %s after %d hops", ErrMaxHopsExceeded, current, hops)
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("executor: run canceled: %w", err)
		}

		inst, ok := g.Instances[current]
		if !ok {
			return nil, fmt.Errorf("executor: node %q not found in compiled graph", current)
		}

		var action string
		var err error
		if spec, isBatch := g.Batches[current]; isBatch {
			action, err = runBatchNode(ctx, current, spec, inst, store)
		} else {
			action, err = inst.Run(ctx, store)
		}
		if err != nil {
			return nil, fmt.Errorf("executor: workflow-fatal error at node %q: %w", current, err)
		}

		next, hasNext := g.Successor(current, action)
		if !hasNext {
			break
		}
		current = next
	}

	outputs, err := resolveOutputs(g.Workflow, store, opts.OutputKey)
	if err != nil {
		return nil, err
	}
	return &Result{RunID: runID, Outputs: outputs, Store: store}, nil
}

// runBatchNode replaces inst's normal Run with a fan-out over spec's
// items collection (spec §4.3): each item runs inst's node through a
// fresh instance against an isolated store, and the aggregated batch
// result is namespaced under the node id like any other node's output,
// so downstream templates read it the same way.
func runBatchNode(ctx context.Context, nodeID string, spec *ir.BatchSpec, inst *node.Instance, store *shared.Store) (string, error) {
	cfg := batch.ResolveConfig(spec)
	newInner := func() *node.Instance {
		return node.NewInstance(nodeID, inst.Node, inst.RawParams)
	}

	result, err := batch.Run(ctx, nodeID, spec.Items, cfg, store, newInner)
	if err != nil {
		var fatal *batch.FatalError
		if errors.As(err, &fatal) {
			return "", fmt.Errorf("batch node %q failed fast at item %d: %w", nodeID, fatal.Index, err)
		}
		return "", err
	}

	store.SetNamespace(nodeID, map[string]any{
		"results":        result.Results,
		"count":          result.Count,
		"success_count":  result.SuccessCount,
		"error_count":    result.ErrorCount,
		"errors":         result.Errors,
		"batch_metadata": result.BatchMeta,
	})
	return ir.DefaultAction, nil
}

// resolveOutputs implements spec §4.6's output resolution: an explicit
// OutputKey override beats everything; otherwise a declared outputs
// block is resolved source by source (missing sources are omitted, not
// fatal); with no outputs block, fall back to the first of
// {response, output, result, text} found at the top level of store.
func resolveOutputs(wf *ir.Workflow, store *shared.Store, overrideKey string) (map[string]any, error) {
	if overrideKey != "" {
		v, err := template.ResolveValue(overrideKey, store)
		if err != nil {
			return map[string]any{}, nil
		}
		return map[string]any{overrideKey: v}, nil
	}

	if len(wf.Outputs) > 0 {
		out := make(map[string]any, len(wf.Outputs))
		for name, spec := range wf.Outputs {
			v, err := template.ResolveValue(trimTemplate(spec.Source), store)
			if err != nil {
				continue
			}
			out[name] = v
		}
		return out, nil
	}

	for _, key := range fallbackOutputKeys {
		if v, ok := store.Get(key); ok {
			return map[string]any{key: v}, nil
		}
	}
	return map[string]any{}, nil
}

// trimTemplate strips a whole-value "${...}" wrapper from an output
// source expression, since declared output sources are written as bare
// paths or as "${path}" interchangeably in practice.
func trimTemplate(source string) string {
	if path, ok := template.IsWholeValue(source); ok {
		return path
	}
	return source
}
