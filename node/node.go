// Package node defines the node lifecycle contract (prep/exec/post),
// its retry loop, and the template-aware parameter wrapper (spec §4.1).
//
// Grounded on petalflow's node.go Node interface (ID/Kind/Run), split
// into the spec's three explicit phases, and runtime.go's executeNode
// (start/finish accounting around one node's execution) generalized
// into a per-attempt retry loop. Unlike the teacher, the template-aware
// wrapper here never mutates the inner node's params in place (the
// spec's Design Notes flag that pattern as a source of the parallel-copy
// requirement); instead it computes a fresh, immutable param snapshot
// once per Run and passes it straight to Prep.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pflow-dev/pflow/shared"
	"github.com/pflow-dev/pflow/template"
)

// Node is the prep/exec/post contract every node implementation follows.
type Node interface {
	// Prep validates params and shared inputs and computes a pure inputs
	// record. Failures here are immediate and never retried.
	Prep(ctx context.Context, store *shared.Store, params map[string]any) (prepResult any, err error)

	// Exec does the work, possibly with side effects. A transient
	// failure should return an error; exec is retried per RetryPolicy.
	Exec(ctx context.Context, prepResult any) (execResult any, err error)

	// Post writes the node's outputs (these are namespaced under
	// shared[node_id] by the caller, not by Post itself) and returns the
	// action string used for edge routing. Failures here are terminal
	// and never retried.
	Post(ctx context.Context, store *shared.Store, prepResult, execResult any) (outputs any, action string, err error)
}

// Fallback is implemented by nodes that want a recoverable result when
// every Exec attempt has failed. Its return value is treated as the
// exec result, so Post still runs. Fallback may itself return an error
// to make the failure terminal.
type Fallback interface {
	ExecFallback(ctx context.Context, prepResult any, lastErr error) (execResult any, err error)
}

// RetryPolicy configures a node instance's retry loop.
type RetryPolicy struct {
	MaxRetries int           // attempts at Exec; 1 = no retry
	Wait       time.Duration // sleep between attempts
}

// DefaultRetryPolicy is used when an IR node spec carries no explicit
// retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Wait: 0}
}

// Errors surfaced by the lifecycle contract (spec §7).
var (
	// ErrPrep wraps a failure in Prep (including template resolution).
	ErrPrep = errors.New("node: prep failed")
	// ErrExec wraps a terminal Exec failure (retries exhausted, no usable fallback).
	ErrExec = errors.New("node: exec failed")
	// ErrPost wraps a failure in Post.
	ErrPost = errors.New("node: post failed")
)

// TemplateError is raised when a param's "${...}" expression cannot be
// resolved against the shared store during Prep.
type TemplateError struct {
	NodeID string
	Cause  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("node %s: template resolution failed: %v", e.NodeID, e.Cause)
}

func (e *TemplateError) Unwrap() error { return e.Cause }

// Instance binds a Node implementation to one compiled graph position:
// its id, its raw (possibly templated) params, and its retry policy.
// This is the "wrapped node" the compiler produces and the executor
// runs — the template-aware wrapper and the namespaced wrapper from
// spec §4.1 collapsed into one Run call, since neither needs to mutate
// node-local state to do its job.
type Instance struct {
	ID        string
	Node      Node
	RawParams map[string]any
	Retry     RetryPolicy
}

// NewInstance creates an Instance with the default retry policy.
func NewInstance(id string, n Node, params map[string]any) *Instance {
	return &Instance{ID: id, Node: n, RawParams: params, Retry: DefaultRetryPolicy()}
}

// Run executes the full prep/exec/post cycle against store:
//  1. resolves RawParams against store (template-aware wrapper),
//  2. calls Prep with the resolved snapshot,
//  3. retries Exec up to Retry.MaxRetries, falling back to ExecFallback
//     if the node implements it,
//  4. calls Post and namespaces its outputs under shared[ID]
//     (namespaced wrapper),
//  5. returns the action Post chose for edge routing.
func (inst *Instance) Run(ctx context.Context, store *shared.Store) (action string, err error) {
	resolved, err := template.ResolveNested(map[string]any(inst.RawParams), store)
	if err != nil {
		return "", &TemplateError{NodeID: inst.ID, Cause: err}
	}
	resolvedParams, _ := resolved.(map[string]any)

	prepResult, err := inst.Node.Prep(ctx, store, resolvedParams)
	if err != nil {
		return "", fmt.Errorf("%w: node %s: %v", ErrPrep, inst.ID, err)
	}

	execResult, err := inst.runExecWithRetry(ctx, prepResult)
	if err != nil {
		return "", fmt.Errorf("%w: node %s: %v", ErrExec, inst.ID, err)
	}

	outputs, action, err := inst.Node.Post(ctx, store, prepResult, execResult)
	if err != nil {
		return "", fmt.Errorf("%w: node %s: %v", ErrPost, inst.ID, err)
	}

	store.SetNamespace(inst.ID, outputs)
	return action, nil
}

func (inst *Instance) runExecWithRetry(ctx context.Context, prepResult any) (any, error) {
	policy := inst.Retry
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		execResult, err := inst.Node.Exec(ctx, prepResult)
		if err == nil {
			return execResult, nil
		}
		lastErr = err
		slog.Warn("node exec attempt failed", "node_id", inst.ID, "attempt", attempt, "max_retries", policy.MaxRetries, "err", err)

		if attempt < policy.MaxRetries && policy.Wait > 0 {
			timer := time.NewTimer(policy.Wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if fb, ok := inst.Node.(Fallback); ok {
		return fb.ExecFallback(ctx, prepResult, lastErr)
	}
	return nil, lastErr
}
