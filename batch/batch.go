// Package batch implements the batch wrapper (spec §4.3, §3.4): it
// replaces a node's normal execution with a fan-out over an items
// collection, running the node's inner chain once per item against an
// isolated shared-store context.
//
// Grounded on petalflow's map_node.go: MapNode.mapSequential and
// mapConcurrent generalize directly into Run's sequential/parallel
// split; mapConcurrent's worker-pool-over-a-channel with
// sync.Once-guarded first-error capture and a pre-sized results slice
// is kept verbatim in shape. Unlike MapNode, which shares one mapper
// node instance across workers and races on nothing only because its
// mapper has no internal state, pflow's inner instance carries params
// that the template wrapper resolves fresh per Run — so each worker
// gets its own *node.Instance built from the same spec rather than a
// deep copy of mutable fields, matching the spec's "per-run immutable
// param snapshot" redesign (see node.Instance.Run) while still
// satisfying the isolation the spec's deep-copy requirement is for.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
	"github.com/pflow-dev/pflow/template"
)

// maxInlineJSONBytes is the safety cap on auto-parsing a string items
// reference as JSON (spec §4.3 prep phase).
const maxInlineJSONBytes = 10 * 1024 * 1024

// ErrNotASequence is returned when the resolved items value isn't a
// sequence and can't be parsed into one.
var ErrNotASequence = errors.New("batch: items did not resolve to a sequence")

// InnerFactory builds a fresh node.Instance for one batch worker, bound
// to the same spec params and retry policy as the batch's inner node.
// Each call must return an independently runnable instance (no shared
// mutable state across calls), since Run may invoke it concurrently.
type InnerFactory func() *node.Instance

// Config is the resolved, type-coerced form of ir.BatchSpec.
type Config struct {
	As            string
	Parallel      bool
	MaxConcurrent int
	MaxRetries    int
	RetryWait     time.Duration
	ErrorHandling string
}

const (
	ErrorHandlingFailFast = "fail_fast"
	ErrorHandlingContinue = "continue"
)

// ResolveConfig coerces an ir.BatchSpec's possibly-stringly-typed fields
// into a Config, applying spec §3.4's defaults and §4.3's "invalid
// values fall back to the documented default" coercion rule.
func ResolveConfig(spec *ir.BatchSpec) Config {
	cfg := Config{
		As:            spec.AsOrDefault(),
		Parallel:      false,
		MaxConcurrent: 10,
		MaxRetries:    1,
		RetryWait:     0,
		ErrorHandling: ErrorHandlingFailFast,
	}
	if b, ok := coerceBool(spec.Parallel); ok {
		cfg.Parallel = b
	}
	if n, ok := coerceInt(spec.MaxConcurrent); ok && n >= 1 {
		cfg.MaxConcurrent = n
	}
	if n, ok := coerceInt(spec.MaxRetries); ok && n >= 1 {
		cfg.MaxRetries = n
	}
	if f, ok := coerceFloat(spec.RetryWait); ok && f >= 0 {
		cfg.RetryWait = time.Duration(f * float64(time.Second))
	}
	if spec.ErrorHandling == ErrorHandlingFailFast || spec.ErrorHandling == ErrorHandlingContinue {
		cfg.ErrorHandling = spec.ErrorHandling
	}
	return cfg
}

func coerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no", "":
			return false, true
		}
	}
	return false, false
}

func coerceInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// ItemError is one batch item's recorded failure.
type ItemError struct {
	Index     int    `json:"index"`
	Item      any    `json:"item"`
	Error     string `json:"error"`
	Exception error  `json:"-"`
}

// Timing aggregates per-item wall-clock measurements.
type Timing struct {
	TotalItemsMs float64 `json:"total_items_ms"`
	AvgMs        float64 `json:"avg"`
	MinMs        float64 `json:"min"`
	MaxMs        float64 `json:"max"`
}

// Metadata describes how a batch run executed, for the namespace payload.
type Metadata struct {
	Parallel      bool    `json:"parallel"`
	MaxConcurrent int     `json:"max_concurrent,omitempty"`
	MaxRetries    int     `json:"max_retries"`
	RetryWait     float64 `json:"retry_wait,omitempty"`
	ExecutionMode string  `json:"execution_mode"`
	Timing        Timing  `json:"timing"`
}

// Result is the batch node's namespace payload (spec §3.4).
type Result struct {
	Results      []any       `json:"results"`
	Count        int         `json:"count"`
	SuccessCount int         `json:"success_count"`
	ErrorCount   int         `json:"error_count"`
	Errors       []ItemError `json:"errors,omitempty"`
	BatchMeta    Metadata    `json:"batch_metadata"`
}

// FatalError is raised under fail_fast, re-raising the original
// exception if the failing item had one, otherwise a wrapped error
// naming the batch node id and failing item index.
type FatalError struct {
	NodeID string
	Index  int
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("batch %s: item %d: %v", e.NodeID, e.Index, e.Cause)
	}
	return fmt.Sprintf("batch %s: item %d failed", e.NodeID, e.Index)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Run executes the batch fan-out for nodeID over itemsRef (resolved
// against outer), dispatching sequential or parallel per cfg, and
// returns the namespace payload described in spec §3.4. A fail_fast
// error is returned as *FatalError; under continue, Run only returns an
// error for a structural problem (items didn't resolve to a sequence).
func Run(ctx context.Context, nodeID string, itemsRef any, cfg Config, outer *shared.Store, newInner InnerFactory) (*Result, error) {
	items, err := resolveItems(itemsRef, outer)
	if err != nil {
		return nil, err
	}
	outer.EnsureLLMCalls()

	var (
		results  []any
		itemErrs []ItemError
		timing   Timing
		fatal    error
	)

	start := time.Now()
	if cfg.Parallel {
		results, itemErrs, fatal = runParallel(ctx, nodeID, items, cfg, outer, newInner, &timing)
	} else {
		results, itemErrs, fatal = runSequential(ctx, nodeID, items, cfg, outer, newInner, &timing)
	}
	timing.TotalItemsMs = float64(time.Since(start).Milliseconds())

	successCount := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if m, ok := r.(map[string]any); ok {
			if truthy(m["error"]) {
				continue
			}
		}
		successCount++
	}

	result := &Result{
		Results:      results,
		Count:        len(items),
		SuccessCount: successCount,
		ErrorCount:   len(items) - successCount,
		Errors:       itemErrs,
		BatchMeta: Metadata{
			Parallel:      cfg.Parallel,
			MaxConcurrent: cfg.MaxConcurrent,
			MaxRetries:    cfg.MaxRetries,
			RetryWait:     cfg.RetryWait.Seconds(),
			ExecutionMode: executionMode(cfg),
			Timing:        timing,
		},
	}

	if cfg.ErrorHandling == ErrorHandlingFailFast && fatal != nil {
		return result, fatal
	}
	return result, nil
}

func executionMode(cfg Config) string {
	if cfg.Parallel {
		return "parallel"
	}
	return "sequential"
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	default:
		return true
	}
}

// resolveItems implements the items-resolution rule from spec §4.3's
// prep phase: resolve the template reference; if the result is a string
// that, trimmed, starts with '[', attempt a JSON-array parse bounded by
// maxInlineJSONBytes, falling back to the raw string on failure or
// oversize. A non-sequence final value is an error.
func resolveItems(itemsRef any, lookup template.Lookup) ([]any, error) {
	resolved := itemsRef
	if s, ok := itemsRef.(string); ok {
		if path, ok := template.IsWholeValue(s); ok {
			v, err := template.ResolveValue(path, lookup)
			if err != nil {
				return nil, err
			}
			resolved = v
		} else {
			v, err := template.ResolveString(s, lookup)
			if err != nil {
				return nil, err
			}
			resolved = v
		}
	}

	if s, ok := resolved.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") && len(trimmed) <= maxInlineJSONBytes {
			var parsed []any
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				resolved = parsed
			}
		}
	}

	switch v := resolved.(type) {
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotASequence, resolved)
	}
}

// runItem runs the inner chain once for a single item against an
// isolated context (shallow copy of outer with context[alias]=item and
// context[nodeID] reset to {}), then extracts the per-item result and
// any llm_usage record.
func runItem(ctx context.Context, nodeID string, cfg Config, outer *shared.Store, newInner InnerFactory, item any, index int) (any, *ItemError, time.Duration) {
	start := time.Now()

	itemCtx := outer.Clone()
	itemCtx.Set(cfg.As, item)
	itemCtx.SetNamespace(nodeID, map[string]any{})

	inner := newInner()
	inner.Retry = node.RetryPolicy{MaxRetries: cfg.MaxRetries, Wait: cfg.RetryWait}

	action, err := inner.Run(ctx, itemCtx)
	duration := time.Since(start)

	if err != nil {
		ie := &ItemError{Index: index, Item: item, Error: err.Error(), Exception: err}
		return nil, ie, duration
	}

	ns, _ := itemCtx.Namespace(nodeID)
	var itemResult any = ns
	if ns == nil {
		itemResult = map[string]any{}
	}

	if usage, ok := extractUsage(ns, itemCtx); ok {
		stamped := stampUsage(usage, nodeID, index)
		outer.AppendLLMCall(stamped)
	}

	if action == ir.ErrorAction || (ns != nil && truthy(ns["error"])) {
		msg := "item reported an error"
		if ns != nil {
			if s, ok := ns["error"].(string); ok && s != "" {
				msg = s
			}
		}
		ie := &ItemError{Index: index, Item: item, Error: msg}
		return itemResult, ie, duration
	}

	return itemResult, nil, duration
}

// extractUsage looks for an "llm_usage" key, first inside the inner
// node's own namespace, then at the root of the isolated context.
func extractUsage(ns map[string]any, itemCtx *shared.Store) (any, bool) {
	if ns != nil {
		if u, ok := ns["llm_usage"]; ok {
			return u, true
		}
	}
	if u, ok := itemCtx.Get("llm_usage"); ok {
		return u, true
	}
	return nil, false
}

func stampUsage(usage any, nodeID string, index int) map[string]any {
	m, ok := usage.(map[string]any)
	if !ok {
		m = map[string]any{"value": usage}
	}
	stamped := make(map[string]any, len(m)+2)
	for k, v := range m {
		stamped[k] = v
	}
	stamped["node_id"] = nodeID
	stamped["batch_item_index"] = index
	return stamped
}

func runSequential(ctx context.Context, nodeID string, items []any, cfg Config, outer *shared.Store, newInner InnerFactory, timing *Timing) ([]any, []ItemError, error) {
	results := make([]any, len(items))
	var itemErrs []ItemError
	var durations []time.Duration

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return results, itemErrs, err
		}

		result, itemErr, dur := runItem(ctx, nodeID, cfg, outer, newInner, item, i)
		results[i] = result
		durations = append(durations, dur)

		if itemErr != nil {
			itemErrs = append(itemErrs, *itemErr)
			if cfg.ErrorHandling == ErrorHandlingFailFast {
				applyTiming(timing, durations)
				return results, itemErrs, &FatalError{NodeID: nodeID, Index: i, Cause: itemErr.Exception}
			}
		}
	}

	applyTiming(timing, durations)
	return results, itemErrs, nil
}

func runParallel(ctx context.Context, nodeID string, items []any, cfg Config, outer *shared.Store, newInner InnerFactory, timing *Timing) ([]any, []ItemError, error) {
	results := make([]any, len(items))
	errSlots := make([]*ItemError, len(items))
	durations := make([]time.Duration, len(items))

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type work struct {
		index int
		item  any
	}
	workCh := make(chan work)

	var wg sync.WaitGroup
	var fatalOnce sync.Once
	var fatal error

	workers := cfg.MaxConcurrent
	if workers > len(items) {
		workers = len(items)
	}
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case item, ok := <-workCh:
					if !ok {
						return
					}
					result, itemErr, dur := runItem(workerCtx, nodeID, cfg, outer, newInner, item.item, item.index)
					results[item.index] = result
					durations[item.index] = dur
					if itemErr != nil {
						errSlots[item.index] = itemErr
						if cfg.ErrorHandling == ErrorHandlingFailFast {
							fatalOnce.Do(func() {
								fatal = &FatalError{NodeID: nodeID, Index: item.index, Cause: itemErr.Exception}
								cancel()
							})
						}
					}
				}
			}
		}()
	}

submit:
	for i, item := range items {
		select {
		case <-workerCtx.Done():
			break submit
		case workCh <- work{index: i, item: item}:
		}
	}
	close(workCh)
	wg.Wait()

	var itemErrs []ItemError
	for _, e := range errSlots {
		if e != nil {
			itemErrs = append(itemErrs, *e)
		}
	}
	applyTiming(timing, durations)
	return results, itemErrs, fatal
}

func applyTiming(timing *Timing, durations []time.Duration) {
	if len(durations) == 0 {
		return
	}
	var sum, min, max float64
	min = -1
	for _, d := range durations {
		ms := float64(d.Milliseconds())
		sum += ms
		if min < 0 || ms < min {
			min = ms
		}
		if ms > max {
			max = ms
		}
	}
	timing.AvgMs = sum / float64(len(durations))
	timing.MinMs = min
	timing.MaxMs = max
}
