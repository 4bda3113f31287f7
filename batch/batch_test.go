package batch

import (
	"context"
	"testing"
	"time"

	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/shared"
)

func TestResolveConfig_Defaults(t *testing.T) {
	cfg := ResolveConfig(&ir.BatchSpec{})
	if cfg.As != "item" || cfg.Parallel || cfg.MaxConcurrent != 10 || cfg.MaxRetries != 1 || cfg.ErrorHandling != ErrorHandlingFailFast {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestResolveConfig_StringCoercion(t *testing.T) {
	cfg := ResolveConfig(&ir.BatchSpec{
		Parallel:      "yes",
		MaxConcurrent: "4",
		MaxRetries:    "3",
		RetryWait:     "1.5",
		ErrorHandling: "continue",
	})
	if !cfg.Parallel || cfg.MaxConcurrent != 4 || cfg.MaxRetries != 3 || cfg.RetryWait != 1500*time.Millisecond || cfg.ErrorHandling != "continue" {
		t.Errorf("unexpected coerced config: %+v", cfg)
	}
}

func TestResolveConfig_InvalidFallsBackToDefault(t *testing.T) {
	cfg := ResolveConfig(&ir.BatchSpec{Parallel: "maybe", MaxConcurrent: "not-a-number"})
	if cfg.Parallel {
		t.Error("invalid parallel value should fall back to default false")
	}
	if cfg.MaxConcurrent != 10 {
		t.Errorf("invalid max_concurrent should fall back to default 10, got %d", cfg.MaxConcurrent)
	}
}

func newEchoInner() *node.Instance {
	return node.NewInstance("batch1", node.EchoNode{}, map[string]any{"input": "${item}"})
}

func TestRun_Sequential(t *testing.T) {
	outer := shared.New()
	cfg := ResolveConfig(&ir.BatchSpec{})

	result, err := Run(context.Background(), "batch1", []any{"a", "b", "c"}, cfg, outer, newEchoInner)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Count != 3 || result.SuccessCount != 3 {
		t.Errorf("Count/SuccessCount = %d/%d, want 3/3", result.Count, result.SuccessCount)
	}
	for i, want := range []string{"a", "b", "c"} {
		m, ok := result.Results[i].(map[string]any)
		if !ok || m["response"] != want {
			t.Errorf("Results[%d] = %v, want response=%q", i, result.Results[i], want)
		}
	}
}

func TestRun_Parallel_PreservesOrder(t *testing.T) {
	outer := shared.New()
	cfg := ResolveConfig(&ir.BatchSpec{Parallel: true, MaxConcurrent: 3})

	items := []any{"x", "y", "z", "w"}
	result, err := Run(context.Background(), "batch1", items, cfg, outer, newEchoInner)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, want := range []string{"x", "y", "z", "w"} {
		m := result.Results[i].(map[string]any)
		if m["response"] != want {
			t.Errorf("Results[%d] = %v, want response=%q", i, result.Results[i], want)
		}
	}
}

func TestRun_ItemsFromJSONString(t *testing.T) {
	outer := shared.New()
	outer.Set("raw", `["p", "q"]`)
	cfg := ResolveConfig(&ir.BatchSpec{})

	result, err := Run(context.Background(), "batch1", "${raw}", cfg, outer, newEchoInner)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Count != 2 {
		t.Errorf("Count = %d, want 2", result.Count)
	}
}

func TestRun_NotASequence(t *testing.T) {
	outer := shared.New()
	cfg := ResolveConfig(&ir.BatchSpec{})

	if _, err := Run(context.Background(), "batch1", 42, cfg, outer, newEchoInner); err == nil {
		t.Fatal("expected an error for a non-sequence items value")
	}
}

func newFailInner() *node.Instance {
	return node.NewInstance("batch1", node.FailNode{}, map[string]any{"message": "boom"})
}

func TestRun_FailFast_StopsAndPreservesOriginalError(t *testing.T) {
	outer := shared.New()
	cfg := ResolveConfig(&ir.BatchSpec{ErrorHandling: "fail_fast"})

	result, err := Run(context.Background(), "batch1", []any{1, 2, 3}, cfg, outer, newFailInner)
	if err == nil {
		t.Fatal("expected a fatal error under fail_fast")
	}
	var fe *FatalError
	if fe, _ = err.(*FatalError); fe == nil {
		t.Fatalf("expected *FatalError, got %T: %v", err, err)
	}
	if fe.Index != 0 {
		t.Errorf("FatalError.Index = %d, want 0 (stop at the first failing item)", fe.Index)
	}
	if result.Results[1] != nil || result.Results[2] != nil {
		t.Errorf("items after the failing one should not run, got %v", result.Results)
	}
	if len(result.Errors) != 1 || result.Errors[0].Error != "boom" {
		t.Errorf("Errors = %+v, want one entry carrying the original message %q", result.Errors, "boom")
	}
}

func TestRun_Continue_CollectsAllErrors(t *testing.T) {
	outer := shared.New()
	cfg := ResolveConfig(&ir.BatchSpec{ErrorHandling: "continue"})

	result, err := Run(context.Background(), "batch1", []any{1, 2, 3}, cfg, outer, newFailInner)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil under continue", err)
	}
	if result.ErrorCount != 3 || result.SuccessCount != 0 {
		t.Errorf("Error/Success = %d/%d, want 3/0", result.ErrorCount, result.SuccessCount)
	}
	if len(result.Errors) != 3 {
		t.Errorf("len(Errors) = %d, want 3", len(result.Errors))
	}
}

func TestRun_AggregatesLLMUsage(t *testing.T) {
	outer := shared.New()
	cfg := ResolveConfig(&ir.BatchSpec{})

	newInnerWithUsage := func() *node.Instance {
		return node.NewInstance("batch1", usageNode{}, nil)
	}

	_, err := Run(context.Background(), "batch1", []any{"a", "b"}, cfg, outer, newInnerWithUsage)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	calls := outer.EnsureLLMCalls()
	if len(calls) != 2 {
		t.Fatalf("len(__llm_calls__) = %d, want 2", len(calls))
	}
	first := calls[0].(map[string]any)
	if first["node_id"] != "batch1" || first["batch_item_index"] != 0 {
		t.Errorf("usage record not stamped correctly: %+v", first)
	}
}

type usageNode struct{}

func (usageNode) Prep(_ context.Context, _ *shared.Store, _ map[string]any) (any, error) {
	return nil, nil
}

func (usageNode) Exec(_ context.Context, _ any) (any, error) {
	return nil, nil
}

func (usageNode) Post(_ context.Context, _ *shared.Store, _, _ any) (any, string, error) {
	return map[string]any{"llm_usage": map[string]any{"tokens": 5}}, ir.DefaultAction, nil
}
