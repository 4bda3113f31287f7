package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pflow-dev/pflow/shared"
)

func TestInstance_Run_Echo(t *testing.T) {
	store := shared.New()
	store.Set("item", "payload")

	inst := NewInstance("n1", EchoNode{}, map[string]any{"input": "${item}"})
	action, err := inst.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if action != DefaultAction {
		t.Errorf("action = %q, want %q", action, DefaultAction)
	}

	ns, ok := store.Namespace("n1")
	if !ok {
		t.Fatal("expected shared[n1] to be set")
	}
	if ns["response"] != "payload" {
		t.Errorf("response = %v, want payload", ns["response"])
	}
}

func TestInstance_Run_TemplateError(t *testing.T) {
	store := shared.New()
	inst := NewInstance("n1", EchoNode{}, map[string]any{"input": "${missing}"})

	if _, err := inst.Run(context.Background(), store); err == nil {
		t.Fatal("expected an error for an unresolved template variable")
	}
}

func TestInstance_Run_Fail_RoutesErrorAction(t *testing.T) {
	store := shared.New()
	inst := NewInstance("n1", FailNode{}, map[string]any{"message": "boom"})
	inst.Retry = RetryPolicy{MaxRetries: 1}

	action, err := inst.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (FailNode routes via Post, not a terminal error)", err)
	}
	if action != "error" {
		t.Errorf("action = %q, want error", action)
	}
	ns, _ := store.Namespace("n1")
	if ns["error"] != "boom" {
		t.Errorf("error = %v, want boom", ns["error"])
	}
}

type flakyNode struct {
	failuresLeft int
}

func (f *flakyNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params, nil
}

func (f *flakyNode) Exec(_ context.Context, _ any) (any, error) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("transient")
	}
	return "ok", nil
}

func (f *flakyNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	return map[string]any{"result": exec}, DefaultAction, nil
}

func TestInstance_Run_RetriesUntilSuccess(t *testing.T) {
	store := shared.New()
	fn := &flakyNode{failuresLeft: 2}
	inst := NewInstance("n1", fn, nil)
	inst.Retry = RetryPolicy{MaxRetries: 3, Wait: time.Millisecond}

	action, err := inst.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if action != DefaultAction {
		t.Errorf("action = %q, want %q", action, DefaultAction)
	}
	ns, _ := store.Namespace("n1")
	if ns["result"] != "ok" {
		t.Errorf("result = %v, want ok", ns["result"])
	}
}

func TestInstance_Run_RetriesExhausted(t *testing.T) {
	store := shared.New()
	fn := &flakyNode{failuresLeft: 5}
	inst := NewInstance("n1", fn, nil)
	inst.Retry = RetryPolicy{MaxRetries: 2}

	if _, err := inst.Run(context.Background(), store); err == nil {
		t.Fatal("expected exec error after exhausting retries")
	}
}

type fallbackNode struct{}

func (fallbackNode) Prep(_ context.Context, _ *shared.Store, _ map[string]any) (any, error) {
	return nil, nil
}

func (fallbackNode) Exec(_ context.Context, _ any) (any, error) {
	return nil, errors.New("always fails")
}

func (fallbackNode) ExecFallback(_ context.Context, _ any, lastErr error) (any, error) {
	return map[string]any{"recovered_from": lastErr.Error()}, nil
}

func (fallbackNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	return exec, DefaultAction, nil
}

func TestInstance_Run_ExecFallback(t *testing.T) {
	store := shared.New()
	inst := NewInstance("n1", fallbackNode{}, nil)
	inst.Retry = RetryPolicy{MaxRetries: 2}

	action, err := inst.Run(context.Background(), store)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil (fallback should recover)", err)
	}
	if action != DefaultAction {
		t.Errorf("action = %q, want %q", action, DefaultAction)
	}
	ns, _ := store.Namespace("n1")
	if ns["recovered_from"] != "always fails" {
		t.Errorf("recovered_from = %v, want %q", ns["recovered_from"], "always fails")
	}
}

func TestInstance_Run_ContextCancelled(t *testing.T) {
	store := shared.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fn := &flakyNode{failuresLeft: 0}
	inst := NewInstance("n1", fn, nil)
	if _, err := inst.Run(ctx, store); err == nil {
		t.Fatal("expected an error for an already-cancelled context")
	}
}

func TestNoopNode_PassesValueThrough(t *testing.T) {
	store := shared.New()
	inst := NewInstance("n1", NoopNode{}, map[string]any{"value": 42})

	if _, err := inst.Run(context.Background(), store); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	ns, _ := store.Namespace("n1")
	if ns["value"] != 42 {
		t.Errorf("value = %v, want 42", ns["value"])
	}
}
