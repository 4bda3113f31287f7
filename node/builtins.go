package node

import (
	"context"
	"errors"

	"github.com/pflow-dev/pflow/shared"
)

// NoopNode passes its "value" param through unchanged. It backs the
// registry's "noop" core entry.
type NoopNode struct{}

func (NoopNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params["value"], nil
}

func (NoopNode) Exec(_ context.Context, prep any) (any, error) {
	return prep, nil
}

func (NoopNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	return map[string]any{"value": exec}, DefaultAction, nil
}

// EchoNode writes its "input" param back out as "response". It backs
// the registry's "echo" core entry and the spec §8 scenario 1 example
// ("inner node echoes shared['item'] as {response: item}").
type EchoNode struct{}

func (EchoNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params["input"], nil
}

func (EchoNode) Exec(_ context.Context, prep any) (any, error) {
	return prep, nil
}

func (EchoNode) Post(_ context.Context, _ *shared.Store, _, exec any) (any, string, error) {
	return map[string]any{"response": exec}, DefaultAction, nil
}

// ErrFail is the fixed error FailNode always raises in Exec.
var ErrFail = errors.New("fail node: unconditional failure")

// FailNode always fails in Exec. It exists to exercise retry loops and
// error-action edge routing; it backs the registry's "fail" core entry.
type FailNode struct{}

func (FailNode) Prep(_ context.Context, _ *shared.Store, params map[string]any) (any, error) {
	return params["message"], nil
}

func (FailNode) Exec(_ context.Context, _ any) (any, error) {
	return nil, ErrFail
}

// ExecFallback turns FailNode's exhausted-retries error into a usable
// exec result (the failing error itself) so Post still runs and can
// route the "error" action, instead of Run returning a terminal ErrExec.
func (FailNode) ExecFallback(_ context.Context, _ any, lastErr error) (any, error) {
	return lastErr, nil
}

func (FailNode) Post(_ context.Context, _ *shared.Store, prep, exec any) (any, string, error) {
	msg := ErrFail.Error()
	if s, ok := prep.(string); ok && s != "" {
		msg = s
	} else if err, ok := exec.(error); ok && err != nil {
		msg = err.Error()
	}
	return map[string]any{"error": msg}, "error", nil
}

// DefaultAction is the edge action used when a node's Post doesn't pick
// a specific one. Mirrors registry.DefaultAction without importing the
// registry package (node must not depend on registry: the registry
// describes node types, it doesn't run them).
const DefaultAction = "default"
