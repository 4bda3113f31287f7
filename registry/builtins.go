package registry

// RegisterBuiltins registers the small set of node types the runtime
// ships with directly (kind=core). Called explicitly by hosts that want
// the built-ins available without a scan; unlike the teacher's
// sync.Once-guarded package-level Global(), registration here is an
// explicit call against a caller-owned Registry so tests and multiple
// hosts in one process never share hidden global state.
func RegisterBuiltins(r *Registry) {
	r.Register("noop", Entry{
		Class: "NoopNode",
		Kind:  KindCore,
		Interface: Interface{
			Description: "Passes its \"value\" param through unchanged under the \"value\" key.",
			Params:      []ParamDef{{Key: "value", Type: "any", Required: false}},
			Outputs:     []OutputPort{{Key: "value", Type: "any"}},
			Actions:     []string{DefaultAction},
		},
	})

	r.Register("echo", Entry{
		Class: "EchoNode",
		Kind:  KindCore,
		Interface: Interface{
			Description: "Writes its \"input\" param back out as \"response\".",
			Params:      []ParamDef{{Key: "input", Type: "any", Required: true}},
			Outputs:     []OutputPort{{Key: "response", Type: "any"}},
			Actions:     []string{DefaultAction},
		},
	})

	r.Register("fail", Entry{
		Class: "FailNode",
		Kind:  KindCore,
		Interface: Interface{
			Description: "Always fails in exec; used in tests and as a harness for retry/error-routing paths.",
			Params: []ParamDef{
				{Key: "message", Type: "string", Required: false},
			},
			Outputs: []OutputPort{{Key: "error", Type: "string"}},
			Actions: []string{DefaultAction, "error"},
		},
	})
}
