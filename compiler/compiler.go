// Package compiler turns an ir.Workflow into a linked graph of wrapped
// node.Instance values ready for the executor (spec §4.2).
//
// Grounded on petalflow's graph/definition.go: GraphDefinition.Validate's
// duplicate-id / edge-ref / cycle checks generalize into Workflow
// structural validation, and ValidateWithRegistry's registry-dependent
// pass (GR-003 unknown type, GR-006 bad output handle) generalizes into
// the semantic pass that checks node types and template resolvability
// against the registry. Diagnostic/Severity live in ir (shared with the
// planner's Validator state), mirroring graph.Diagnostic's shape.
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/registry"
	"github.com/pflow-dev/pflow/template"
)

// Factory constructs a node.Node implementation for a registry entry's
// node type. Hosts register factories for every node type their registry
// describes; the compiler itself has no built-in knowledge of node
// behavior (cli.CoreFactory covers the "noop"/"echo"/"fail" core set).
type Factory func(spec ir.NodeSpec, entry registry.Entry) (node.Node, error)

// Graph is the compiled, linked form of a Workflow: one node.Instance
// per IR node plus action-keyed successor edges, ready to run.
type Graph struct {
	Entry     string
	Instances map[string]*node.Instance
	Edges     map[string]map[string]string // from -> action -> to
	Batches   map[string]*ir.BatchSpec      // node id -> batch spec, for nodes the batch wrapper fans out
	Workflow  *ir.Workflow
}

// Successor returns the node id an action routes to from "from", if an
// edge with that action is wired. An empty action counts as "default";
// any other action with no matching edge has no successor.
func (g *Graph) Successor(from, action string) (string, bool) {
	if action == "" {
		action = ir.DefaultAction
	}
	edges, ok := g.Edges[from]
	if !ok {
		return "", false
	}
	to, ok := edges[action]
	return to, ok
}

// Compiler holds the dependencies the compile pass needs: a node-type
// registry and a set of factories for turning a resolved node type into
// a running node.Node.
type Compiler struct {
	Registry *registry.Registry
	Factory  Factory
}

// New creates a Compiler bound to reg and factory.
func New(reg *registry.Registry, factory Factory) *Compiler {
	return &Compiler{Registry: reg, Factory: factory}
}

// Compile runs the full pipeline (spec §4.2 steps 1-5): schema
// validation, registry resolution, semantic validation, instantiation,
// and linking. It returns diagnostics even on success (warnings); the
// caller should check ir.HasErrors(diags) before using g.
func (c *Compiler) Compile(wf *ir.Workflow) (g *Graph, diags []ir.Diagnostic, err error) {
	diags = c.Validate(wf)
	if ir.HasErrors(diags) {
		return nil, diags, fmt.Errorf("compiler: validation failed")
	}

	g, err = c.instantiate(wf)
	if err != nil {
		return nil, diags, err
	}
	return g, diags, nil
}

// Validate runs steps 1-3 of the pipeline (schema + semantic validation)
// without instantiating anything. Used standalone by the planner's
// Validator step, which needs diagnostics but never runs the generated
// workflow itself.
func (c *Compiler) Validate(wf *ir.Workflow) []ir.Diagnostic {
	diags := c.validateSchema(wf)
	if ir.HasErrors(diags) {
		return diags
	}
	return append(diags, c.validateSemantics(wf)...)
}

// validateSchema checks structure independent of the registry: GR-005
// equivalent (duplicate ids), GR-001 equivalent (edge endpoints exist),
// GR-004 equivalent (cycle detection), plus IR-specific identifier and
// version checks.
func (c *Compiler) validateSchema(wf *ir.Workflow) []ir.Diagnostic {
	var diags []ir.Diagnostic

	if wf.IRVersion != "" && wf.IRVersion != ir.SupportedVersion {
		diags = append(diags, ir.Diagnostic{
			Code:     "CP-001",
			Severity: ir.SeverityError,
			Message:  fmt.Sprintf("unsupported ir_version %q (supported: %q)", wf.IRVersion, ir.SupportedVersion),
			Path:     "ir_version",
		})
	}

	seen := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if !ir.ValidIdentifier(n.ID) {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-002",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("node id %q is not a valid identifier", n.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		if seen[n.ID] {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-003",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("duplicate node id %q", n.ID),
				Path:     fmt.Sprintf("nodes[%d].id", i),
			})
		}
		seen[n.ID] = true
		if n.Type == "" {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-004",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("node %q has no type", n.ID),
				Path:     fmt.Sprintf("nodes[%d].type", i),
			})
		}
	}

	for i, e := range wf.Edges {
		if !seen[e.From] {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-005",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("edge[%d] references unknown source node %q", i, e.From),
				Path:     fmt.Sprintf("edges[%d].from", i),
			})
		}
		if !seen[e.To] {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-005",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("edge[%d] references unknown target node %q", i, e.To),
				Path:     fmt.Sprintf("edges[%d].to", i),
			})
		}
	}

	if cycle := detectCycle(wf); cycle != "" {
		diags = append(diags, ir.Diagnostic{
			Code:     "CP-006",
			Severity: ir.SeverityError,
			Message:  fmt.Sprintf("workflow contains a cycle: %s", cycle),
		})
	}

	for name, out := range wf.Outputs {
		if out.Source == "" {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-007",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("declared output %q has no source", name),
				Path:     fmt.Sprintf("outputs.%s.source", name),
			})
		}
	}

	return diags
}

// validateSemantics runs the registry-dependent pass: node type
// existence, and resolvability of the root of every template variable
// against a declared input, an earlier node's id, or (in a batch node's
// params) the batch item alias. Only the root is checked: the rest of
// the path is not compared with the earlier node type's declared outputs.
func (c *Compiler) validateSemantics(wf *ir.Workflow) []ir.Diagnostic {
	var diags []ir.Diagnostic
	if c.Registry == nil {
		return diags
	}

	available := make(map[string]bool, len(wf.Inputs))
	for name := range wf.Inputs {
		available[name] = true
	}

	for i, n := range wf.Nodes {
		entry, ok := c.Registry.Get(n.Type)
		if !ok {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-010",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("node %q references unknown type %q", n.ID, n.Type),
				Path:     fmt.Sprintf("nodes[%d].type", i),
			})
			available[n.ID] = true
			continue
		}

		avail := available
		if n.Batch != nil {
			avail = make(map[string]bool, len(available)+1)
			for k, v := range available {
				avail[k] = v
			}
			avail[n.Batch.AsOrDefault()] = true
		}
		diags = append(diags, c.validateNodeTemplates(n, avail)...)
		_ = entry
		available[n.ID] = true
	}

	for name, out := range wf.Outputs {
		if out.Source == "" {
			continue
		}
		if vars, err := template.ExtractVariables(out.Source); err == nil {
			for _, v := range vars {
				root := strings.SplitN(v, ".", 2)[0]
				root = strings.SplitN(root, "[", 2)[0]
				if !available[root] {
					diags = append(diags, ir.Diagnostic{
						Code:     "CP-011",
						Severity: ir.SeverityError,
						Message:  fmt.Sprintf("output %q source references unresolvable root %q", name, root),
						Path:     fmt.Sprintf("outputs.%s.source", name),
					})
				}
			}
		}
	}

	return diags
}

func (c *Compiler) validateNodeTemplates(n ir.NodeSpec, available map[string]bool) []ir.Diagnostic {
	var diags []ir.Diagnostic
	walkStrings(n.Params, func(path, s string) {
		vars, err := template.ExtractVariables(s)
		if err != nil {
			diags = append(diags, ir.Diagnostic{
				Code:     "CP-012",
				Severity: ir.SeverityError,
				Message:  fmt.Sprintf("node %q param %q: %v", n.ID, path, err),
			})
			return
		}
		for _, v := range vars {
			root := strings.SplitN(v, ".", 2)[0]
			root = strings.SplitN(root, "[", 2)[0]
			if !available[root] {
				diags = append(diags, ir.Diagnostic{
					Code:     "CP-013",
					Severity: ir.SeverityError,
					Message:  fmt.Sprintf("node %q param %q references unresolvable variable %q", n.ID, path, v),
				})
			}
		}
	})
	return diags
}

// walkStrings visits every string leaf in a params tree (maps/slices),
// calling fn with a dotted path (for diagnostics) and the string value.
func walkStrings(v any, fn func(path, s string)) {
	var walk func(path string, v any)
	walk = func(path string, v any) {
		switch t := v.(type) {
		case string:
			fn(path, t)
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sub := k
				if path != "" {
					sub = path + "." + k
				}
				walk(sub, t[k])
			}
		case []any:
			for i, item := range t {
				walk(fmt.Sprintf("%s[%d]", path, i), item)
			}
		}
	}
	walk("", v)
}

// instantiate builds one node.Instance per IR node and links successor
// edges keyed by action (spec §4.2 steps 4-5).
func (c *Compiler) instantiate(wf *ir.Workflow) (*Graph, error) {
	g := &Graph{
		Instances: make(map[string]*node.Instance, len(wf.Nodes)),
		Edges:     make(map[string]map[string]string, len(wf.Nodes)),
		Batches:   make(map[string]*ir.BatchSpec),
		Workflow:  wf,
	}
	if len(wf.Nodes) > 0 {
		g.Entry = wf.Nodes[0].ID
	}

	for _, n := range wf.Nodes {
		entry, ok := c.Registry.Get(n.Type)
		if !ok {
			return nil, fmt.Errorf("compiler: node %q: unknown type %q", n.ID, n.Type)
		}
		impl, err := c.Factory(n, entry)
		if err != nil {
			return nil, fmt.Errorf("compiler: node %q: %w", n.ID, err)
		}

		inst := node.NewInstance(n.ID, impl, n.Params)
		if rp, ok := retryPolicyFromParams(n.Params); ok {
			inst.Retry = rp
		}
		g.Instances[n.ID] = inst
		if n.Batch != nil {
			g.Batches[n.ID] = n.Batch
		}
	}

	for _, e := range wf.Edges {
		if g.Edges[e.From] == nil {
			g.Edges[e.From] = make(map[string]string)
		}
		g.Edges[e.From][e.ActionOrDefault()] = e.To
	}

	return g, nil
}

func retryPolicyFromParams(params map[string]any) (node.RetryPolicy, bool) {
	raw, ok := params["_retry"]
	if !ok {
		return node.RetryPolicy{}, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return node.RetryPolicy{}, false
	}
	rp := node.DefaultRetryPolicy()
	if v, ok := m["max_retries"].(int); ok {
		rp.MaxRetries = v
	} else if v, ok := m["max_retries"].(float64); ok {
		rp.MaxRetries = int(v)
	}
	return rp, true
}

// detectCycle runs a Kahn's-algorithm topological sort over wf's nodes
// and edges, returning the sorted, comma-separated ids of every node the
// sort could not place (nodes on a cycle or downstream of one), or "" if
// the graph is acyclic.
func detectCycle(wf *ir.Workflow) string {
	indegree := make(map[string]int, len(wf.Nodes))
	adj := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		if _, ok := indegree[e.To]; !ok {
			continue
		}
		if _, ok := indegree[e.From]; !ok {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		indegree[e.To]++
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		next := append([]string(nil), adj[id]...)
		sort.Strings(next)
		for _, succ := range next {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited < len(wf.Nodes) {
		var remaining []string
		for id, d := range indegree {
			if d > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return strings.Join(remaining, ", ")
	}
	return ""
}
