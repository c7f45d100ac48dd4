package ir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spinje/pflow/internal/store"
	"github.com/spinje/pflow/internal/template"
)

// ValidationError is a single problem found during validation.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors aggregates every problem found in one pass. Validation
// never stops at the first error: callers driving automated repair need
// the full list.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("workflow validation failed: %s", strings.Join(msgs, "; "))
}

// Validator runs structural and cross-referential checks over a workflow.
// KnownType, when set, is consulted for node types that are not one of the
// reserved forms (workflow, code, mcp-<server>-<tool>); leave it nil to
// skip node-type validation when no registry is available.
type Validator struct {
	KnownType func(string) bool
}

// Validate checks wf and returns every problem found. A nil or empty
// result means the workflow is valid. The workflow should be normalized
// first.
func (v *Validator) Validate(wf *Workflow) ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, validateStructure(wf)...)

	ids := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if ids[n.ID] {
			errs = append(errs, ValidationError{Path: "nodes", Message: fmt.Sprintf("duplicate node id %q", n.ID)})
		}
		ids[n.ID] = true
	}

	for i, e := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if !ids[e.From] {
			errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("edge references unknown node %q", e.From)})
		}
		if !ids[e.To] {
			errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("edge references unknown node %q", e.To)})
		}
		if e.Action == "" {
			errs = append(errs, ValidationError{Path: path, Message: "edge action must be a non-empty string"})
		}
	}

	if wf.StartNode != "" && !ids[wf.StartNode] {
		errs = append(errs, ValidationError{Path: "start_node", Message: fmt.Sprintf("start_node %q is not a node in this workflow", wf.StartNode)})
	}

	if err := checkAcyclic(wf); err != nil {
		errs = append(errs, ValidationError{Path: "edges", Message: err.Error()})
	}

	if v.KnownType != nil {
		for _, n := range wf.Nodes {
			if !v.isKnownType(n.Type) {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("nodes.%s", n.ID),
					Message: fmt.Sprintf("unknown node type %q", n.Type),
				})
			}
		}
	}

	errs = append(errs, v.validateTemplates(wf, ids)...)
	errs = append(errs, v.validateOutputs(wf, ids)...)

	return errs
}

func (v *Validator) isKnownType(t string) bool {
	if t == "workflow" || t == "code" {
		return true
	}
	if server, tool, ok := SplitMCPType(t); ok && server != "" && tool != "" {
		return true
	}
	return v.KnownType(t)
}

// SplitMCPType parses a node type of the form mcp-<server>-<tool>. The
// split is at the first two dashes, so underscores in the tool name are
// preserved. A bare "mcp-" prefix with a missing server or tool is not an
// MCP type.
func SplitMCPType(t string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(t, "mcp-")
	if !found || rest == "" {
		return "", "", false
	}
	server, tool, found = strings.Cut(rest, "-")
	if !found || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// checkAcyclic rejects cyclic edge graphs with Kahn's algorithm.
func checkAcyclic(wf *Workflow) error {
	inDegree := make(map[string]int, len(wf.Nodes))
	children := make(map[string][]string)
	for _, n := range wf.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		if _, ok := inDegree[e.From]; !ok {
			continue
		}
		if _, ok := inDegree[e.To]; !ok {
			continue
		}
		children[e.From] = append(children[e.From], e.To)
		inDegree[e.To]++
	}
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, c := range children[id] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited != len(wf.Nodes) {
		return fmt.Errorf("cycle detected in workflow graph")
	}
	return nil
}

// ancestors returns, for every node, the set of nodes from which it is
// reachable over the edge graph (any action).
func ancestors(wf *Workflow) map[string]map[string]bool {
	parents := make(map[string][]string)
	for _, e := range wf.Edges {
		parents[e.To] = append(parents[e.To], e.From)
	}
	anc := make(map[string]map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		set := make(map[string]bool)
		queue := append([]string(nil), parents[n.ID]...)
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if set[p] {
				continue
			}
			set[p] = true
			queue = append(queue, parents[p]...)
		}
		anc[n.ID] = set
	}
	return anc
}

// collectTemplateVars walks a node's params recursively and returns every
// template variable path found in string leaves.
func collectTemplateVars(v any) []string {
	switch val := v.(type) {
	case string:
		return template.ExtractVariables(val)
	case map[string]any:
		var out []string
		for _, item := range val {
			out = append(out, collectTemplateVars(item)...)
		}
		return out
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, collectTemplateVars(item)...)
		}
		return out
	default:
		return nil
	}
}

// validateTemplates checks every template variable used in node params:
// the root name must be a declared input, another node's id, or a reserved
// key; node references must point at an upstream node. It also reports
// declared inputs that no template ever references. The inline workflow_ir
// of a "workflow" node is skipped: its templates resolve in the child's own
// scope and are validated when the child is compiled.
func (v *Validator) validateTemplates(wf *Workflow, ids map[string]bool) ValidationErrors {
	var errs ValidationErrors
	anc := ancestors(wf)
	usedInputs := make(map[string]bool)

	for _, n := range wf.Nodes {
		params := n.Params
		if n.Type == "workflow" {
			params = make(map[string]any, len(n.Params))
			for k, val := range n.Params {
				if k != "workflow_ir" {
					params[k] = val
				}
			}
		}
		for _, path := range collectTemplateVars(params) {
			root, _, _ := strings.Cut(path, ".")
			switch {
			case store.IsSpecialKey(root):
				// Reserved keys always resolve to root scope.
			case wf.Inputs != nil && hasInput(wf.Inputs, root):
				usedInputs[root] = true
			case ids[root]:
				if root == n.ID {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("nodes.%s.params", n.ID),
						Message: fmt.Sprintf("template ${%s} references the node's own output", path),
					})
				} else if !anc[n.ID][root] {
					errs = append(errs, ValidationError{
						Path:    fmt.Sprintf("nodes.%s.params", n.ID),
						Message: fmt.Sprintf("template ${%s} references node %q, which is not upstream of %q", path, root, n.ID),
					})
				}
			default:
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("nodes.%s.params", n.ID),
					Message: fmt.Sprintf("template ${%s} does not match any declared input, node id, or reserved key", path),
				})
			}
		}
	}

	for _, spec := range wf.Outputs {
		for _, path := range collectTemplateVars(spec.Source) {
			root, _, _ := strings.Cut(path, ".")
			if wf.Inputs != nil && hasInput(wf.Inputs, root) {
				usedInputs[root] = true
			}
		}
	}

	var unused []string
	for name := range wf.Inputs {
		if !usedInputs[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	for _, name := range unused {
		errs = append(errs, ValidationError{
			Path:    "inputs",
			Message: fmt.Sprintf("unused input %q: declared but never referenced as ${%s...}", name, name),
		})
	}

	return errs
}

func hasInput(inputs map[string]InputSpec, name string) bool {
	_, ok := inputs[name]
	return ok
}

// validateOutputs checks that every output source template points at a
// node output, declared input, or reserved key that exists structurally.
func (v *Validator) validateOutputs(wf *Workflow, ids map[string]bool) ValidationErrors {
	var errs ValidationErrors
	for name, spec := range wf.Outputs {
		if spec.Source == "" {
			continue
		}
		for _, path := range collectTemplateVars(spec.Source) {
			root, _, _ := strings.Cut(path, ".")
			if store.IsSpecialKey(root) || ids[root] || (wf.Inputs != nil && hasInput(wf.Inputs, root)) {
				continue
			}
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("outputs.%s", name),
				Message: fmt.Sprintf("source template ${%s} does not resolve to any node output or input", path),
			})
		}
	}
	return errs
}
