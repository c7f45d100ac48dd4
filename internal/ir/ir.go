// Package ir defines the workflow intermediate representation: the
// declarative graph of nodes and edges that the runtime compiles and
// executes, plus its normalization and validation.
package ir

import (
	"encoding/json"
	"fmt"
)

// CurrentVersion is the IR version written by this implementation.
const CurrentVersion = "0.1.0"

// DefaultAction is the edge action used when a spec omits one.
const DefaultAction = "default"

// Workflow is the on-the-wire workflow definition.
type Workflow struct {
	IRVersion         string                `json:"ir_version,omitempty" yaml:"ir_version,omitempty"`
	Nodes             []NodeSpec            `json:"nodes" yaml:"nodes"`
	Edges             []EdgeSpec            `json:"edges" yaml:"edges"`
	StartNode         string                `json:"start_node,omitempty" yaml:"start_node,omitempty"`
	Inputs            map[string]InputSpec  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs           map[string]OutputSpec `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	EnableNamespacing *bool                 `json:"enable_namespacing,omitempty" yaml:"enable_namespacing,omitempty"`
}

// NodeSpec declares one unit of work in the graph.
type NodeSpec struct {
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Purpose string         `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// EdgeSpec connects two nodes. The edge is taken when the source node's
// post step returns Action and, if When is set, the expression evaluates
// truthy against the shared state.
type EdgeSpec struct {
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
	When   string `json:"when,omitempty" yaml:"when,omitempty"`
}

// InputSpec declares a workflow parameter.
type InputSpec struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    *bool  `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Stdin       bool   `json:"stdin,omitempty" yaml:"stdin,omitempty"`

	// HasDefault distinguishes "default": null from an absent default.
	HasDefault bool `json:"-" yaml:"-"`
}

// UnmarshalJSON records whether the default key was present, so a declared
// null default still marks the input optional.
func (s *InputSpec) UnmarshalJSON(data []byte) error {
	type alias InputSpec
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		_, a.HasDefault = probe["default"]
	}
	*s = InputSpec(a)
	return nil
}

// IsRequired reports whether the input must be supplied when it carries no
// default. Absent required defaults to true.
func (s InputSpec) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// OutputSpec declares one workflow output, resolved from the final shared
// state via the Source template.
type OutputSpec struct {
	Source      string `json:"source,omitempty" yaml:"source,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Namespacing reports whether per-node write isolation is enabled
// (the default).
func (w *Workflow) Namespacing() bool {
	return w.EnableNamespacing == nil || *w.EnableNamespacing
}

// Start returns the explicit start node, or the first node by declaration
// order.
func (w *Workflow) Start() string {
	if w.StartNode != "" {
		return w.StartNode
	}
	if len(w.Nodes) > 0 {
		return w.Nodes[0].ID
	}
	return ""
}

// Node returns the spec for id, or nil.
func (w *Workflow) Node(id string) *NodeSpec {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Normalized returns a copy with defaults applied: ir_version, a non-nil
// edges slice, and the default edge action. Normalization is idempotent.
func (w *Workflow) Normalized() *Workflow {
	out := *w
	if out.IRVersion == "" {
		out.IRVersion = CurrentVersion
	}
	out.Edges = make([]EdgeSpec, len(w.Edges))
	copy(out.Edges, w.Edges)
	for i := range out.Edges {
		if out.Edges[i].Action == "" {
			out.Edges[i].Action = DefaultAction
		}
	}
	out.Nodes = make([]NodeSpec, len(w.Nodes))
	copy(out.Nodes, w.Nodes)
	return &out
}

// FromMap decodes a Workflow from its map form (inline sub-workflow specs,
// parsed JSON files).
func FromMap(m map[string]any) (*Workflow, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode workflow map: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &wf, nil
}

// ToMap returns the JSON map form of the workflow.
func (w *Workflow) ToMap() (map[string]any, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode workflow map: %w", err)
	}
	return m, nil
}
