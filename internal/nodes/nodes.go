// Package nodes provides the built-in node types the execution core ships
// with. The broader node library (shell, HTTP, LLM, file I/O) lives
// outside the core and registers its own types the same way.
package nodes

import "github.com/spinje/pflow/internal/runtime"

// DefaultRegistry returns a node registry pre-loaded with the built-in
// types: echo, code, and the generic mcp node.
func DefaultRegistry() *runtime.NodeRegistry {
	r := runtime.NewNodeRegistry()
	r.Register("echo", runtime.Definition{
		New: func() runtime.Node { return &EchoNode{} },
	})
	r.Register("code", runtime.Definition{
		New:        func() runtime.Node { return &CodeNode{} },
		ParamTypes: map[string]string{"code": "string", "inputs": "object"},
	})
	r.Register("mcp", runtime.Definition{
		New:        func() runtime.Node { return &MCPNode{} },
		ParamTypes: map[string]string{"arguments": "object"},
	})
	return r
}
