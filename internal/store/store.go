// Package store provides the shared state used by workflow executions: the
// per-node namespaced view over a root map, and the typed execution
// metadata kept under the reserved __execution__ key.
package store

import "strings"

// Reserved shared-state keys. Keys matching IsSpecialKey bypass per-node
// namespacing and always live at root scope.
const (
	ExecutionKey        = "__execution__"
	LLMCallsKey         = "__llm_calls__"
	TemplateErrorsKey   = "__template_errors__"
	WarningsKey         = "__warnings__"
	ProgressCallbackKey = "__progress_callback__"
	MCPServerKey        = "__mcp_server__"
	MCPToolKey          = "__mcp_tool__"

	DepthKey        = "_pflow_depth"
	StackKey        = "_pflow_stack"
	WorkflowFileKey = "_pflow_workflow_file"

	reservedPrefix = "_pflow_"
)

// IsSpecialKey reports whether key escapes namespacing: dunder keys
// (__...__) and the _pflow_ composition-control keys.
func IsSpecialKey(key string) bool {
	if strings.HasPrefix(key, reservedPrefix) {
		return true
	}
	return len(key) > 4 && strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__")
}

// View is the state surface a node sees during execution. Reads fall back
// from the node's namespace to root; writes to non-special keys are
// isolated into the node's namespace.
type View interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Contains(key string) bool
	SetDefault(key string, value any) any
	Keys() []string
	// Root exposes the underlying root map. Composition nodes need it to
	// construct child stores; ordinary nodes should not reach for it.
	Root() map[string]any
}

// Namespaced is a View that isolates a node's writes under root[nodeID].
type Namespaced struct {
	root   map[string]any
	nodeID string
}

// NewNamespaced creates the per-node view over root.
func NewNamespaced(root map[string]any, nodeID string) *Namespaced {
	return &Namespaced{root: root, nodeID: nodeID}
}

func (n *Namespaced) namespace(create bool) map[string]any {
	ns, ok := n.root[n.nodeID].(map[string]any)
	if !ok && create {
		ns = make(map[string]any)
		n.root[n.nodeID] = ns
	}
	return ns
}

// Get returns the value for key: root for special keys, otherwise the
// node's namespace first, then root.
func (n *Namespaced) Get(key string) (any, bool) {
	if IsSpecialKey(key) {
		v, ok := n.root[key]
		return v, ok
	}
	if ns := n.namespace(false); ns != nil {
		if v, ok := ns[key]; ok {
			return v, true
		}
	}
	v, ok := n.root[key]
	return v, ok
}

// Set writes value under key: root for special keys, the node's namespace
// otherwise.
func (n *Namespaced) Set(key string, value any) {
	if IsSpecialKey(key) {
		n.root[key] = value
		return
	}
	n.namespace(true)[key] = value
}

// Contains reports whether key is visible through this view.
func (n *Namespaced) Contains(key string) bool {
	_, ok := n.Get(key)
	return ok
}

// SetDefault returns the existing value for key, setting it to value first
// when absent.
func (n *Namespaced) SetDefault(key string, value any) any {
	if v, ok := n.Get(key); ok {
		return v
	}
	n.Set(key, value)
	return value
}

// Keys returns all keys visible through this view.
func (n *Namespaced) Keys() []string {
	seen := make(map[string]struct{}, len(n.root))
	keys := make([]string, 0, len(n.root))
	for k := range n.root {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range n.namespace(false) {
		if _, dup := seen[k]; !dup {
			keys = append(keys, k)
		}
	}
	return keys
}

// Root returns the underlying root map.
func (n *Namespaced) Root() map[string]any { return n.root }

// RootView is a View that reads and writes the root map directly, used
// when a workflow disables namespacing.
type RootView map[string]any

func (r RootView) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

func (r RootView) Set(key string, value any) { r[key] = value }

func (r RootView) Contains(key string) bool {
	_, ok := r[key]
	return ok
}

func (r RootView) SetDefault(key string, value any) any {
	if v, ok := r[key]; ok {
		return v
	}
	r[key] = value
	return value
}

func (r RootView) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

func (r RootView) Root() map[string]any { return r }
