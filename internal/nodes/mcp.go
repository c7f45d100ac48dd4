package nodes

import (
	"context"

	"github.com/spinje/pflow/internal/runtime"
	"github.com/spinje/pflow/internal/store"
)

// MCPCaller is the transport boundary for MCP tool invocations. The core
// does not ship a transport; hosts inject one.
type MCPCaller func(ctx context.Context, server, tool string, arguments map[string]any) (any, error)

// MCPNode is the generic node behind every mcp-<server>-<tool> type. The
// compiler injects the parsed server and tool via the reserved
// __mcp_server__ and __mcp_tool__ params.
//
// Params:
//   - arguments: object passed to the tool
type MCPNode struct {
	runtime.BaseNode
	Caller MCPCaller
}

type mcpCall struct {
	server string
	tool   string
	args   map[string]any
}

func (n *MCPNode) Prep(ctx context.Context, shared store.View) (any, error) {
	params := n.Params()
	server, _ := params[store.MCPServerKey].(string)
	tool, _ := params[store.MCPToolKey].(string)
	if server == "" || tool == "" {
		return nil, &runtime.ErrorRecord{
			Category:   runtime.CategoryValidation,
			Message:    "mcp node is missing its server/tool metadata",
			UserAction: "Use a node type of the form mcp-<server>-<tool>.",
		}
	}
	args, _ := params["arguments"].(map[string]any)
	return &mcpCall{server: server, tool: tool, args: args}, nil
}

func (n *MCPNode) Exec(ctx context.Context, prepRes any) (any, error) {
	call := prepRes.(*mcpCall)
	if n.Caller == nil {
		return nil, &runtime.ErrorRecord{
			Category:   runtime.CategoryMissingResource,
			Message:    "no MCP transport configured",
			UserAction: "Configure an MCP caller on the host before using mcp-* nodes.",
		}
	}
	return n.Caller(ctx, call.server, call.tool, call.args)
}

func (n *MCPNode) Post(ctx context.Context, shared store.View, prepRes, execRes any) (string, error) {
	shared.Set("result", execRes)
	return "default", nil
}
