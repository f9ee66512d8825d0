package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/nextlevelbuilder/pinchy/internal/tools"
)

// BridgeTool adapts one tool discovered on a remote MCP server to the
// local tools.Tool interface, so the registry and policy engine can
// treat it like any built-in tool.
type BridgeTool struct {
	server       string
	originalName string
	toolPrefix   string
	description  string
	parameters   map[string]interface{}
	client       *mcpclient.Client
	timeout      time.Duration
	connected    *atomic.Bool
}

// NewBridgeTool wraps a tool discovered via ListTools on an MCP server.
// toolPrefix, when set, is prepended to the registry-visible name so
// tools from different servers never collide (e.g. "github_list_issues").
func NewBridgeTool(server string, def mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if def.InputSchema.Properties != nil {
		schema["properties"] = def.InputSchema.Properties
	}
	if len(def.InputSchema.Required) > 0 {
		schema["required"] = def.InputSchema.Required
	}

	return &BridgeTool{
		server:       server,
		originalName: def.Name,
		toolPrefix:   toolPrefix,
		description:  def.Description,
		parameters:   schema,
		client:       client,
		timeout:      time.Duration(timeoutSec) * time.Second,
		connected:    connected,
	}
}

// Name returns the registry-visible name. A configured toolPrefix replaces
// the server name prefix so callers can pin a short, stable alias.
func (b *BridgeTool) Name() string {
	prefix := b.server
	if b.toolPrefix != "" {
		prefix = b.toolPrefix
	}
	return prefix + "_" + b.originalName
}

// OriginalName returns the tool's name as advertised by the remote server.
func (b *BridgeTool) OriginalName() string {
	return b.originalName
}

func (b *BridgeTool) Description() string {
	return fmt.Sprintf("[mcp:%s] %s", b.server, b.description)
}

func (b *BridgeTool) Parameters() map[string]interface{} {
	return b.parameters
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %q is not connected", b.server))
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if b.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.originalName
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp tool %q failed: %v", b.Name(), err))
	}

	text := renderMCPContent(res)
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

func renderMCPContent(res *mcpgo.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

