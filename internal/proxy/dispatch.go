package proxy

import (
	"context"
	"fmt"
	"time"

	"funnel/pkg/logging"
	"funnel/pkg/redact"

	"github.com/mark3labs/mcp-go/mcp"
)

// makeCallHandler builds the upstream handler for one exposed tool name.
func (p *Proxy) makeCallHandler(exposedName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]interface{}{}
		if m, ok := req.Params.Arguments.(map[string]interface{}); ok {
			args = m
		}
		result, err := p.CallTool(ctx, exposedName, args)
		if err != nil {
			return mcp.NewToolResultError(redact.String(err.Error())), nil
		}
		return result, nil
	}
}

// CallTool dispatches a namespaced tool call to its downstream. The routing
// table supplies the original (pre-override) name; arguments pass through
// untouched and the downstream result returns verbatim.
func (p *Proxy) CallTool(ctx context.Context, exposedName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	entry, ok := p.resolve(exposedName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, exposedName)
	}

	mgr, ok := p.managers[entry.server]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, exposedName)
	}
	client, err := mgr.Client()
	if err != nil {
		// Fail fast; never block a call on reconnection.
		return nil, fmt.Errorf("%w: %s", ErrServerNotConnected, entry.server)
	}

	p.metrics.ToolCalls.WithLabelValues(entry.server).Inc()
	start := time.Now()
	result, err := client.CallTool(ctx, entry.original, args)
	p.metrics.ToolCallDuration.WithLabelValues(entry.server).Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.ToolCallErrors.WithLabelValues(entry.server).Inc()
		logging.Warn("Proxy", "Tool call %s failed on %s: %v", exposedName, entry.server, err)
		return nil, err
	}
	return result, nil
}
