package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"funnel/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
)

// protocolVersion is the MCP revision funnel speaks to downstreams.
const protocolVersion = "2024-11-05"

// Client drives the MCP protocol over a Transport: handshake, tool listing,
// tool calls, ping. One Client owns one Transport for its lifetime.
type Client struct {
	server    string
	transport Transport

	mu          sync.RWMutex
	initialized bool
}

// NewClient wraps transport for the named server.
func NewClient(server string, t Transport) *Client {
	return &Client{server: server, transport: t}
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// Initialize performs the MCP handshake. The transport must be started.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "funnel",
			"version": "1.0.0",
		},
	}
	raw, err := c.transport.Send(ctx, NewRequest("initialize", params))
	if err != nil {
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	var result struct {
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}

	// The initialized notification completes the handshake.
	if _, err := c.transport.Send(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.initialized = true
	logging.Debug("MCPClient", "Server %s initialized (%s %s)",
		c.server, result.ServerInfo.Name, result.ServerInfo.Version)
	return nil
}

// ListTools returns all tools the downstream advertises, following cursors.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var all []mcp.Tool
	cursor := ""
	for {
		params := map[string]interface{}{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := c.transport.Send(ctx, NewRequest("tools/list", params))
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}

		var result struct {
			Tools      []mcp.Tool `json:"tools"`
			NextCursor string     `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to parse tools/list result: %w", err)
		}
		all = append(all, result.Tools...)
		if result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// CallTool invokes a tool by its downstream (original) name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	params := map[string]interface{}{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	raw, err := c.transport.Send(ctx, NewRequest("tools/call", params))
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}

	// Content entries are polymorphic; mcp-go's parser handles the variants.
	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tools/call result: %w", err)
	}
	return result, nil
}

// Ping checks the downstream is responsive. Servers that do not implement
// ping are treated as healthy: a method-not-found reply means the connection
// round-tripped.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.transport.Send(ctx, NewRequest("ping", map[string]interface{}{}))
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == -32601 {
			logging.Debug("MCPClient", "Server %s does not implement ping", c.server)
			return nil
		}
		return err
	}
	return nil
}

// Close shuts down the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return c.transport.Close()
}
