package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/parley-ai/parley/pkg/types"
)

// Connection is a live, initialized session to one MCP server. It is owned
// by the Registry and must not be closed by other callers; use
// Registry.Release instead.
type Connection struct {
	Config       types.ServerConfig
	Info         *ServerInfo
	Capabilities *ServerCapabilities

	transport Transport
	nextID    atomic.Int64
}

// NewConnection wraps a transport; the connection is unusable until
// Handshake succeeds.
func NewConnection(cfg types.ServerConfig, transport Transport) *Connection {
	return &Connection{Config: cfg, transport: transport}
}

// Handshake runs the MCP initialization sequence: initialize request,
// initialized notification, capability capture.
func (c *Connection) Handshake(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      ClientInfo{Name: "parley", Version: "0.1.0"},
	}

	resp, err := c.transport.Send(ctx, newRequest(c.nextID.Add(1), MethodInitialize, params))
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize error: %s", resp.Error.Message)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.Info = &result.ServerInfo
	c.Capabilities = &result.Capabilities

	if err := c.transport.Notify(ctx, MethodInitialized, nil); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}
	return nil
}

// Ping probes liveness. A failed ping means the session should be
// discarded and recreated.
func (c *Connection) Ping(ctx context.Context) error {
	resp, err := c.transport.Send(ctx, newRequest(c.nextID.Add(1), MethodPing, nil))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// ListTools returns the server's tool inventory. Servers that don't
// declare the tools capability return an empty list without a round trip.
func (c *Connection) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if c.Capabilities != nil && c.Capabilities.Tools == nil {
		return nil, nil
	}
	var result ToolsListResult
	if err := c.call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// ListPrompts returns the server's prompt templates.
func (c *Connection) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	if c.Capabilities != nil && c.Capabilities.Prompts == nil {
		return nil, nil
	}
	var result PromptsListResult
	if err := c.call(ctx, MethodPromptsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt expands a prompt template with the given arguments.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptGetResult, error) {
	var result PromptGetResult
	if err := c.call(ctx, MethodPromptsGet, PromptGetParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources returns the server's resource inventory.
func (c *Connection) ListResources(ctx context.Context) ([]Resource, error) {
	if c.Capabilities != nil && c.Capabilities.Resources == nil {
		return nil, nil
	}
	var result ResourcesListResult
	if err := c.call(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource fetches the content of one resource by URI.
func (c *Connection) ReadResource(ctx context.Context, uri string) (*ResourceReadResult, error) {
	var result ResourceReadResult
	if err := c.call(ctx, MethodResourcesRead, ResourceReadParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool executes a tool on the server. A server-reported tool failure
// comes back as a result with IsError set, not as an error.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	var result ToolResult
	if err := c.call(ctx, MethodToolsCall, ToolCallParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call sends one request and decodes the result into out.
func (c *Connection) call(ctx context.Context, method string, params, out any) error {
	resp, err := c.transport.Send(ctx, newRequest(c.nextID.Add(1), method, params))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("parse %s result: %w", method, err)
	}
	return nil
}

// Close tears down the underlying transport.
func (c *Connection) Close() error {
	return c.transport.Close()
}
