package mcp

import (
	"context"
	"fmt"

	"github.com/parley-ai/parley/pkg/types"
)

// Transport abstracts bidirectional JSON-RPC communication with an MCP server.
type Transport interface {
	// Send sends a JSON-RPC request and returns the correlated response.
	Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error)
	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, method string, params any) error
	// Close terminates the transport connection.
	Close() error
}

// TransportFactory creates a transport for a server config. The registry
// takes one as a constructor argument so tests can inject mocks.
type TransportFactory func(ctx context.Context, cfg types.ServerConfig) (Transport, error)

// NewTransport is the default factory, selecting by connection kind.
func NewTransport(ctx context.Context, cfg types.ServerConfig) (Transport, error) {
	switch cfg.Kind {
	case types.KindProcess, "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("process transport requires a command")
		}
		return NewProcessTransport(cfg.Command, cfg.Args, cfg.Env)
	case types.KindStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("streamable-http transport requires a URL")
		}
		return NewHTTPTransport(cfg.URL, cfg.Headers), nil
	case types.KindSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires a URL")
		}
		return NewSSETransport(ctx, cfg.URL, cfg.Headers)
	case types.KindWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a URL")
		}
		return NewWebSocketTransport(ctx, cfg.URL, cfg.Headers)
	default:
		return nil, fmt.Errorf("unsupported connection kind: %q", cfg.Kind)
	}
}
