package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// mockTransport implements Transport with pre-programmed responses.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage // method → result JSON
	failPing  bool
	closed    bool
	notified  []string // methods that were notified
	sent      []string // methods that were sent
}

func newMockTransport() *mockTransport {
	m := &mockTransport{
		responses: make(map[string]json.RawMessage),
	}
	m.responses[MethodPing] = json.RawMessage(`{}`)
	return m
}

// withInitialize configures the mock to respond to initialize with the given capabilities.
func (m *mockTransport) withInitialize(caps ServerCapabilities) *mockTransport {
	result := InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    caps,
		ServerInfo:      ServerInfo{Name: "mock-server", Version: "1.0"},
	}
	data, _ := json.Marshal(result)
	m.responses[MethodInitialize] = data
	return m
}

// withTools configures the mock to respond to tools/list with the given tools.
func (m *mockTransport) withTools(tools []ToolInfo) *mockTransport {
	result := ToolsListResult{Tools: tools}
	data, _ := json.Marshal(result)
	m.responses[MethodToolsList] = data
	return m
}

// withToolCall configures the mock to respond to tools/call with the given result.
func (m *mockTransport) withToolCall(toolResult ToolResult) *mockTransport {
	data, _ := json.Marshal(toolResult)
	m.responses[MethodToolsCall] = data
	return m
}

// withPrompts configures the mock to respond to prompts/list.
func (m *mockTransport) withPrompts(prompts []PromptInfo) *mockTransport {
	result := PromptsListResult{Prompts: prompts}
	data, _ := json.Marshal(result)
	m.responses[MethodPromptsList] = data
	return m
}

// withResponse configures a raw response for any method.
func (m *mockTransport) withResponse(method string, result json.RawMessage) *mockTransport {
	m.responses[method] = result
	return m
}

// withFailingPing makes subsequent pings return an error.
func (m *mockTransport) withFailingPing() *mockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPing = true
	return m
}

func (m *mockTransport) Send(_ context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return JSONRPCResponse{}, fmt.Errorf("transport closed")
	}
	m.sent = append(m.sent, req.Method)

	if req.Method == MethodPing && m.failPing {
		return JSONRPCResponse{}, fmt.Errorf("ping failed")
	}

	var id int64
	if req.ID != nil {
		id = *req.ID
	}

	result, ok := m.responses[req.Method]
	if !ok {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &JSONRPCError{Code: -32601, Message: "Method not found: " + req.Method},
		}, nil
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}, nil
}

func (m *mockTransport) Notify(_ context.Context, method string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("transport closed")
	}
	m.notified = append(m.notified, method)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
