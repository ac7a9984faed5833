package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const sessionIDHeader = "Mcp-Session-Id"

// HTTPTransport speaks Streamable HTTP: each JSON-RPC request is an HTTP
// POST, and the response may be immediate JSON or an SSE stream.
type HTTPTransport struct {
	url       string
	headers   map[string]string
	client    *http.Client
	sessionID string // Mcp-Session-Id assigned by the server
	mu        sync.Mutex
}

// NewHTTPTransport creates a streamable HTTP transport for the given URL
// with optional custom headers.
func NewHTTPTransport(url string, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{},
	}
}

// Send posts a JSON-RPC request and returns the correlated response.
func (t *HTTPTransport) Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return JSONRPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return JSONRPCResponse{}, fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return JSONRPCResponse{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return JSONRPCResponse{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return t.parseSSEResponse(ctx, resp.Body, req.ID)
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return JSONRPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return rpcResp, nil
}

// parseSSEResponse reads an SSE stream until the response matching the
// request ID arrives.
func (t *HTTPTransport) parseSSEResponse(ctx context.Context, body io.Reader, reqID *int64) (JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return JSONRPCResponse{}, ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue // skip unparseable
		}

		if reqID == nil || resp.ID == *reqID {
			return resp, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return JSONRPCResponse{}, fmt.Errorf("sse stream: %w", err)
	}
	return JSONRPCResponse{}, fmt.Errorf("sse stream ended without matching response")
}

// Notify posts a notification; no response body is expected.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	body, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("http %d for notification", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("MCP-Protocol-Version", protocolVersion)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(sessionIDHeader, t.sessionID)
	}
	t.mu.Unlock()
}

// Close is a no-op for HTTP transport (stateless per-request).
func (t *HTTPTransport) Close() error {
	return nil
}
