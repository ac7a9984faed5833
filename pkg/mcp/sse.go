package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// endpointWait bounds how long connection setup waits for the server's
// endpoint event before falling back to posting at the stream URL.
const endpointWait = 2 * time.Second

// SSETransport holds a persistent GET event stream open for responses and
// posts each JSON-RPC request to the endpoint the server advertises.
type SSETransport struct {
	postURL string
	headers map[string]string
	client  *http.Client

	cancel func()
	body   io.ReadCloser

	pending map[int64]chan JSONRPCResponse
	pendMu  sync.Mutex

	endpointMu   sync.Mutex
	endpointOnce sync.Once
	endpointSet  chan struct{} // closed once an endpoint event arrives

	done chan struct{} // closed when the stream reader exits
}

// NewSSETransport opens the event stream and starts the reader. The stream
// stays open until Close; responses arriving on it are correlated to
// pending requests by ID.
func NewSSETransport(ctx context.Context, rawURL string, headers map[string]string) (*SSETransport, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("MCP-Protocol-Version", protocolVersion)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("event stream status %d", resp.StatusCode)
	}

	t := &SSETransport{
		postURL:     rawURL, // default POST endpoint is the stream URL
		headers:     headers,
		client:      client,
		cancel:      cancel,
		body:        resp.Body,
		pending:     make(map[int64]chan JSONRPCResponse),
		endpointSet: make(chan struct{}),
		done:        make(chan struct{}),
	}

	go t.readLoop(resp.Body, rawURL)

	// Legacy HTTP+SSE servers advertise their POST endpoint as the first
	// stream event; posting the handshake before it arrives would hit the
	// wrong URL. A server that never sends one keeps the stream URL.
	select {
	case <-t.endpointSet:
	case <-t.done:
	case <-time.After(endpointWait):
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	}

	return t, nil
}

// readLoop parses SSE events off the stream. An "endpoint" event updates
// the POST URL (legacy HTTP+SSE servers); "message" events carry JSON-RPC
// responses.
func (t *SSETransport) readLoop(body io.ReadCloser, baseURL string) {
	defer func() {
		body.Close()
		close(t.done)
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	var data []string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// End of event
			if len(data) > 0 {
				t.handleEvent(event, strings.Join(data, "\n"), baseURL)
			}
			event = ""
			data = nil
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func (t *SSETransport) handleEvent(event, data, baseURL string) {
	switch event {
	case "endpoint":
		base, err := url.Parse(baseURL)
		if err != nil {
			return
		}
		ref, err := url.Parse(data)
		if err != nil {
			return
		}
		t.endpointMu.Lock()
		t.postURL = base.ResolveReference(ref).String()
		t.endpointMu.Unlock()
		t.endpointOnce.Do(func() { close(t.endpointSet) })
	case "message", "":
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return
		}
		t.pendMu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.pendMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// Send posts a request and waits for its response on the event stream.
func (t *SSETransport) Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	if req.ID == nil {
		return JSONRPCResponse{}, fmt.Errorf("Send requires a request with an ID; use Notify for notifications")
	}
	id := *req.ID

	ch := make(chan JSONRPCResponse, 1)
	t.pendMu.Lock()
	t.pending[id] = ch
	t.pendMu.Unlock()

	if err := t.post(ctx, req); err != nil {
		t.pendMu.Lock()
		delete(t.pending, id)
		t.pendMu.Unlock()
		return JSONRPCResponse{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.pendMu.Lock()
		delete(t.pending, id)
		t.pendMu.Unlock()
		return JSONRPCResponse{}, ctx.Err()
	case <-t.done:
		t.pendMu.Lock()
		delete(t.pending, id)
		t.pendMu.Unlock()
		return JSONRPCResponse{}, fmt.Errorf("event stream closed")
	}
}

// Notify posts a notification.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	return t.post(ctx, newNotification(method, params))
}

func (t *SSETransport) post(ctx context.Context, msg JSONRPCRequest) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	t.endpointMu.Lock()
	postURL := t.postURL
	t.endpointMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("MCP-Protocol-Version", protocolVersion)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post status %d", resp.StatusCode)
	}
	return nil
}

// Close cancels the stream request and waits for the reader to exit.
func (t *SSETransport) Close() error {
	t.cancel()
	t.body.Close()
	<-t.done
	return nil
}
