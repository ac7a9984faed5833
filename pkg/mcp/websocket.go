package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// WebSocketTransport speaks JSON-RPC over a WebSocket connection.
// Messages are sent as text frames containing JSON.
type WebSocketTransport struct {
	conn *websocket.Conn
	ctx  context.Context

	writeMu sync.Mutex

	pending map[int64]chan JSONRPCResponse
	pendMu  sync.Mutex

	done      chan struct{} // closed when the read loop exits
	closeOnce sync.Once
	cancel    func()
}

// NewWebSocketTransport dials the URL and starts the read loop. The
// connection outlives the dialing context; Close tears it down.
func NewWebSocketTransport(ctx context.Context, url string, headers map[string]string) (*WebSocketTransport, error) {
	hdr := http.Header{}
	for k, v := range headers {
		hdr.Set(k, v)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader:   hdr,
		Subprotocols: []string{"mcp"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &WebSocketTransport{
		conn:    conn,
		ctx:     connCtx,
		pending: make(map[int64]chan JSONRPCResponse),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go t.readLoop()

	return t, nil
}

// readLoop reads frames and dispatches responses to pending channels.
func (t *WebSocketTransport) readLoop() {
	defer close(t.done)

	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			return
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue // skip frames that aren't responses
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

// Send writes a request frame and waits for the correlated response.
func (t *WebSocketTransport) Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	if req.ID == nil {
		return JSONRPCResponse{}, fmt.Errorf("Send requires a request with an ID; use Notify for notifications")
	}
	id := *req.ID

	ch := make(chan JSONRPCResponse, 1)
	t.pendMu.Lock()
	t.pending[id] = ch
	t.pendMu.Unlock()

	if err := t.write(ctx, req); err != nil {
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
		return JSONRPCResponse{}, fmt.Errorf("websocket closed")
	}
}

// Notify writes a notification frame.
func (t *WebSocketTransport) Notify(ctx context.Context, method string, params any) error {
	return t.write(ctx, newNotification(method, params))
}

func (t *WebSocketTransport) write(ctx context.Context, msg JSONRPCRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a close frame and shuts down the read loop. Safe to call
// multiple times.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.conn.Close(websocket.StatusNormalClosure, "")
		t.cancel()
	})
	<-t.done
	return nil
}
