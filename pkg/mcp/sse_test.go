package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// sseFixture is a legacy HTTP+SSE server: the GET stream announces a
// separate POST endpoint, and responses to posted requests flow back over
// the stream.
type sseFixture struct {
	mu        sync.Mutex
	postPaths []string

	responses chan JSONRPCResponse
	server    *httptest.Server
}

func newSSEFixture(t *testing.T) *sseFixture {
	t.Helper()

	f := &sseFixture{responses: make(chan JSONRPCResponse, 4)}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected %s to the stream URL", r.Method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprintf(w, "event: endpoint\ndata: /rpc\n\n")
		flusher.Flush()

		for {
			select {
			case resp := <-f.responses:
				data, _ := json.Marshal(resp)
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.postPaths = append(f.postPaths, r.URL.Path)
		f.mu.Unlock()

		if req.ID != nil {
			f.responses <- JSONRPCResponse{
				JSONRPC: "2.0",
				ID:      *req.ID,
				Result:  json.RawMessage(`{"tools":[]}`),
			}
		}
		w.WriteHeader(http.StatusAccepted)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func TestSSETransportEndpointRewrite(t *testing.T) {
	f := newSSEFixture(t)

	transport, err := NewSSETransport(context.Background(), f.server.URL+"/stream", nil)
	if err != nil {
		t.Fatalf("NewSSETransport() error = %v", err)
	}
	defer transport.Close()

	// The very first request must already hit the advertised endpoint,
	// not the stream URL.
	resp, err := transport.Send(context.Background(), newRequest(7, MethodToolsList, nil))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.ID != 7 {
		t.Errorf("ID = %d, want 7", resp.ID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.postPaths) != 1 || f.postPaths[0] != "/rpc" {
		t.Errorf("post paths = %v, want one POST to /rpc", f.postPaths)
	}
}

func TestSSETransportCorrelatesByID(t *testing.T) {
	f := newSSEFixture(t)

	transport, err := NewSSETransport(context.Background(), f.server.URL+"/stream", nil)
	if err != nil {
		t.Fatalf("NewSSETransport() error = %v", err)
	}
	defer transport.Close()

	// An unrelated response on the stream must not satisfy our request.
	f.responses <- JSONRPCResponse{JSONRPC: "2.0", ID: 999, Result: json.RawMessage(`{}`)}

	resp, err := transport.Send(context.Background(), newRequest(3, MethodPing, nil))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.ID != 3 {
		t.Errorf("ID = %d, want 3", resp.ID)
	}
}

func TestSSETransportNotify(t *testing.T) {
	f := newSSEFixture(t)

	transport, err := NewSSETransport(context.Background(), f.server.URL+"/stream", nil)
	if err != nil {
		t.Fatalf("NewSSETransport() error = %v", err)
	}
	defer transport.Close()

	if err := transport.Notify(context.Background(), MethodInitialized, nil); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.postPaths) != 1 || f.postPaths[0] != "/rpc" {
		t.Errorf("post paths = %v, want the notification at /rpc", f.postPaths)
	}
}

func TestSSETransportSendRequiresID(t *testing.T) {
	transport := &SSETransport{}
	if _, err := transport.Send(context.Background(), newNotification(MethodInitialized, nil)); err == nil {
		t.Error("Send() accepted a request without an ID")
	}
}
