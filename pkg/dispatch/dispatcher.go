package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/parley-ai/parley/pkg/mcp"
	"github.com/parley-ai/parley/pkg/types"
)

// Request describes one tool invocation. CallID is the cancellation
// handle; when empty a fresh id is generated.
type Request struct {
	CallID   string
	Server   types.ServerConfig
	ToolName string
	Args     map[string]any
}

// Result is the outcome of one invocation. Transport failures, timeouts,
// cancellations and server-reported tool errors all surface here with
// IsError set — the dispatcher never retries.
type Result struct {
	CallID  string
	Content []mcp.ContentBlock
	IsError bool
}

// Text concatenates the text content blocks of the result.
func (r Result) Text() string {
	tr := mcp.ToolResult{Content: r.Content}
	return tr.Text()
}

// ErrCallIDInUse is returned when a caller reuses a callId that still has
// an outstanding invocation.
var ErrCallIDInUse = errors.New("dispatch: callId already in flight")

// Dispatcher executes tool invocations against the right session with a
// per-server deadline and out-of-band cancellation by callId.
type Dispatcher struct {
	registry *mcp.Registry

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates a dispatcher over the given session registry.
func New(registry *mcp.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Invoke acquires the session for the request's server and issues the tool
// call under the server's configured timeout. The cancellation handle is
// registered for the duration of the call and removed on every exit path.
// The error return is reserved for caller mistakes (duplicate live
// callId); everything else comes back as a failed Result.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (Result, error) {
	id := req.CallID
	if id == "" {
		id = types.NewCallID()
	}

	callCtx, cancel := context.WithTimeout(ctx, req.Server.Timeout())
	defer cancel()

	if err := d.track(id, cancel); err != nil {
		return Result{CallID: id, IsError: true}, err
	}
	defer d.untrack(id)

	conn, err := d.registry.Acquire(callCtx, req.Server)
	if err != nil {
		return failed(id, fmt.Sprintf("acquire session: %v", err)), nil
	}

	result, err := conn.CallTool(callCtx, req.ToolName, req.Args)
	if err != nil {
		if callCtx.Err() != nil {
			return failed(id, fmt.Sprintf("tool call %s aborted: %v", req.ToolName, callCtx.Err())), nil
		}
		return failed(id, fmt.Sprintf("tool call %s: %v", req.ToolName, err)), nil
	}

	return Result{
		CallID:  id,
		Content: result.Content,
		IsError: result.IsError,
	}, nil
}

// Cancel requests cancellation of an outstanding invocation. Returns true
// when a handle was registered for the id. Cancellation is cooperative:
// the local wait unblocks, the remote server may keep working.
func (d *Dispatcher) Cancel(callID string) bool {
	d.mu.Lock()
	cancel, ok := d.inflight[callID]
	d.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

func (d *Dispatcher) track(id string, cancel context.CancelFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.inflight[id]; exists {
		return fmt.Errorf("%w: %s", ErrCallIDInUse, id)
	}
	d.inflight[id] = cancel
	return nil
}

func (d *Dispatcher) untrack(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

func failed(id, msg string) Result {
	return Result{
		CallID:  id,
		Content: []mcp.ContentBlock{{Type: "text", Text: msg}},
		IsError: true,
	}
}
