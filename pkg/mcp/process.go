package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ProcessTransport speaks line-delimited JSON-RPC over the stdin/stdout of
// a spawned child process.
type ProcessTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *bytes.Buffer

	writeMu sync.Mutex // serializes writes to stdin

	pending map[int64]chan JSONRPCResponse
	pendMu  sync.Mutex

	done chan struct{} // closed when the reader goroutine exits
}

// NewProcessTransport spawns the command and starts the read loop. The child
// inherits the parent environment plus the supplied overrides.
func NewProcessTransport(command string, args []string, env map[string]string) (*ProcessTransport, error) {
	cmd := exec.Command(command, args...)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	t := &ProcessTransport{
		cmd:     cmd,
		stdin:   stdinPipe,
		stdout:  stdoutPipe,
		stderr:  &stderrBuf,
		pending: make(map[int64]chan JSONRPCResponse),
		done:    make(chan struct{}),
	}

	go t.readLoop()

	return t, nil
}

// readLoop reads stdout lines and dispatches responses to pending channels.
func (t *ProcessTransport) readLoop() {
	defer close(t.done)

	scanner := bufio.NewScanner(t.stdout)
	// Allow large JSON payloads (1 MB)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			// Skip unparseable lines (could be log output from the server)
			continue
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

// Send writes a request to stdin and waits for the correlated response.
func (t *ProcessTransport) Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	if req.ID == nil {
		return JSONRPCResponse{}, fmt.Errorf("Send requires a request with an ID; use Notify for notifications")
	}
	id := *req.ID

	// Register the pending channel before writing to avoid a race
	ch := make(chan JSONRPCResponse, 1)
	t.pendMu.Lock()
	t.pending[id] = ch
	t.pendMu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		t.forget(id)
		return JSONRPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	t.writeMu.Lock()
	_, writeErr := t.stdin.Write(append(data, '\n'))
	t.writeMu.Unlock()

	if writeErr != nil {
		t.forget(id)
		return JSONRPCResponse{}, fmt.Errorf("write to stdin: %w", writeErr)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.forget(id)
		return JSONRPCResponse{}, ctx.Err()
	case <-t.done:
		t.forget(id)
		return JSONRPCResponse{}, fmt.Errorf("transport closed: %s", t.stderr.String())
	}
}

func (t *ProcessTransport) forget(id int64) {
	t.pendMu.Lock()
	delete(t.pending, id)
	t.pendMu.Unlock()
}

// Notify writes a notification (no ID, no response expected).
func (t *ProcessTransport) Notify(_ context.Context, method string, params any) error {
	n := newNotification(method, params)
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Close terminates the child process: close stdin, SIGTERM, wait with
// timeout, SIGKILL.
func (t *ProcessTransport) Close() error {
	t.stdin.Close()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan error, 1)
	go func() {
		done <- t.cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-done
	}

	<-t.done

	return nil
}
