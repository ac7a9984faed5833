package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/parley-ai/parley/pkg/types"
)

// mockFactory counts transport creations so tests can assert on session
// reuse versus reconnect.
type mockFactory struct {
	mu      sync.Mutex
	created []*mockTransport
	fail    bool
}

func (f *mockFactory) new(_ context.Context, _ types.ServerConfig) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, fmt.Errorf("spawn failed")
	}
	m := newMockTransport().withInitialize(ServerCapabilities{Tools: &ToolsCapability{}})
	f.created = append(f.created, m)
	return m, nil
}

func (f *mockFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *mockFactory) last() *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func TestAcquireReusesLiveSession(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)
	cfg := testConfig()

	first, err := reg.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := reg.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if first != second {
		t.Error("second Acquire returned a different connection")
	}
	if got := factory.count(); got != 1 {
		t.Errorf("transports created = %d, want 1", got)
	}
}

func TestAcquireReplacesStaleSession(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)
	cfg := testConfig()

	first, err := reg.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Break the cached session's liveness probe.
	factory.last().withFailingPing()

	second, err := reg.Acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Acquire() after stale session error = %v", err)
	}

	if first == second {
		t.Error("stale session was reused")
	}
	if got := factory.count(); got != 2 {
		t.Errorf("transports created = %d, want 2", got)
	}
}

func TestAcquireDistinctFingerprints(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)

	cfgA := testConfig()
	cfgB := testConfig()
	cfgB.Args = []string{"--root", "/data"}

	connA, err := reg.Acquire(context.Background(), cfgA)
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	connB, err := reg.Acquire(context.Background(), cfgB)
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}

	if connA == connB {
		t.Error("configs with different args shared a session")
	}
	if got := factory.count(); got != 2 {
		t.Errorf("transports created = %d, want 2", got)
	}
}

func TestAcquireConnectFailure(t *testing.T) {
	factory := &mockFactory{fail: true}
	reg := NewRegistry(factory.new, nil)

	_, err := reg.Acquire(context.Background(), testConfig())
	if err == nil {
		t.Fatal("Acquire() succeeded with a failing factory")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("error = %T, want *ConnectionError", err)
	}
	if connErr.ServerID != "srv" {
		t.Errorf("ServerID = %q, want %q", connErr.ServerID, "srv")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)
	cfg := testConfig()

	if _, err := reg.Acquire(context.Background(), cfg); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	reg.Release(cfg)
	if !factory.last().isClosed() {
		t.Error("transport not closed after Release")
	}

	// Releasing again must be a no-op.
	reg.Release(cfg)

	// A fresh Acquire establishes a new session.
	if _, err := reg.Acquire(context.Background(), cfg); err != nil {
		t.Fatalf("Acquire() after Release error = %v", err)
	}
	if got := factory.count(); got != 2 {
		t.Errorf("transports created = %d, want 2", got)
	}
}

func TestCloseAll(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)

	cfgA := testConfig()
	cfgB := testConfig()
	cfgB.Command = "mcp-other"

	if _, err := reg.Acquire(context.Background(), cfgA); err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	if _, err := reg.Acquire(context.Background(), cfgB); err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}

	reg.CloseAll()

	factory.mu.Lock()
	defer factory.mu.Unlock()
	for i, m := range factory.created {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if !closed {
			t.Errorf("transport %d not closed after CloseAll", i)
		}
	}
}

func TestAcquireReleaseChurnLeaksNoSession(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)
	cfg := testConfig()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := reg.Acquire(context.Background(), cfg); err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				reg.Release(cfg)
			}
		}()
	}
	wg.Wait()

	reg.CloseAll()

	// Every transport ever created must be tracked and closed; a session
	// established on an entry that Release already unregistered would
	// survive both the Release and CloseAll.
	factory.mu.Lock()
	defer factory.mu.Unlock()
	for i, m := range factory.created {
		if !m.isClosed() {
			t.Errorf("transport %d still open after Release churn and CloseAll", i)
		}
	}
}

func TestAcquireConcurrentSingleSession(t *testing.T) {
	factory := &mockFactory{}
	reg := NewRegistry(factory.new, nil)
	cfg := testConfig()

	var wg sync.WaitGroup
	conns := make([]*Connection, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := reg.Acquire(context.Background(), cfg)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	if got := factory.count(); got != 1 {
		t.Errorf("transports created = %d, want 1", got)
	}
	for i, conn := range conns {
		if conn != conns[0] {
			t.Errorf("goroutine %d got a different connection", i)
		}
	}
}
