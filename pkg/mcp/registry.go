package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/types"
)

// probeTimeout bounds the liveness ping when deciding whether a cached
// session can be reused.
const probeTimeout = 5 * time.Second

// Registry owns one live Connection per distinct server-config fingerprint.
// It is the only shared mutable state in the core; concurrent Acquire calls
// for the same fingerprint are serialized so a probe racing a reconnect can
// never produce two live sessions for one server.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	factory TransportFactory
	log     *slog.Logger
}

// entry serializes connect/probe per fingerprint without holding the
// registry-wide lock across network I/O.
type entry struct {
	mu   sync.Mutex
	conn *Connection
}

// NewRegistry creates a session registry. A nil factory selects transports
// by connection kind; tests inject their own.
func NewRegistry(factory TransportFactory, log *slog.Logger) *Registry {
	if factory == nil {
		factory = NewTransport
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		log:     log,
	}
}

// Acquire returns the live session for the config's fingerprint, creating
// it on first use. A cached session that fails the liveness probe is
// discarded and transparently replaced. Establishment failures surface as
// *ConnectionError; the registry itself never retries.
func (r *Registry) Acquire(ctx context.Context, cfg types.ServerConfig) (*Connection, error) {
	fp := cfg.Fingerprint()

	for {
		e := r.entryFor(fp)
		e.mu.Lock()

		// A concurrent Release may have unregistered this entry between
		// the lookup and the lock; a session established on it would be
		// invisible to CloseAll. Retry against the current entry.
		r.mu.Lock()
		registered := r.entries[fp] == e
		r.mu.Unlock()
		if !registered {
			e.mu.Unlock()
			continue
		}

		conn, err := r.connectLocked(ctx, cfg, e)
		e.mu.Unlock()
		return conn, err
	}
}

// connectLocked probes the cached session and reconnects when there is
// none or it went stale. The caller holds e.mu.
func (r *Registry) connectLocked(ctx context.Context, cfg types.ServerConfig, e *entry) (*Connection, error) {
	if e.conn != nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := e.conn.Ping(probeCtx)
		cancel()
		if err == nil {
			return e.conn, nil
		}
		// Stale session: treated as "no session", not an error
		r.log.Debug("discarding stale mcp session", "server", cfg.ID, "err", err)
		_ = e.conn.Close()
		e.conn = nil
	}

	transport, err := r.factory(ctx, cfg)
	if err != nil {
		return nil, &ConnectionError{ServerID: cfg.ID, Err: err}
	}

	conn := NewConnection(cfg, transport)
	if err := conn.Handshake(ctx); err != nil {
		_ = transport.Close()
		return nil, &ConnectionError{ServerID: cfg.ID, Err: err}
	}

	e.conn = conn
	return conn, nil
}

// Release closes and forgets the session for the config's fingerprint.
// Idempotent: releasing a server with no session is a no-op.
func (r *Registry) Release(cfg types.ServerConfig) {
	fp := cfg.Fingerprint()

	r.mu.Lock()
	e, ok := r.entries[fp]
	if ok {
		delete(r.entries, fp)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			r.log.Warn("closing mcp session", "server", cfg.ID, "err", err)
		}
		e.conn = nil
	}
}

// CloseAll closes every tracked session, logging individual failures.
// Used at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.conn != nil {
			if err := e.conn.Close(); err != nil {
				r.log.Warn("closing mcp session", "server", e.conn.Config.ID, "err", err)
			}
			e.conn = nil
		}
		e.mu.Unlock()
	}
}

func (r *Registry) entryFor(fingerprint string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[fingerprint]
	if !ok {
		e = &entry{}
		r.entries[fingerprint] = e
	}
	return e
}
