// Package chat is the orchestration facade: it ties providers, the session
// registry, the tool catalog, the dispatcher and the normalizer together
// behind the operations a frontend calls.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/dispatch"
	"github.com/parley-ai/parley/pkg/mcp"
	"github.com/parley-ai/parley/pkg/normalize"
	"github.com/parley-ai/parley/pkg/provider"
	"github.com/parley-ai/parley/pkg/types"
)

// Service exposes the tool-orchestration operations. All dependencies are
// injected; a Service carries no state of its own and is safe for
// concurrent use.
type Service struct {
	providers  *provider.Registry
	registry   *mcp.Registry
	catalog    *catalog.Catalog
	dispatcher *dispatch.Dispatcher
	normalizer *normalize.Normalizer
	log        *slog.Logger
}

// New wires a service from its collaborators.
func New(providers *provider.Registry, registry *mcp.Registry, cat *catalog.Catalog, d *dispatch.Dispatcher, n *normalize.Normalizer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		providers:  providers,
		registry:   registry,
		catalog:    cat,
		dispatcher: d,
		normalizer: n,
		log:        log,
	}
}

// ListTools returns the flattened tool catalog across the given servers.
func (s *Service) ListTools(ctx context.Context, servers []types.ServerConfig) []catalog.ToolDescriptor {
	return s.catalog.Collect(ctx, servers)
}

// ListPrompts returns the prompt templates one server advertises.
func (s *Service) ListPrompts(ctx context.Context, cfg types.ServerConfig) []catalog.PromptDescriptor {
	return s.catalog.ListPrompts(ctx, cfg)
}

// ListResources returns the resources one server advertises.
func (s *Service) ListResources(ctx context.Context, cfg types.ServerConfig) []catalog.ResourceDescriptor {
	return s.catalog.ListResources(ctx, cfg)
}

// GetPrompt renders a prompt template with the given arguments.
func (s *Service) GetPrompt(ctx context.Context, cfg types.ServerConfig, name string, args map[string]string) (*mcp.PromptGetResult, error) {
	conn, err := s.registry.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn.GetPrompt(ctx, name, args)
}

// ReadResource fetches a resource by URI.
func (s *Service) ReadResource(ctx context.Context, cfg types.ServerConfig, uri string) (*mcp.ResourceReadResult, error) {
	conn, err := s.registry.Acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn.ReadResource(ctx, uri)
}

// CallTool invokes one tool directly, outside any model turn.
func (s *Service) CallTool(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	return s.dispatcher.Invoke(ctx, req)
}

// AbortTool cancels an outstanding invocation by call id. Returns false
// when no such invocation is in flight.
func (s *Service) AbortTool(callID string) bool {
	return s.dispatcher.Cancel(callID)
}

// CheckConnectivity reports whether a server can be reached and completes
// a trivial listing. Failures are logged, never returned.
func (s *Service) CheckConnectivity(ctx context.Context, cfg types.ServerConfig) bool {
	conn, err := s.registry.Acquire(ctx, cfg)
	if err != nil {
		s.log.Debug("connectivity check", "server", cfg.ID, "err", err)
		return false
	}
	if _, err := conn.ListTools(ctx); err != nil {
		s.log.Debug("connectivity check", "server", cfg.ID, "err", err)
		return false
	}
	return true
}

// StopServer releases the server's session.
func (s *Service) StopServer(cfg types.ServerConfig) {
	s.registry.Release(cfg)
}

// RestartServer tears down the server's session and establishes a fresh
// one.
func (s *Service) RestartServer(ctx context.Context, cfg types.ServerConfig) error {
	s.registry.Release(cfg)
	_, err := s.registry.Acquire(ctx, cfg)
	return err
}

// Shutdown closes every live session.
func (s *Service) Shutdown() {
	s.registry.CloseAll()
}

// GenerateResponse runs one plain completion turn.
func (s *Service) GenerateResponse(ctx context.Context, providerID, model string, messages []types.Message, maxTokens int) types.TurnResult {
	p, err := s.providers.Get(providerID)
	if err != nil {
		return failedTurn(err)
	}

	text, err := p.Generate(ctx, provider.GenerateRequest{Model: model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return failedTurn(err)
	}
	return types.TurnResult{Success: true, Response: text}
}

// GenerateResponseWithTools runs one tool-enabled turn. With no active
// servers the turn degrades to plain generation. Providers with native
// tool calling get the catalog directly; everything else goes through the
// embedded text conventions and the normalizer. Errors never propagate as
// Go errors: the turn result carries them.
func (s *Service) GenerateResponseWithTools(ctx context.Context, providerID, model string, messages []types.Message, maxTokens int, servers []types.ServerConfig) types.TurnResult {
	p, err := s.providers.Get(providerID)
	if err != nil {
		return failedTurn(err)
	}

	if len(servers) == 0 {
		return s.GenerateResponse(ctx, providerID, model, messages, maxTokens)
	}

	tools := s.catalog.Collect(ctx, servers)
	if len(tools) == 0 {
		s.log.Debug("no tools collected, degrading to plain generation", "servers", len(servers))
		return s.GenerateResponse(ctx, providerID, model, messages, maxTokens)
	}

	req := provider.GenerateRequest{Model: model, Messages: messages, MaxTokens: maxTokens}
	if tp, ok := p.(provider.ToolProvider); ok {
		return s.nativeTurn(ctx, tp, req, servers, tools)
	}
	return s.legacyTurn(ctx, p, req, servers, tools)
}

// nativeTurn delegates the whole tool loop to the adapter and passes its
// text through verbatim.
func (s *Service) nativeTurn(ctx context.Context, p provider.ToolProvider, req provider.GenerateRequest, servers []types.ServerConfig, tools []catalog.ToolDescriptor) types.TurnResult {
	runner := &toolRunner{servers: servers, tools: tools, dispatcher: s.dispatcher}

	turn, err := p.GenerateWithTools(ctx, req, tools, runner)
	if err != nil {
		return failedTurn(err)
	}
	return types.TurnResult{Success: true, Response: turn.Text, ToolCalls: turn.ToolCalls}
}

// legacyTurn prepends the catalog prompt, generates, and normalizes any
// embedded tool-call spans out of the response.
func (s *Service) legacyTurn(ctx context.Context, p provider.Provider, req provider.GenerateRequest, servers []types.ServerConfig, tools []catalog.ToolDescriptor) types.TurnResult {
	req.Messages = withToolPrompt(req.Messages, servers, tools)
	text, err := p.Generate(ctx, req)
	if err != nil {
		return failedTurn(err)
	}

	normalized, records := s.normalizer.Process(ctx, text, servers, tools)
	return types.TurnResult{Success: true, Response: normalized, ToolCalls: records}
}

// toolRunner resolves composite tool names against the collected catalog
// and executes them through the dispatcher.
type toolRunner struct {
	servers    []types.ServerConfig
	tools      []catalog.ToolDescriptor
	dispatcher *dispatch.Dispatcher
}

func (r *toolRunner) Run(ctx context.Context, name string, args map[string]any) (types.ToolCallRecord, error) {
	desc, ok := catalog.FindTool(r.tools, name)
	if !ok {
		return types.ToolCallRecord{}, fmt.Errorf("tool %q not found on any active server", name)
	}

	var cfg types.ServerConfig
	found := false
	for _, srv := range r.servers {
		if srv.ID == desc.ServerID {
			cfg = srv
			found = true
			break
		}
	}
	if !found {
		return types.ToolCallRecord{}, fmt.Errorf("server %q is not active", desc.ServerID)
	}

	rec := types.ToolCallRecord{
		ID:         types.NewCallID(),
		ServerID:   cfg.ID,
		ServerName: cfg.Name,
		Name:       desc.Name,
		Args:       args,
	}

	result, err := r.dispatcher.Invoke(ctx, dispatch.Request{
		CallID:   rec.ID,
		Server:   cfg,
		ToolName: desc.Name,
		Args:     args,
	})
	if err != nil {
		return rec, err
	}

	if result.IsError {
		rec.Error = result.Text()
	} else {
		rec.Result = result.Text()
	}
	return rec, nil
}

func failedTurn(err error) types.TurnResult {
	return types.TurnResult{Error: err.Error()}
}
