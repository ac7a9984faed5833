package catalog

import (
	"context"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/parley-ai/parley/pkg/mcp"
	"github.com/parley-ai/parley/pkg/types"
)

// Catalog queries active sessions for their tools, prompts and resources
// and flattens them into provider-agnostic descriptors. Every listing is
// fail-soft: one broken server yields an empty slice for that server, never
// an error, so a multi-server collection survives partial outages.
type Catalog struct {
	registry *mcp.Registry
	log      *slog.Logger
}

// New creates a catalog over the given session registry.
func New(registry *mcp.Registry, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{registry: registry, log: log}
}

// ListTools returns the tool descriptors for one server, or nil if the
// server is unreachable or responds malformed.
func (c *Catalog) ListTools(ctx context.Context, cfg types.ServerConfig) []ToolDescriptor {
	conn, err := c.registry.Acquire(ctx, cfg)
	if err != nil {
		c.log.Debug("listing tools", "server", cfg.ID, "err", err)
		return nil
	}

	infos, err := conn.ListTools(ctx)
	if err != nil {
		c.log.Debug("listing tools", "server", cfg.ID, "err", err)
		return nil
	}

	var out []ToolDescriptor
	for _, info := range infos {
		if !matchesFilters(cfg.ToolFilters, info.Name) {
			continue
		}
		out = append(out, ToolDescriptor{
			CompositeID: CompositeID(cfg.Name, info.Name),
			Name:        info.Name,
			Description: info.Description,
			InputSchema: decodeSchema(info.InputSchema),
			ServerID:    cfg.ID,
			ServerName:  cfg.Name,
		})
	}
	return out
}

// Collect fans ListTools out over all given servers and flattens the
// results in server iteration order. Duplicate tool names across servers
// are preserved as separate entries.
func (c *Catalog) Collect(ctx context.Context, servers []types.ServerConfig) []ToolDescriptor {
	var out []ToolDescriptor
	for _, cfg := range servers {
		out = append(out, c.ListTools(ctx, cfg)...)
	}
	return out
}

// ListPrompts returns the prompt descriptors for one server; nil on any
// failure.
func (c *Catalog) ListPrompts(ctx context.Context, cfg types.ServerConfig) []PromptDescriptor {
	conn, err := c.registry.Acquire(ctx, cfg)
	if err != nil {
		c.log.Debug("listing prompts", "server", cfg.ID, "err", err)
		return nil
	}

	infos, err := conn.ListPrompts(ctx)
	if err != nil {
		c.log.Debug("listing prompts", "server", cfg.ID, "err", err)
		return nil
	}

	var out []PromptDescriptor
	for _, info := range infos {
		out = append(out, PromptDescriptor{
			CompositeID: CompositeID(cfg.Name, info.Name),
			Name:        info.Name,
			Description: info.Description,
			Arguments:   info.Arguments,
			ServerID:    cfg.ID,
			ServerName:  cfg.Name,
		})
	}
	return out
}

// ListResources returns the resource descriptors for one server; nil on
// any failure.
func (c *Catalog) ListResources(ctx context.Context, cfg types.ServerConfig) []ResourceDescriptor {
	conn, err := c.registry.Acquire(ctx, cfg)
	if err != nil {
		c.log.Debug("listing resources", "server", cfg.ID, "err", err)
		return nil
	}

	resources, err := conn.ListResources(ctx)
	if err != nil {
		c.log.Debug("listing resources", "server", cfg.ID, "err", err)
		return nil
	}

	var out []ResourceDescriptor
	for _, r := range resources {
		out = append(out, ResourceDescriptor{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
			ServerID:    cfg.ID,
			ServerName:  cfg.Name,
		})
	}
	return out
}

// matchesFilters applies the server's tool filter patterns. An empty
// filter list admits everything; otherwise a tool is included when any
// pattern matches its name.
func matchesFilters(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
