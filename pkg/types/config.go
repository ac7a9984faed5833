package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Connection kind constants for ServerConfig.Kind.
const (
	KindProcess        = "process"
	KindSSE            = "sse"
	KindStreamableHTTP = "streamable-http"
	KindWebSocket      = "websocket"
)

// DefaultToolTimeout bounds a single tool invocation when the server
// config does not set TimeoutSeconds.
const DefaultToolTimeout = 60 * time.Second

// ServerConfig describes one MCP server. It is produced by the
// configuration layer and treated as a read-only snapshot by the core.
type ServerConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"` // process | sse | streamable-http | websocket

	// Process kind
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Network kinds
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Active         bool     `json:"active" yaml:"active"`
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	ToolFilters    []string `json:"toolFilters,omitempty" yaml:"toolFilters,omitempty"`
}

// Timeout returns the per-call deadline for tools on this server.
func (c ServerConfig) Timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return DefaultToolTimeout
}

// Validate checks that exactly one of command/URL is populated, matching Kind.
func (c ServerConfig) Validate() error {
	switch c.Kind {
	case KindProcess, "":
		if c.Command == "" {
			return fmt.Errorf("server %q: process kind requires a command", c.ID)
		}
		if c.URL != "" {
			return fmt.Errorf("server %q: process kind must not set a URL", c.ID)
		}
	case KindSSE, KindStreamableHTTP, KindWebSocket:
		if c.URL == "" {
			return fmt.Errorf("server %q: %s kind requires a URL", c.ID, c.Kind)
		}
		if c.Command != "" {
			return fmt.Errorf("server %q: %s kind must not set a command", c.ID, c.Kind)
		}
	default:
		return fmt.Errorf("server %q: unknown kind %q", c.ID, c.Kind)
	}
	return nil
}

// Fingerprint derives a content-addressed key from every connection-relevant
// parameter, so editing a server's command or URL invalidates session reuse
// even when the ID stays the same. Each field group is hashed under its own
// tag with an element count, so a value moved between groups (an args entry
// becoming an env entry, say) always changes the key.
func (c ServerConfig) Fingerprint() string {
	h := sha256.New()
	section := func(tag string, parts ...string) {
		fmt.Fprintf(h, "%s/%d", tag, len(parts))
		h.Write([]byte{0})
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	section("kind", c.Kind)
	section("command", c.Command)
	section("url", c.URL)
	section("args", c.Args...)
	section("env", sortedPairs(c.Env)...)
	section("headers", sortedPairs(c.Headers)...)
	return hex.EncodeToString(h.Sum(nil))
}

func sortedPairs(m map[string]string) []string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// ProviderConfig holds credentials and defaults for one LLM vendor.
// The core never persists it.
type ProviderConfig struct {
	ID           string `json:"id" yaml:"id"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

// ActiveServers filters configs down to the ones marked active. When ids is
// non-empty only servers whose ID appears in ids are returned.
func ActiveServers(configs []ServerConfig, ids []string) []ServerConfig {
	var out []ServerConfig
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		if len(ids) > 0 && !containsString(ids, cfg.ID) {
			continue
		}
		out = append(out, cfg)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
