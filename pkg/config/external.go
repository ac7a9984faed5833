package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/parley-ai/parley/pkg/types"
)

// externalFile is the widely shared "mcpServers" JSON shape that server
// vendors publish in their setup instructions.
type externalFile struct {
	MCPServers map[string]externalServer `json:"mcpServers"`
}

type externalServer struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ParseExternal converts a pasted mcpServers document into server configs,
// sorted by name. Entries with a command become process servers; entries
// with a URL become streamable HTTP servers.
func ParseExternal(data []byte) ([]types.ServerConfig, error) {
	var file externalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse mcpServers document: %w", err)
	}
	if len(file.MCPServers) == 0 {
		return nil, fmt.Errorf("config: document has no mcpServers entries")
	}

	names := make([]string, 0, len(file.MCPServers))
	for name := range file.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.ServerConfig, 0, len(names))
	for _, name := range names {
		entry := file.MCPServers[name]

		cfg := types.ServerConfig{
			ID:   name,
			Name: name,
		}
		switch {
		case entry.Command != "":
			cfg.Kind = types.KindProcess
			cfg.Command = entry.Command
			cfg.Args = entry.Args
			cfg.Env = entry.Env
		case entry.URL != "":
			cfg.Kind = types.KindStreamableHTTP
			cfg.URL = entry.URL
			cfg.Headers = entry.Headers
		default:
			return nil, fmt.Errorf("config: entry %q has neither command nor url", name)
		}

		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}
