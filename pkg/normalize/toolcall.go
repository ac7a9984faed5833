package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/types"
)

// toolCallBody is the structured convention: a JSON object naming the
// target server and tool explicitly.
type toolCallBody struct {
	ServerID string         `json:"serverId"`
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
}

// handleToolCall parses one <tool_call> span and executes it. Bodies that
// fail to parse become an error marker without a record; everything after
// a successful parse is recorded, success or not.
func (n *Normalizer) handleToolCall(ctx context.Context, body string, servers []types.ServerConfig, tools []catalog.ToolDescriptor) (string, *types.ToolCallRecord) {
	call, err := parseToolCall(body)
	if err != nil {
		return errorMarker(fmt.Sprintf("malformed tool call: %v", err)), nil
	}

	cfg, ok := findServer(servers, call.ServerID)
	if !ok {
		rec := &types.ToolCallRecord{
			ID:       types.NewCallID(),
			ServerID: call.ServerID,
			Name:     call.Name,
			Args:     call.Args,
			Error:    fmt.Sprintf("unknown server %q", call.ServerID),
		}
		return errorMarker(rec.Error), rec
	}

	desc, ok := catalog.FindTool(tools, call.Name)
	if !ok || desc.ServerID != cfg.ID {
		// The server exists but never advertised this tool; invoke anyway
		// with a minimal descriptor so the server's own error comes back.
		desc = catalog.ToolDescriptor{Name: call.Name, ServerID: cfg.ID, ServerName: cfg.Name}
	}

	return n.execute(ctx, cfg, desc, call.Args)
}

// parseToolCall decodes the span body, tolerating stray prose around the
// JSON object by falling back to the first balanced top-level object.
func parseToolCall(body string) (toolCallBody, error) {
	var call toolCallBody
	if err := json.Unmarshal([]byte(body), &call); err != nil {
		obj, ok := balancedObject(body)
		if !ok {
			return toolCallBody{}, err
		}
		if err := json.Unmarshal([]byte(obj), &call); err != nil {
			return toolCallBody{}, err
		}
	}

	if call.ServerID == "" || call.Name == "" {
		return toolCallBody{}, fmt.Errorf("serverId and name are required")
	}
	if call.Args == nil {
		call.Args = map[string]any{}
	}
	return call, nil
}

// balancedObject extracts the first brace-balanced object from s,
// respecting string literals and escapes.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
