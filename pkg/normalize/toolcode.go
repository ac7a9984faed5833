package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/types"
)

// codeRe matches the pseudo-code convention: a bare function call,
// optionally wrapped in print(...).
var codeRe = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_.-]*)\s*\((.*)\)$`)

// handleToolCode parses one <tool_code> span and executes it. The target
// server is implied by the tool name: the first server advertising a tool
// with that name wins.
func (n *Normalizer) handleToolCode(ctx context.Context, body string, servers []types.ServerConfig, tools []catalog.ToolDescriptor) (string, *types.ToolCallRecord) {
	name, rawArgs, err := parseToolCode(body)
	if err != nil {
		return errorMarker(fmt.Sprintf("malformed tool code: %v", err)), nil
	}

	desc, ok := catalog.FindTool(tools, name)
	if !ok {
		rec := &types.ToolCallRecord{
			ID:    types.NewCallID(),
			Name:  name,
			Error: fmt.Sprintf("tool %q not found on any active server", name),
		}
		return errorMarker(rec.Error), rec
	}

	cfg, ok := findServer(servers, desc.ServerID)
	if !ok {
		rec := &types.ToolCallRecord{
			ID:       types.NewCallID(),
			ServerID: desc.ServerID,
			Name:     name,
			Error:    fmt.Sprintf("server %q is not active", desc.ServerID),
		}
		return errorMarker(rec.Error), rec
	}

	args := bindArgs(desc, rawArgs)
	return n.execute(ctx, cfg, desc, args)
}

// parseToolCode strips an optional print(...) wrapper and splits the call
// into tool name and raw argument tokens.
func parseToolCode(body string) (string, []string, error) {
	s := strings.TrimSpace(body)
	if strings.HasPrefix(s, "print(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[len("print(") : len(s)-1])
	}

	m := codeRe.FindStringSubmatch(s)
	if m == nil {
		return "", nil, fmt.Errorf("expected name(args) form")
	}
	return m[1], splitArgs(m[2]), nil
}

// bindArgs turns raw tokens into an argument map. key=value tokens bind by
// name; a bare positional binds to the tool's first required property,
// falling back to "query" when the schema declares none.
func bindArgs(desc catalog.ToolDescriptor, raw []string) map[string]any {
	args := make(map[string]any, len(raw))
	for _, tok := range raw {
		if key, val, ok := splitKeyValue(tok); ok {
			args[key] = parseValue(val)
			continue
		}
		name := desc.FirstRequiredProperty()
		if name == "" {
			name = "query"
		}
		args[name] = parseValue(tok)
	}
	return args
}

// splitArgs splits a call's argument list on top-level commas, respecting
// quotes and bracket nesting.
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var out []string
	depth := 0
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

// splitKeyValue recognizes key=value tokens where the key is a bare
// identifier; anything else is treated as positional.
func splitKeyValue(tok string) (string, string, bool) {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(tok[:eq])
	if key == "" {
		return "", "", false
	}
	if c := key[0]; c != '_' && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
		return "", "", false
	}
	for i := 1; i < len(key); i++ {
		c := key[i]
		if c != '_' && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", "", false
		}
	}
	return key, strings.TrimSpace(tok[eq+1:]), true
}

// parseValue maps a token to a JSON-ish value: quoted strings lose their
// quotes, numbers and booleans convert, everything else stays a string.
func parseValue(tok string) any {
	if len(tok) >= 2 {
		if (tok[0] == '"' && tok[len(tok)-1] == '"') || (tok[0] == '\'' && tok[len(tok)-1] == '\'') {
			return tok[1 : len(tok)-1]
		}
	}
	switch tok {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return float64(n)
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f
	}
	return tok
}
