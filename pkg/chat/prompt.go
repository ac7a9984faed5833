package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/types"
)

// withToolPrompt returns the message list with the catalog description
// folded into the system message. An existing system message is extended;
// otherwise one is prepended.
func withToolPrompt(messages []types.Message, servers []types.ServerConfig, tools []catalog.ToolDescriptor) []types.Message {
	prompt := buildToolPrompt(servers, tools)

	out := make([]types.Message, 0, len(messages)+1)
	injected := false
	for _, m := range messages {
		if m.Role == "system" && !injected {
			m.Content = m.Content + "\n\n" + prompt
			injected = true
		}
		out = append(out, m)
	}
	if !injected {
		out = append([]types.Message{{Role: "system", Content: prompt}}, out...)
	}
	return out
}

// buildToolPrompt describes every available tool and the embedded call
// syntax for providers without native tool calling.
func buildToolPrompt(servers []types.ServerConfig, tools []catalog.ToolDescriptor) string {
	var b strings.Builder

	b.WriteString("You have access to the following tools, hosted on external servers.\n\n")

	for _, t := range tools {
		fmt.Fprintf(&b, "- %s (server %q, id %q)", t.Name, t.ServerName, t.ServerID)
		if t.Description != "" {
			fmt.Fprintf(&b, ": %s", t.Description)
		}
		b.WriteByte('\n')
		if schema, err := json.Marshal(t.InputSchema); err == nil {
			fmt.Fprintf(&b, "  input schema: %s\n", schema)
		}
	}

	b.WriteString(`
To call a tool, emit exactly one block per call in your response:

<tool_call>{"serverId": "<server id>", "name": "<tool name>", "args": {...}}</tool_call>

Each block is executed and replaced with a <tool_result> element containing
the tool's output, or a <tool_error> element on failure. Emit no blocks
when no tool is needed.`)

	return b.String()
}
