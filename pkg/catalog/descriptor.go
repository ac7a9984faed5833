package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/pkg/mcp"
)

// ToolDescriptor is one tool in the flattened, provider-agnostic catalog.
// CompositeID disambiguates identically named tools across servers and is
// the name presented to LLM vendors.
type ToolDescriptor struct {
	CompositeID string         `json:"compositeId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	ServerID    string         `json:"serverId"`
	ServerName  string         `json:"serverName"`
}

// PromptDescriptor is one prompt template in the flattened catalog.
type PromptDescriptor struct {
	CompositeID string              `json:"compositeId"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Arguments   []mcp.PromptArgument `json:"arguments,omitempty"`
	ServerID    string              `json:"serverId"`
	ServerName  string              `json:"serverName"`
}

// ResourceDescriptor is one resource in the flattened catalog.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	ServerID    string `json:"serverId"`
	ServerName  string `json:"serverName"`
}

// CompositeID builds the stable identifier for a tool on a server.
func CompositeID(serverName, toolName string) string {
	return fmt.Sprintf("%s__%s", serverName, toolName)
}

// FindTool resolves a descriptor by composite id, falling back to the first
// bare-name match across servers (first matching server wins).
func FindTool(tools []ToolDescriptor, name string) (ToolDescriptor, bool) {
	for _, t := range tools {
		if t.CompositeID == name {
			return t, true
		}
	}
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// FirstRequiredProperty returns the first entry of the schema's "required"
// list, used to name bare positional arguments in legacy code-call spans.
func (d ToolDescriptor) FirstRequiredProperty() string {
	req, ok := d.InputSchema["required"].([]any)
	if !ok || len(req) == 0 {
		return ""
	}
	name, _ := req[0].(string)
	return name
}

func decodeSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return schema
}
