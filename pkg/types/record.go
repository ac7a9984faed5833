package types

import "github.com/google/uuid"

// ToolCallRecord is the externally visible trace of one tool invocation,
// surfaced to the UI/storage layer alongside the final response text.
type ToolCallRecord struct {
	ID         string         `json:"id"`
	ServerID   string         `json:"serverId"`
	ServerName string         `json:"serverName,omitempty"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// TurnResult is the uniform outcome of one conversation turn. Failures
// inside the turn are converted into Success=false rather than escaping
// as errors to the application layer.
type TurnResult struct {
	Success   bool             `json:"success"`
	Response  string           `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`
}

// NewCallID generates a fresh identifier for a tool call when the caller
// did not supply one.
func NewCallID() string {
	return uuid.NewString()
}
