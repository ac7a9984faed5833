// Package provider adapts LLM vendor APIs to a pair of small interfaces:
// plain text generation, and native tool-calling generation driven by a
// caller-supplied runner. Adapters are non-streaming and safe for
// concurrent use.
package provider

import (
	"context"
	"time"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/types"
)

// defaultCompletionTimeout bounds a single completion round trip when the
// caller's context carries no deadline.
const defaultCompletionTimeout = 30 * time.Second

// GenerateRequest is one completion request in vendor-neutral form.
type GenerateRequest struct {
	Model     string
	Messages  []types.Message
	MaxTokens int
}

// Provider produces a plain text completion.
type Provider interface {
	// ID returns the stable provider identifier ("openai", "anthropic", ...).
	ID() string

	// Generate runs one completion and returns the assistant text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ToolRunner executes one tool invocation on behalf of an adapter. The
// returned record always carries the outcome; the error return is for
// failures of the runner itself, not of the tool.
type ToolRunner interface {
	Run(ctx context.Context, name string, args map[string]any) (types.ToolCallRecord, error)
}

// ToolTurn is the outcome of a tool-calling completion: the final
// assistant text plus every tool invocation the model requested.
type ToolTurn struct {
	Text      string
	ToolCalls []types.ToolCallRecord
}

// ToolProvider extends Provider with native tool calling. Adapters run
// exactly one follow-up pass after executing requested tools; a turn with
// no tool calls completes in a single pass.
type ToolProvider interface {
	Provider

	GenerateWithTools(ctx context.Context, req GenerateRequest, tools []catalog.ToolDescriptor, runner ToolRunner) (ToolTurn, error)
}

// withDeadline applies the default completion timeout unless the caller
// already set one.
func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultCompletionTimeout)
}
