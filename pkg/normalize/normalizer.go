// Package normalize converts legacy text-embedded tool-call conventions
// into catalog-relative invocations. It exists for providers without
// native function calling: the model emits <tool_call> or <tool_code>
// spans in plain text, and the normalizer executes them and substitutes
// the results in place.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/dispatch"
	"github.com/parley-ai/parley/pkg/types"
)

// Invoker executes a resolved tool invocation. *dispatch.Dispatcher
// satisfies it; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Normalizer parses embedded tool-call spans and drives them through the
// dispatcher. It is stateless and safe for concurrent use.
type Normalizer struct {
	invoker Invoker
}

// New creates a normalizer over the given invoker.
func New(invoker Invoker) *Normalizer {
	return &Normalizer{invoker: invoker}
}

// spanRe matches both legacy conventions non-greedily across lines.
var spanRe = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>|<tool_code>\s*(.*?)\s*</tool_code>`)

// Process scans text for embedded tool-call spans in textual order,
// executes each against the relevant servers, and returns the text with
// every recognized span replaced by a <tool_result> or <tool_error>
// marker. Text outside spans passes through verbatim. Per-span failures
// never abort the remaining spans.
func (n *Normalizer) Process(ctx context.Context, text string, servers []types.ServerConfig, tools []catalog.ToolDescriptor) (string, []types.ToolCallRecord) {
	matches := spanRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var b strings.Builder
	var records []types.ToolCallRecord
	last := 0

	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]

		var replacement string
		var rec *types.ToolCallRecord
		if m[2] >= 0 {
			replacement, rec = n.handleToolCall(ctx, text[m[2]:m[3]], servers, tools)
		} else {
			replacement, rec = n.handleToolCode(ctx, text[m[4]:m[5]], servers, tools)
		}

		b.WriteString(replacement)
		if rec != nil {
			records = append(records, *rec)
		}
	}
	b.WriteString(text[last:])

	return b.String(), records
}

// execute runs one resolved invocation and renders the substitution marker.
func (n *Normalizer) execute(ctx context.Context, cfg types.ServerConfig, desc catalog.ToolDescriptor, args map[string]any) (string, *types.ToolCallRecord) {
	rec := types.ToolCallRecord{
		ID:         types.NewCallID(),
		ServerID:   cfg.ID,
		ServerName: cfg.Name,
		Name:       desc.Name,
		Args:       args,
	}

	result, err := n.invoker.Invoke(ctx, dispatch.Request{
		CallID:   rec.ID,
		Server:   cfg,
		ToolName: desc.Name,
		Args:     args,
	})
	if err != nil {
		rec.Error = err.Error()
		return errorMarker(err.Error()), &rec
	}
	if result.IsError {
		rec.Error = result.Text()
		return errorMarker(rec.Error), &rec
	}

	rec.Result = result.Text()
	return resultMarker(result.Content), &rec
}

func resultMarker(content any) string {
	data, err := json.Marshal(content)
	if err != nil {
		return errorMarker(fmt.Sprintf("encode tool result: %v", err))
	}
	return "<tool_result>" + string(data) + "</tool_result>"
}

func errorMarker(msg string) string {
	return "<tool_error>" + msg + "</tool_error>"
}

func findServer(servers []types.ServerConfig, id string) (types.ServerConfig, bool) {
	for _, s := range servers {
		if s.ID == id {
			return s, true
		}
	}
	return types.ServerConfig{}, false
}
