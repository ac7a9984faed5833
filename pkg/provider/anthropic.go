package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/types"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// Anthropic is a non-streaming adapter for the messages API with native
// tool calling.
type Anthropic struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   RetryConfig
}

// NewAnthropic creates an adapter from provider credentials.
func NewAnthropic(cfg types.ProviderConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &Anthropic{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    http.DefaultClient,
		retry:   DefaultRetryConfig(),
	}
}

func (p *Anthropic) ID() string { return "anthropic" }

// messages API wire types

type anthropicRequest struct {
	Model      string               `json:"model"`
	MaxTokens  int                  `json:"max_tokens"`
	System     string               `json:"system,omitempty"`
	Messages   []anthropicMessage   `json:"messages"`
	Tools      []anthropicTool      `json:"tools,omitempty"`
	ToolChoice *anthropicToolChoice `json:"tool_choice,omitempty"`
}

// anthropicMessage content is either a plain string or a block list.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"` // "auto"|"any"|"none"
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

// Generate runs one plain completion.
func (p *Anthropic) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	system, msgs := anthropicMessages(req.Messages)
	resp, err := p.complete(ctx, anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokensOr(req.MaxTokens),
		System:    system,
		Messages:  msgs,
	})
	if err != nil {
		return "", err
	}
	return joinText(resp.Content), nil
}

// GenerateWithTools runs the two-pass tool-calling flow against the
// messages API. Requested tool_use blocks are executed through the runner
// and fed back as tool_result blocks; the single follow-up pass keeps the
// tool definitions (the API requires them alongside tool_use history) but
// forbids further calls.
func (p *Anthropic) GenerateWithTools(ctx context.Context, req GenerateRequest, tools []catalog.ToolDescriptor, runner ToolRunner) (ToolTurn, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	system, msgs := anthropicMessages(req.Messages)
	defs := anthropicTools(tools)

	first, err := p.complete(ctx, anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokensOr(req.MaxTokens),
		System:    system,
		Messages:  msgs,
		Tools:     defs,
	})
	if err != nil {
		return ToolTurn{}, err
	}

	uses := toolUses(first.Content)
	if len(uses) == 0 {
		return ToolTurn{Text: joinText(first.Content)}, nil
	}

	msgs = append(msgs, anthropicMessage{Role: "assistant", Content: first.Content})

	var records []types.ToolCallRecord
	results := make([]anthropicBlock, 0, len(uses))
	for _, use := range uses {
		rec, runErr := runner.Run(ctx, use.Name, use.Input)
		if runErr != nil {
			rec.Name = use.Name
			rec.Args = use.Input
			rec.Error = runErr.Error()
			if rec.ID == "" {
				rec.ID = types.NewCallID()
			}
		}
		records = append(records, rec)

		block := anthropicBlock{Type: "tool_result", ToolUseID: use.ID, Content: rec.Result}
		if rec.Error != "" {
			block.Content = rec.Error
			block.IsError = true
		}
		results = append(results, block)
	}

	msgs = append(msgs, anthropicMessage{Role: "user", Content: results})

	followUp, err := p.complete(ctx, anthropicRequest{
		Model:      req.Model,
		MaxTokens:  maxTokensOr(req.MaxTokens),
		System:     system,
		Messages:   msgs,
		Tools:      defs,
		ToolChoice: &anthropicToolChoice{Type: "none"},
	})
	if err != nil {
		return ToolTurn{}, err
	}

	return ToolTurn{Text: joinText(followUp.Content), ToolCalls: records}, nil
}

func (p *Anthropic) complete(ctx context.Context, req anthropicRequest) (anthropicResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return anthropicResponse{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	url := p.baseURL + "/v1/messages"

	resp, err := doRequest(ctx, p.retry, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		httpReq.Header.Set("x-api-key", p.apiKey)
		return p.http.Do(httpReq)
	})
	if err != nil {
		return anthropicResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return anthropicResponse{}, classifyError("anthropic", resp)
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return anthropicResponse{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	return out, nil
}

// anthropicMessages extracts the system prompt and folds the rest into the
// alternating-role shape the messages API requires: consecutive messages
// with the same role are merged, and a conversation that opens with an
// assistant turn gets a placeholder user message prepended (the API rejects
// a leading assistant message).
func anthropicMessages(msgs []types.Message) (string, []anthropicMessage) {
	var system string
	var out []anthropicMessage

	for _, m := range msgs {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}

		role := m.Role
		if role != "assistant" {
			role = "user"
		}

		if len(out) == 0 && role == "assistant" {
			out = append(out, anthropicMessage{Role: "user", Content: "(continue)"})
		}

		if len(out) > 0 && out[len(out)-1].Role == role {
			prev, _ := out[len(out)-1].Content.(string)
			out[len(out)-1].Content = prev + "\n\n" + m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return system, out
}

func anthropicTools(tools []catalog.ToolDescriptor) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{
			Name:        t.CompositeID,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func toolUses(blocks []anthropicBlock) []anthropicBlock {
	var out []anthropicBlock
	for _, b := range blocks {
		if b.Type == "tool_use" {
			out = append(out, b)
		}
	}
	return out
}

func joinText(blocks []anthropicBlock) string {
	var s string
	for _, b := range blocks {
		if b.Type == "text" {
			s += b.Text
		}
	}
	return s
}

func maxTokensOr(n int) int {
	if n > 0 {
		return n
	}
	return anthropicMaxTokens
}
