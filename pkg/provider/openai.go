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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI is a non-streaming adapter for the chat completions API and any
// OpenAI-compatible endpoint. It supports native tool calling.
type OpenAI struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   RetryConfig
}

// NewOpenAI creates an adapter from provider credentials. An empty BaseURL
// selects the official endpoint.
func NewOpenAI(cfg types.ProviderConfig) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    http.DefaultClient,
		retry:   DefaultRetryConfig(),
	}
}

func (p *OpenAI) ID() string { return "openai" }

// Generate runs one plain completion.
func (p *OpenAI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	resp, err := p.complete(ctx, chatRequest{
		Model:     req.Model,
		Messages:  toWireMessages(req.Messages),
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return choiceText(resp), nil
}

// GenerateWithTools runs the two-pass tool-calling flow: the first pass
// offers the catalog as functions, requested calls are executed through
// the runner, and a single follow-up pass (tool calling disabled) produces
// the final text. A first pass with no tool calls is the whole turn.
func (p *OpenAI) GenerateWithTools(ctx context.Context, req GenerateRequest, tools []catalog.ToolDescriptor, runner ToolRunner) (ToolTurn, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	msgs := toWireMessages(req.Messages)
	defs := toToolDefinitions(tools)

	first, err := p.complete(ctx, chatRequest{
		Model:     req.Model,
		Messages:  msgs,
		Tools:     defs,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return ToolTurn{}, err
	}
	if len(first.Choices) == 0 {
		return ToolTurn{}, fmt.Errorf("openai: response carried no choices")
	}

	assistant := first.Choices[0].Message
	if len(assistant.ToolCalls) == 0 {
		return ToolTurn{Text: choiceText(first)}, nil
	}

	msgs = append(msgs, assistant)

	var records []types.ToolCallRecord
	for _, call := range assistant.ToolCalls {
		rec := runToolCall(ctx, runner, call.Function.Name, call.Function.Arguments)
		records = append(records, rec)
		msgs = append(msgs, chatMessage{
			Role:       "tool",
			Content:    toolResultContent(rec),
			ToolCallID: call.ID,
		})
	}

	followUp, err := p.complete(ctx, chatRequest{
		Model:      req.Model,
		Messages:   msgs,
		Tools:      defs,
		ToolChoice: "none",
		MaxTokens:  req.MaxTokens,
	})
	if err != nil {
		return ToolTurn{}, err
	}

	return ToolTurn{Text: choiceText(followUp), ToolCalls: records}, nil
}

func (p *OpenAI) complete(ctx context.Context, req chatRequest) (chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"

	resp, err := doRequest(ctx, p.retry, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return p.http.Do(httpReq)
	})
	if err != nil {
		return chatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return chatResponse{}, classifyError("openai", resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return out, nil
}

// runToolCall decodes the model's argument payload and executes the call,
// folding every failure into the record so it can be fed back to the model.
func runToolCall(ctx context.Context, runner ToolRunner, name, arguments string) types.ToolCallRecord {
	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return types.ToolCallRecord{
				ID:    types.NewCallID(),
				Name:  name,
				Error: fmt.Sprintf("malformed tool arguments: %v", err),
			}
		}
	}

	rec, err := runner.Run(ctx, name, args)
	if err != nil {
		rec.Name = name
		rec.Args = args
		rec.Error = err.Error()
		if rec.ID == "" {
			rec.ID = types.NewCallID()
		}
	}
	return rec
}

// toolResultContent renders a record as the content of a tool message.
func toolResultContent(rec types.ToolCallRecord) *string {
	s := rec.Result
	if rec.Error != "" {
		s = "Error: " + rec.Error
	}
	return &s
}

func toWireMessages(msgs []types.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, textMessage(m.Role, m.Content))
	}
	return out
}

func toToolDefinitions(tools []catalog.ToolDescriptor) []toolDefinition {
	out := make([]toolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolDefinition{
			Type: "function",
			Function: functionDef{
				Name:        t.CompositeID,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func choiceText(resp chatResponse) string {
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return ""
	}
	return *resp.Choices[0].Message.Content
}
