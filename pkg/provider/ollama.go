package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parley-ai/parley/pkg/types"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Ollama is a text-only adapter for a local Ollama daemon. It deliberately
// does not implement ToolProvider: local models go through the embedded
// text conventions instead.
type Ollama struct {
	baseURL string
	http    *http.Client
	retry   RetryConfig
}

// NewOllama creates an adapter. An empty BaseURL selects the default
// local daemon address.
func NewOllama(cfg types.ProviderConfig) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &Ollama{
		baseURL: baseURL,
		http:    http.DefaultClient,
		retry:   DefaultRetryConfig(),
	}
}

func (p *Ollama) ID() string { return "ollama" }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Generate runs one non-streaming chat completion.
func (p *Ollama) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	oreq := ollamaRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		oreq.Options = &ollamaOptions{NumPredict: req.MaxTokens}
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	url := p.baseURL + "/api/chat"

	resp, err := doRequest(ctx, p.retry, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return p.http.Do(httpReq)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", classifyError("ollama", resp)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return out.Message.Content, nil
}
