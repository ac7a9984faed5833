package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/parley-ai/parley/pkg/types"
)

func newTestAnthropic(url string) *Anthropic {
	p := NewAnthropic(types.ProviderConfig{ID: "anthropic", APIKey: "test-key", BaseURL: url})
	p.retry = fastRetryConfig()
	return p
}

func TestAnthropicGenerate(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"content":[{"type":"text","text":"four"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	text, err := p.Generate(context.Background(), GenerateRequest{
		Model: "claude-sonnet-4-5",
		Messages: []types.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "2+2?"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if text != "four" {
		t.Errorf("Generate() = %q", text)
	}
	if gotKey != "test-key" || gotVersion != anthropicVersion {
		t.Errorf("headers = %q / %q", gotKey, gotVersion)
	}
	if gotBody.System != "be brief" {
		t.Errorf("system = %q, want extracted from messages", gotBody.System)
	}
	if len(gotBody.Messages) != 1 {
		t.Errorf("messages = %+v, want system stripped", gotBody.Messages)
	}
	if gotBody.MaxTokens != anthropicMaxTokens {
		t.Errorf("max_tokens = %d, want default", gotBody.MaxTokens)
	}
}

func TestAnthropicMessagesMergesRoles(t *testing.T) {
	system, msgs := anthropicMessages([]types.Message{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "one"},
		{Role: "user", Content: "two"},
		{Role: "assistant", Content: "reply"},
		{Role: "tool", Content: "result"}, // non-assistant roles collapse to user
	})

	if system != "a" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v, want 3 after merging", msgs)
	}
	if msgs[0].Content != "one\n\ntwo" {
		t.Errorf("merged user content = %q", msgs[0].Content)
	}
	if msgs[2].Role != "user" {
		t.Errorf("tool role mapped to %q, want user", msgs[2].Role)
	}
}

func TestAnthropicMessagesLeadingAssistant(t *testing.T) {
	_, msgs := anthropicMessages([]types.Message{
		{Role: "system", Content: "be brief"},
		{Role: "assistant", Content: "earlier reply"},
		{Role: "user", Content: "next question"},
	})

	if len(msgs) != 3 {
		t.Fatalf("messages = %+v, want placeholder + assistant + user", msgs)
	}
	if msgs[0].Role != "user" {
		t.Errorf("first role = %q, want user", msgs[0].Role)
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "earlier reply" {
		t.Errorf("second message = %+v", msgs[1])
	}
	if msgs[2].Role != "user" || msgs[2].Content != "next question" {
		t.Errorf("third message = %+v", msgs[2])
	}
}

func TestAnthropicGenerateWithToolsTwoPass(t *testing.T) {
	var mu sync.Mutex
	var bodies []anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body anthropicRequest
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		n := len(bodies)
		mu.Unlock()

		if n == 1 {
			w.Write([]byte(`{"content":[
				{"type":"text","text":"Let me read that."},
				{"type":"tool_use","id":"toolu_1","name":"files__read_file","input":{"path":"/tmp/x"}}
			],"stop_reason":"tool_use"}`))
		} else {
			w.Write([]byte(`{"content":[{"type":"text","text":"it says hello"}],"stop_reason":"end_turn"}`))
		}
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	runner := &fakeRunner{}

	turn, err := p.GenerateWithTools(context.Background(), GenerateRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []types.Message{{Role: "user", Content: "read /tmp/x"}},
	}, testTools(), runner)
	if err != nil {
		t.Fatalf("GenerateWithTools() error = %v", err)
	}

	if turn.Text != "it says hello" {
		t.Errorf("Text = %q", turn.Text)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Result != "ran files__read_file" {
		t.Errorf("ToolCalls = %+v", turn.ToolCalls)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	if bodies[1].ToolChoice == nil || bodies[1].ToolChoice.Type != "none" {
		t.Errorf("follow-up tool_choice = %+v, want none", bodies[1].ToolChoice)
	}
	if len(bodies[1].Tools) == 0 {
		t.Error("follow-up dropped tool definitions")
	}
	// user, assistant tool_use, user tool_result
	if len(bodies[1].Messages) != 3 {
		t.Errorf("follow-up messages = %d, want 3", len(bodies[1].Messages))
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ollamaRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Stream {
			t.Error("stream = true, want false")
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"four"},"done":true}`))
	}))
	defer srv.Close()

	p := NewOllama(types.ProviderConfig{ID: "ollama", BaseURL: srv.URL})
	p.retry = fastRetryConfig()

	text, err := p.Generate(context.Background(), GenerateRequest{
		Model:    "llama3.2",
		Messages: []types.Message{{Role: "user", Content: "2+2?"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "four" {
		t.Errorf("Generate() = %q", text)
	}
}
