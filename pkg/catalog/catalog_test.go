package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/parley-ai/parley/pkg/mcp"
	"github.com/parley-ai/parley/pkg/types"
)

// fakeTransport answers initialize/ping and serves a fixed tool list.
type fakeTransport struct {
	tools []mcp.ToolInfo
}

func (f *fakeTransport) Send(_ context.Context, req mcp.JSONRPCRequest) (mcp.JSONRPCResponse, error) {
	var result any
	switch req.Method {
	case mcp.MethodInitialize:
		result = mcp.InitializeResult{
			Capabilities: mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
			ServerInfo:   mcp.ServerInfo{Name: "fake", Version: "1.0"},
		}
	case mcp.MethodPing:
		result = map[string]any{}
	case mcp.MethodToolsList:
		result = mcp.ToolsListResult{Tools: f.tools}
	default:
		return mcp.JSONRPCResponse{
			ID:    *req.ID,
			Error: &mcp.JSONRPCError{Code: -32601, Message: "method not found"},
		}, nil
	}

	data, _ := json.Marshal(result)
	return mcp.JSONRPCResponse{ID: *req.ID, Result: data}, nil
}

func (f *fakeTransport) Notify(context.Context, string, any) error { return nil }
func (f *fakeTransport) Close() error                              { return nil }

// serverFixture maps server IDs to the tools their fake transport serves.
// Unknown IDs fail to connect.
func serverFixture(byID map[string][]mcp.ToolInfo) mcp.TransportFactory {
	return func(_ context.Context, cfg types.ServerConfig) (mcp.Transport, error) {
		tools, ok := byID[cfg.ID]
		if !ok {
			return nil, fmt.Errorf("connect refused")
		}
		return &fakeTransport{tools: tools}, nil
	}
}

func processConfig(id, name string) types.ServerConfig {
	return types.ServerConfig{ID: id, Name: name, Kind: types.KindProcess, Command: "mcp-" + id, Active: true}
}

func TestListTools(t *testing.T) {
	factory := serverFixture(map[string][]mcp.ToolInfo{
		"files": {
			{Name: "read_file", Description: "Read a file", InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)},
			{Name: "write_file"},
		},
	})
	cat := New(mcp.NewRegistry(factory, nil), nil)

	tools := cat.ListTools(context.Background(), processConfig("files", "files"))
	if len(tools) != 2 {
		t.Fatalf("ListTools() = %d tools, want 2", len(tools))
	}
	if tools[0].CompositeID != "files__read_file" {
		t.Errorf("CompositeID = %q, want files__read_file", tools[0].CompositeID)
	}
	if tools[0].ServerID != "files" || tools[0].ServerName != "files" {
		t.Errorf("server identity = %q/%q", tools[0].ServerID, tools[0].ServerName)
	}
	if got := tools[0].FirstRequiredProperty(); got != "path" {
		t.Errorf("FirstRequiredProperty() = %q, want path", got)
	}
}

func TestListToolsFailSoft(t *testing.T) {
	cat := New(mcp.NewRegistry(serverFixture(nil), nil), nil)

	tools := cat.ListTools(context.Background(), processConfig("down", "down"))
	if tools != nil {
		t.Errorf("ListTools() on unreachable server = %v, want nil", tools)
	}
}

func TestCollectPreservesDuplicatesAndOrder(t *testing.T) {
	// Two servers advertising the same tool name stay distinct entries.
	factory := serverFixture(map[string][]mcp.ToolInfo{
		"alpha": {{Name: "search"}},
		"beta":  {{Name: "search"}, {Name: "fetch"}},
	})
	cat := New(mcp.NewRegistry(factory, nil), nil)

	servers := []types.ServerConfig{
		processConfig("alpha", "alpha"),
		processConfig("beta", "beta"),
	}
	tools := cat.Collect(context.Background(), servers)
	if len(tools) != 3 {
		t.Fatalf("Collect() = %d tools, want 3", len(tools))
	}
	want := []string{"alpha__search", "beta__search", "beta__fetch"}
	for i, w := range want {
		if tools[i].CompositeID != w {
			t.Errorf("tools[%d] = %q, want %q", i, tools[i].CompositeID, w)
		}
	}
}

func TestCollectSurvivesPartialOutage(t *testing.T) {
	factory := serverFixture(map[string][]mcp.ToolInfo{
		"alpha": {{Name: "search"}},
	})
	cat := New(mcp.NewRegistry(factory, nil), nil)

	servers := []types.ServerConfig{
		processConfig("down", "down"),
		processConfig("alpha", "alpha"),
	}
	tools := cat.Collect(context.Background(), servers)
	if len(tools) != 1 || tools[0].CompositeID != "alpha__search" {
		t.Errorf("Collect() = %+v, want only alpha__search", tools)
	}
}

func TestToolFilters(t *testing.T) {
	factory := serverFixture(map[string][]mcp.ToolInfo{
		"files": {{Name: "read_file"}, {Name: "write_file"}, {Name: "delete_file"}},
	})
	cat := New(mcp.NewRegistry(factory, nil), nil)

	cfg := processConfig("files", "files")
	cfg.ToolFilters = []string{"read_*", "write_*"}

	tools := cat.ListTools(context.Background(), cfg)
	if len(tools) != 2 {
		t.Fatalf("ListTools() with filters = %d tools, want 2", len(tools))
	}
	for _, tool := range tools {
		if tool.Name == "delete_file" {
			t.Error("filter admitted delete_file")
		}
	}
}

func TestFindTool(t *testing.T) {
	tools := []ToolDescriptor{
		{CompositeID: "alpha__search", Name: "search", ServerID: "alpha"},
		{CompositeID: "beta__search", Name: "search", ServerID: "beta"},
	}

	got, ok := FindTool(tools, "beta__search")
	if !ok || got.ServerID != "beta" {
		t.Errorf("FindTool(composite) = %+v, %v", got, ok)
	}

	// Bare name resolves to the first matching server.
	got, ok = FindTool(tools, "search")
	if !ok || got.ServerID != "alpha" {
		t.Errorf("FindTool(bare) = %+v, %v", got, ok)
	}

	if _, ok := FindTool(tools, "missing"); ok {
		t.Error("FindTool(missing) reported a match")
	}
}

func TestFirstRequiredPropertyFallback(t *testing.T) {
	d := ToolDescriptor{InputSchema: map[string]any{"type": "object"}}
	if got := d.FirstRequiredProperty(); got != "" {
		t.Errorf("FirstRequiredProperty() = %q, want empty", got)
	}
}
