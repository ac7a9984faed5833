// Example program running one tool-enabled chat turn against configured
// MCP servers.
//
// Usage:
//
//	# Servers defined as JSON/YAML files in ./servers/
//	go run ./cmd/example/ -provider openai -model gpt-4o -prompt "List the files in /tmp"
//
//	# Local model through Ollama (embedded tool-call syntax)
//	go run ./cmd/example/ -provider ollama -model llama3.2 -prompt "What is 2+2?"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/parley-ai/parley/pkg/catalog"
	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/config"
	"github.com/parley-ai/parley/pkg/dispatch"
	"github.com/parley-ai/parley/pkg/mcp"
	"github.com/parley-ai/parley/pkg/normalize"
	"github.com/parley-ai/parley/pkg/provider"
	"github.com/parley-ai/parley/pkg/types"
)

func main() {
	providerID := flag.String("provider", "openai", "LLM provider: openai, anthropic, ollama")
	model := flag.String("model", "", "Model ID")
	prompt := flag.String("prompt", "What is 2 + 2? Reply in one short sentence.", "Prompt to send")
	configDir := flag.String("config", "servers", "Directory of MCP server definitions")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log, *providerID, *model, *prompt, *configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, providerID, model, prompt, configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := config.NewStore(configDir)
	if err != nil {
		return err
	}
	servers, err := store.Load()
	if err != nil {
		return err
	}

	p, err := provider.FromConfig(types.ProviderConfig{
		ID:     providerID,
		APIKey: apiKeyFor(providerID),
	})
	if err != nil {
		return err
	}
	providers := provider.NewRegistry()
	providers.Register(p)

	registry := mcp.NewRegistry(nil, log)
	dispatcher := dispatch.New(registry)
	service := chat.New(
		providers,
		registry,
		catalog.New(registry, log),
		dispatcher,
		normalize.New(dispatcher),
		log,
	)
	defer service.Shutdown()

	active := types.ActiveServers(servers, nil)
	log.Info("starting turn", "provider", providerID, "model", model, "servers", len(active))

	result := service.GenerateResponseWithTools(ctx, providerID, model,
		[]types.Message{{Role: "user", Content: prompt}}, 0, active)

	if !result.Success {
		return fmt.Errorf("turn failed: %s", result.Error)
	}

	for _, call := range result.ToolCalls {
		status := "ok"
		if call.Error != "" {
			status = call.Error
		}
		log.Info("tool call", "server", call.ServerName, "tool", call.Name, "status", status)
	}

	fmt.Println(result.Response)
	return nil
}

func apiKeyFor(providerID string) string {
	switch providerID {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
