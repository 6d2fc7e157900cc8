// Package main is the entry point for the routa orchestration binary. It
// wires the stores, event bus, agent providers and the execution flow, then
// runs one coordination session over the request given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/config"
	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/coordinator"
	"github.com/routa/routa/internal/events"
	"github.com/routa/routa/internal/mcpserver"
	"github.com/routa/routa/internal/orchestrator"
	"github.com/routa/routa/internal/provider"
	acpprovider "github.com/routa/routa/internal/provider/acp"
	llmprovider "github.com/routa/routa/internal/provider/llm"
	"github.com/routa/routa/internal/store"
	"github.com/routa/routa/internal/telemetry"
	"github.com/routa/routa/internal/tools"
)

var (
	configPathFlag = flag.String("config", "", "Config directory")
	requestFlag    = flag.String("request", "", "The user request to orchestrate")
	streamFlag     = flag.Bool("stream", true, "Print streamed agent output")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	request := strings.TrimSpace(*requestFlag)
	if request == "" {
		request = strings.TrimSpace(strings.Join(flag.Args(), " "))
	}
	if request == "" {
		fmt.Fprintln(os.Stderr, "usage: routa -request \"<what to build>\"")
		os.Exit(2)
	}

	if err := run(cfg, request, log); err != nil {
		log.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, request string, log *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	stores := store.NewMemoryStores()
	bus := events.NewBus(log)

	var mirror *events.NATSMirror
	if cfg.NATS.URL != "" {
		mirror, err = events.NewNATSMirror(cfg.NATS.URL, "routa", log)
		if err != nil {
			log.Warn("NATS unavailable, events stay in-memory", zap.Error(err))
		} else {
			mirror.Attach(bus)
			defer mirror.Close()
		}
	}

	registry := tools.NewRegistry(stores, bus, cfg.Workspace.Root, log)

	router, err := buildProviders(cfg, registry, log)
	if err != nil {
		return err
	}
	resilient := provider.NewResilient(router, stores.Conversations, provider.DefaultResilientConfig(), log)
	defer resilient.Shutdown()

	if cfg.MCP.Enabled {
		mcpSrv := mcpserver.New(mcpserver.Config{
			Port:        cfg.MCP.Port,
			WorkspaceID: cfg.Workspace.ID,
		}, registry, log)
		if err := mcpSrv.Start(ctx); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	coord := coordinator.New(stores, bus, log)
	orch := orchestrator.New(stores, resilient, coord, registry, orchestrator.Config{
		WorkspaceID:      cfg.Workspace.ID,
		MaxWaves:         cfg.Orchestrator.MaxWaves,
		ParallelCrafters: cfg.Orchestrator.ParallelCrafters,
	}, log)

	if *streamFlag {
		orch.OnStreamChunk = printChunk
	}

	result := orch.Execute(ctx, request)
	printResult(result)
	if result.Kind == orchestrator.ResultFailed {
		return result.Err
	}
	return nil
}

// buildProviders registers the configured backends on a capability router:
// every ACP preset plus the direct API backend when a key is present.
func buildProviders(cfg *config.Config, registry *tools.Registry, log *logger.Logger) (*provider.Router, error) {
	router := provider.NewRouter(log)

	presets, err := config.LoadPresets(cfg.PresetsPath)
	if err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}
	for i, preset := range presets {
		router.Register(acpprovider.New(preset, acpprovider.Config{
			WorkspaceRoot: cfg.Workspace.Root,
			SpawnTimeout:  cfg.Orchestrator.SpawnTimeoutDuration(),
			TurnTimeout:   cfg.Orchestrator.TurnTimeoutDuration(),
			// Earlier presets win capability ties.
			Priority: 100 - i,
		}, log))
	}

	if cfg.LLM.APIKey != "" {
		router.Register(llmprovider.New(llmprovider.Config{
			APIKey:     cfg.LLM.APIKey,
			SmartModel: cfg.LLM.SmartModel,
			FastModel:  cfg.LLM.FastModel,
			MaxTokens:  int64(cfg.LLM.MaxTokens),
			Priority:   10,
		}, registry, log))
	}

	if router.Capabilities().MaxConcurrentAgents == 0 {
		return nil, fmt.Errorf("no providers configured: set presetsPath or an API key")
	}
	return router, nil
}

func printChunk(agentID string, chunk provider.StreamChunk) {
	switch chunk.Type {
	case provider.ChunkText:
		fmt.Print(chunk.Content)
	case provider.ChunkToolCall:
		fmt.Printf("\n[%s] tool: %s\n", agentID, chunk.ToolName)
	case provider.ChunkError:
		fmt.Printf("\n[%s] error: %s\n", agentID, chunk.Message)
	}
}

func printResult(result orchestrator.Result) {
	fmt.Printf("\n\nResult: %s\n", result.Kind)
	if result.Waves > 0 {
		fmt.Printf("Waves: %d\n", result.Waves)
	}
	for _, summary := range result.TaskSummaries {
		fmt.Printf("- [%s] %s", summary.Status, summary.Title)
		if summary.Summary != "" {
			fmt.Printf(": %s", summary.Summary)
		}
		fmt.Println()
	}
	if result.Err != nil {
		fmt.Printf("Error: %v\n", result.Err)
	}
}
