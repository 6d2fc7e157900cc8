// Package llm backs agents directly with the Anthropic Messages API,
// exposing the coordination tool surface through model tool use. It carries
// no subprocess, so it satisfies ROUTA and GATE but not CRAFTER (no real
// file editing or terminal).
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/prompts"
	"github.com/routa/routa/internal/provider"
	"github.com/routa/routa/internal/tools"
)

// Config tunes the LLM provider.
type Config struct {
	APIKey        string
	SmartModel    string // default claude-sonnet-4-5
	FastModel     string // default claude-haiku-4-5
	MaxTokens     int64  // default 8192
	MaxIterations int    // tool-loop bound per turn, default 16
	Priority      int
}

// Provider drives agents through the Anthropic Messages API with the
// coordination tools registered for model tool use.
type Provider struct {
	client   sdk.Client
	cfg      Config
	registry *tools.Registry
	logger   *logger.Logger

	// conversations holds per-agent message history across turns.
	conversations map[string][]sdk.MessageParam
	cancels       map[string]context.CancelFunc
	agentMu       map[string]*sync.Mutex
	mu            sync.Mutex
}

var _ provider.AgentProvider = (*Provider)(nil)

// New creates an LLM provider over the coordination tool registry.
func New(cfg Config, registry *tools.Registry, log *logger.Logger) *Provider {
	if cfg.SmartModel == "" {
		cfg.SmartModel = "claude-sonnet-4-5"
	}
	if cfg.FastModel == "" {
		cfg.FastModel = "claude-haiku-4-5"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 16
	}
	return &Provider{
		client:        sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:           cfg,
		registry:      registry,
		logger:        log.WithComponent("llm-provider"),
		conversations: make(map[string][]sdk.MessageParam),
		cancels:       make(map[string]context.CancelFunc),
		agentMu:       make(map[string]*sync.Mutex),
	}
}

func (p *Provider) lockFor(agentID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.agentMu[agentID]
	if !ok {
		m = &sync.Mutex{}
		p.agentMu[agentID] = m
	}
	return m
}

func (p *Provider) modelFor(ctx context.Context, agentID string) sdk.Model {
	agent, err := p.registry.Stores().Agents.Get(ctx, agentID)
	if err == nil && agent.ModelTier == models.TierFast {
		return sdk.Model(p.cfg.FastModel)
	}
	return sdk.Model(p.cfg.SmartModel)
}

// Run executes a tool-loop turn.
func (p *Provider) Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error) {
	return p.RunStreaming(ctx, role, agentID, prompt, nil)
}

// RunStreaming executes a tool-loop turn, emitting a chunk per text block,
// tool call and tool result.
func (p *Provider) RunStreaming(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk provider.ChunkHandler) (string, error) {
	lock := p.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancels[agentID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, agentID)
		p.mu.Unlock()
	}()

	emit := func(chunk provider.StreamChunk) {
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	p.mu.Lock()
	history := p.conversations[agentID]
	p.mu.Unlock()

	history = append(history, sdk.NewUserMessage(sdk.NewTextBlock(prompt)))

	params := sdk.MessageNewParams{
		Model:     p.modelFor(ctx, agentID),
		MaxTokens: p.cfg.MaxTokens,
		System:    []sdk.TextBlockParam{{Text: prompts.ForRole(role)}},
		Tools:     toolDefinitions(),
		Messages:  history,
	}

	var output strings.Builder
	for iteration := 0; iteration < p.cfg.MaxIterations; iteration++ {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			emit(provider.StreamChunk{Type: provider.ChunkError, Message: err.Error()})
			return "", fmt.Errorf("messages api call failed: %w", err)
		}

		params.Messages = append(params.Messages, msg.ToParam())

		var toolResults []sdk.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				output.WriteString(block.Text)
				emit(provider.StreamChunk{Type: provider.ChunkText, Content: block.Text})
			case "tool_use":
				emit(provider.StreamChunk{
					Type:       provider.ChunkToolCall,
					ToolName:   block.Name,
					ToolStatus: provider.ToolCallRunning,
					Arguments:  string(block.Input),
				})
				result := p.dispatch(ctx, role, agentID, block.Name, block.Input)
				resultJSON, _ := json.Marshal(result)
				emit(provider.StreamChunk{
					Type:     provider.ChunkToolResult,
					ToolName: block.Name,
					Content:  string(resultJSON),
				})
				toolResults = append(toolResults,
					sdk.NewToolResultBlock(block.ID, string(resultJSON), !result.Success))
			}
		}

		if msg.StopReason != "tool_use" || len(toolResults) == 0 {
			p.mu.Lock()
			p.conversations[agentID] = params.Messages
			p.mu.Unlock()
			return output.String(), nil
		}
		params.Messages = append(params.Messages, sdk.NewUserMessage(toolResults...))
	}

	p.mu.Lock()
	p.conversations[agentID] = params.Messages
	p.mu.Unlock()
	return output.String(), fmt.Errorf("tool loop exceeded %d iterations", p.cfg.MaxIterations)
}

// dispatch routes a model tool call to the registry, enforcing the per-role
// tool contract.
func (p *Provider) dispatch(ctx context.Context, role models.AgentRole, agentID, name string, input json.RawMessage) tools.Result {
	if !tools.RoleAllowed(role, name) {
		return tools.Result{Success: false, Error: fmt.Sprintf("role %s may not call %s", role, name)}
	}

	var args struct {
		AgentID             string   `json:"agent_id"`
		AgentName           string   `json:"agent_name"`
		Name                string   `json:"name"`
		Role                string   `json:"role"`
		WorkspaceID         string   `json:"workspace_id"`
		ParentID            string   `json:"parent_id"`
		ModelTier           string   `json:"model_tier"`
		TaskID              string   `json:"task_id"`
		ToAgentID           string   `json:"to_agent_id"`
		Message             string   `json:"message"`
		ContextMessage      string   `json:"context_message"`
		Summary             string   `json:"summary"`
		Success             bool     `json:"success"`
		FilesModified       []string `json:"files_modified"`
		VerificationResults string   `json:"verification_results"`
		LastN               int      `json:"last_n"`
		StartTurn           int      `json:"start_turn"`
		EndTurn             int      `json:"end_turn"`
		IncludeToolCalls    bool     `json:"include_tool_calls"`
		EventTypes          []string `json:"event_types"`
		ExcludeSelf         bool     `json:"exclude_self"`
		SubscriptionID      string   `json:"subscription_id"`
		Path                string   `json:"path"`
		Content             string   `json:"content"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return tools.Result{Success: false, Error: fmt.Sprintf("malformed arguments: %v", err)}
		}
	}

	agent, err := p.registry.Stores().Agents.Get(ctx, agentID)
	workspaceID := args.WorkspaceID
	if err == nil && workspaceID == "" {
		workspaceID = agent.WorkspaceID
	}

	switch name {
	case "list_agents":
		return p.registry.ListAgents(ctx, workspaceID)
	case "read_agent_conversation":
		return p.registry.ReadAgentConversation(ctx, tools.ConversationQuery{
			AgentID:          args.AgentID,
			LastN:            args.LastN,
			StartTurn:        args.StartTurn,
			EndTurn:          args.EndTurn,
			IncludeToolCalls: args.IncludeToolCalls,
		})
	case "create_agent":
		return p.registry.CreateAgent(ctx, args.Name, args.Role, workspaceID, agentID, models.ModelTier(args.ModelTier))
	case "delegate_task":
		return p.registry.DelegateTask(ctx, args.AgentID, args.TaskID, agentID)
	case "send_message_to_agent":
		return p.registry.SendMessageToAgent(ctx, agentID, args.ToAgentID, args.Message)
	case "report_to_parent":
		return p.registry.ReportToParent(ctx, &models.CompletionReport{
			AgentID:             agentID,
			TaskID:              args.TaskID,
			Summary:             args.Summary,
			FilesModified:       args.FilesModified,
			VerificationResults: args.VerificationResults,
			Success:             args.Success,
		})
	case "wake_or_create_task_agent":
		return p.registry.WakeOrCreateTaskAgent(ctx, args.TaskID, args.ContextMessage, agentID, workspaceID, args.AgentName, models.ModelTier(args.ModelTier))
	case "send_message_to_task_agent":
		return p.registry.SendMessageToTaskAgent(ctx, args.TaskID, args.Message, agentID)
	case "get_agent_status":
		return p.registry.GetAgentStatus(ctx, args.AgentID)
	case "get_agent_summary":
		return p.registry.GetAgentSummary(ctx, args.AgentID)
	case "subscribe_to_events":
		return p.registry.SubscribeToEvents(ctx, agentID, args.AgentName, args.EventTypes, args.ExcludeSelf)
	case "unsubscribe_from_events":
		return p.registry.UnsubscribeFromEvents(ctx, args.SubscriptionID)
	case "read_file":
		return p.registry.ReadFile(ctx, args.Path)
	case "list_files":
		return p.registry.ListFiles(ctx, args.Path)
	case "write_file":
		return p.registry.WriteFile(ctx, args.Path, args.Content)
	}
	return tools.Result{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}
}

// IsHealthy reports true; the API client holds no per-agent state that can
// fail independently.
func (p *Provider) IsHealthy(agentID string) bool { return true }

// Interrupt cancels the agent's in-flight turn.
func (p *Provider) Interrupt(agentID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[agentID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cleanup drops the agent's conversation state.
func (p *Provider) Cleanup(agentID string) {
	p.mu.Lock()
	delete(p.conversations, agentID)
	delete(p.agentMu, agentID)
	p.mu.Unlock()
}

// Shutdown drops all state.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	p.conversations = make(map[string][]sdk.MessageParam)
	p.agentMu = make(map[string]*sync.Mutex)
	p.mu.Unlock()
}

// Capabilities declares tool calling without file editing or terminal, so
// the router keeps implementor turns off this backend.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Name:                "anthropic",
		SupportsStreaming:   true,
		SupportsInterrupt:   true,
		SupportsHealthCheck: true,
		SupportsToolCalling: true,
		MaxConcurrentAgents: 32,
		Priority:            p.cfg.Priority,
	}
}
