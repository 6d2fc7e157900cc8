// Package acp runs coding agents as subprocesses speaking the Agent Client
// Protocol (JSON-RPC 2.0 over stdio). One subprocess and one session per
// agent id; the session mode is switched per role before each turn.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/provider"
	"github.com/routa/routa/pkg/acp/jsonrpc"
)

// Preset describes how to launch an agent binary.
type Preset struct {
	ID           string            `yaml:"id" json:"id"`
	Command      string            `yaml:"command" json:"command"`
	Args         []string          `yaml:"args" json:"args"`
	Env          map[string]string `yaml:"env" json:"env"`
	AutoApprove  bool              `yaml:"auto_approve" json:"auto_approve"`
	AllowedTools []string          `yaml:"allowed_tools" json:"allowed_tools"`
}

// Config tunes the subprocess provider.
type Config struct {
	WorkspaceRoot string
	SpawnTimeout  time.Duration // default 30s
	TurnTimeout   time.Duration // default 10m
	Priority      int
	MaxAgents     int
}

// agentHandle owns one subprocess and its ACP session.
type agentHandle struct {
	cmd       *exec.Cmd
	client    *jsonrpc.Client
	sessionID string
	presetID  string
	mode      string
	createdAt time.Time
	cancel    context.CancelFunc

	// turnMu serialises turns: one prompt in flight per agent.
	turnMu sync.Mutex
}

// Provider spawns and drives ACP agent subprocesses.
type Provider struct {
	preset Preset
	cfg    Config
	logger *logger.Logger

	handles map[string]*agentHandle
	mu      sync.Mutex
}

var _ provider.AgentProvider = (*Provider)(nil)

// New creates a subprocess provider for one preset.
func New(preset Preset, cfg Config, log *logger.Logger) *Provider {
	if cfg.SpawnTimeout <= 0 {
		cfg.SpawnTimeout = 30 * time.Second
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 10 * time.Minute
	}
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = 8
	}
	return &Provider{
		preset:  preset,
		cfg:     cfg,
		logger:  log.WithComponent("acp-provider").WithFields(zap.String("preset", preset.ID)),
		handles: make(map[string]*agentHandle),
	}
}

// modeForRole maps roles onto session modes: planners and verifiers run
// read-only, implementors get file edits and shell.
func modeForRole(role models.AgentRole) string {
	if role == models.RoleCrafter {
		return jsonrpc.ModeBuild
	}
	return jsonrpc.ModePlan
}

// handleFor returns the agent's subprocess handle, spawning one on first use.
func (p *Provider) handleFor(ctx context.Context, agentID string) (*agentHandle, error) {
	p.mu.Lock()
	if h, ok := p.handles[agentID]; ok {
		p.mu.Unlock()
		return h, nil
	}
	if len(p.handles) >= p.cfg.MaxAgents {
		p.mu.Unlock()
		return nil, fmt.Errorf("agent limit reached (%d)", p.cfg.MaxAgents)
	}
	p.mu.Unlock()

	h, err := p.spawn(ctx, agentID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.handles[agentID]; ok {
		// Lost the race; keep the first one.
		go p.teardown(agentID, h)
		return existing, nil
	}
	p.handles[agentID] = h
	return h, nil
}

func (p *Provider) spawn(ctx context.Context, agentID string) (*agentHandle, error) {
	procCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.Command(p.preset.Command, p.preset.Args...)
	cmd.Dir = p.cfg.WorkspaceRoot
	cmd.Env = os.Environ()
	for k, v := range p.preset.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start agent process: %w", err)
	}

	// Drain stderr into debug logs so the pipe never fills.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Debug("agent stderr",
				zap.String("agent_id", agentID),
				zap.String("line", scanner.Text()))
		}
	}()

	client := jsonrpc.NewClient(stdin, stdout, p.logger.Zap())
	client.SetRequestHandler(func(id interface{}, method string, params json.RawMessage) {
		p.handleAgentRequest(client, agentID, id, method, params)
	})
	client.Start(procCtx)

	h := &agentHandle{
		cmd:       cmd,
		client:    client,
		presetID:  p.preset.ID,
		createdAt: time.Now().UTC(),
		cancel:    cancel,
	}

	spawnCtx, spawnCancel := context.WithTimeout(ctx, p.cfg.SpawnTimeout)
	defer spawnCancel()

	if err := p.initialize(spawnCtx, h); err != nil {
		p.teardown(agentID, h)
		return nil, err
	}

	p.logger.Info("agent process spawned",
		zap.String("agent_id", agentID),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("session_id", h.sessionID))
	return h, nil
}

func (p *Provider) initialize(ctx context.Context, h *agentHandle) error {
	initResp, err := h.client.Call(ctx, jsonrpc.MethodInitialize, jsonrpc.InitializeParams{
		ProtocolVersion: 1,
		ClientInfo:      jsonrpc.ClientInfo{Name: "routa", Version: "1.0.0"},
		Capabilities:    jsonrpc.ClientCapabilities{Streaming: true},
	})
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("initialize rejected: %s", initResp.Error.Message)
	}

	sessResp, err := h.client.Call(ctx, jsonrpc.MethodSessionNew, jsonrpc.SessionNewParams{
		Cwd:        p.cfg.WorkspaceRoot,
		McpServers: []jsonrpc.McpServer{},
	})
	if err != nil {
		return fmt.Errorf("session/new failed: %w", err)
	}
	if sessResp.Error != nil {
		return fmt.Errorf("session/new rejected: %s", sessResp.Error.Message)
	}
	var result jsonrpc.SessionNewResult
	if err := json.Unmarshal(sessResp.Result, &result); err != nil {
		return fmt.Errorf("failed to parse session/new result: %w", err)
	}
	if result.SessionID == "" {
		return fmt.Errorf("session/new returned empty session id")
	}
	h.sessionID = result.SessionID
	return nil
}

// handleAgentRequest answers agent-to-client requests. Permission requests
// are auto-approved when the preset allows the tool; everything else is
// rejected.
func (p *Provider) handleAgentRequest(client *jsonrpc.Client, agentID string, id interface{}, method string, params json.RawMessage) {
	if method != jsonrpc.MethodRequestPermission {
		_ = client.SendResponse(id, nil, &jsonrpc.Error{
			Code:    jsonrpc.MethodNotFound,
			Message: fmt.Sprintf("unsupported method %s", method),
		})
		return
	}

	var req jsonrpc.RequestPermissionParams
	if err := json.Unmarshal(params, &req); err != nil {
		_ = client.SendResponse(id, nil, &jsonrpc.Error{
			Code:    jsonrpc.InvalidParams,
			Message: "malformed permission request",
		})
		return
	}

	allowed := p.toolAllowed(req.ToolCall.ToolName)
	outcome := p.pickOption(req.Options, allowed)

	p.logger.Info("permission request handled",
		zap.String("agent_id", agentID),
		zap.String("tool", req.ToolCall.ToolName),
		zap.Bool("allowed", allowed))

	_ = client.SendResponse(id, jsonrpc.RequestPermissionResult{Outcome: outcome}, nil)
}

func (p *Provider) toolAllowed(toolName string) bool {
	if !p.preset.AutoApprove {
		return false
	}
	if len(p.preset.AllowedTools) == 0 {
		return true
	}
	for _, t := range p.preset.AllowedTools {
		if strings.EqualFold(t, toolName) {
			return true
		}
	}
	return false
}

func (p *Provider) pickOption(options []jsonrpc.PermissionOption, allow bool) jsonrpc.PermissionOutcome {
	want := "allow_once"
	if !allow {
		want = "reject_once"
	}
	for _, opt := range options {
		if opt.Kind == want {
			return jsonrpc.PermissionOutcome{Outcome: "selected", OptionID: opt.OptionID}
		}
	}
	// No matching option kind; fall back to cancelling the tool call.
	return jsonrpc.PermissionOutcome{Outcome: "cancelled"}
}

// Run executes a turn and returns the aggregated output.
func (p *Provider) Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error) {
	return p.RunStreaming(ctx, role, agentID, prompt, nil)
}

// RunStreaming executes a turn, translating session/update notifications
// into stream chunks.
func (p *Provider) RunStreaming(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk provider.ChunkHandler) (string, error) {
	h, err := p.handleFor(ctx, agentID)
	if err != nil {
		return "", err
	}

	h.turnMu.Lock()
	defer h.turnMu.Unlock()

	if err := p.ensureMode(ctx, h, role); err != nil {
		return "", err
	}

	turnCtx, cancel := context.WithTimeout(ctx, p.cfg.TurnTimeout)
	defer cancel()

	var output strings.Builder
	turnDone := make(chan error, 1)

	h.client.SetNotificationHandler(func(method string, params json.RawMessage) {
		if method != jsonrpc.NotificationSessionUpdate {
			return
		}
		var update jsonrpc.SessionUpdate
		if err := json.Unmarshal(params, &update); err != nil {
			p.logger.Warn("malformed session update", zap.Error(err))
			return
		}
		if update.SessionID != "" && update.SessionID != h.sessionID {
			return
		}
		p.applyUpdate(&update, &output, onChunk, turnDone)
	})
	defer h.client.SetNotificationHandler(nil)

	resp, err := h.client.Call(turnCtx, jsonrpc.MethodSessionPrompt, jsonrpc.SessionPromptParams{
		SessionID: h.sessionID,
		Prompt:    []jsonrpc.ContentBlock{{Type: "text", Text: prompt}},
	})
	if err != nil {
		if turnCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w after %s", provider.ErrTurnTimeout, p.cfg.TurnTimeout)
		}
		return "", fmt.Errorf("session/prompt failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("session/prompt rejected: %s", resp.Error.Message)
	}

	// Some agents signal completion via the response alone; others via an
	// explicit complete update that may trail the response.
	select {
	case err := <-turnDone:
		if err != nil {
			return output.String(), err
		}
	case <-time.After(100 * time.Millisecond):
	case <-turnCtx.Done():
		return output.String(), turnCtx.Err()
	}

	return output.String(), nil
}

func (p *Provider) applyUpdate(update *jsonrpc.SessionUpdate, output *strings.Builder, onChunk provider.ChunkHandler, turnDone chan<- error) {
	emit := func(chunk provider.StreamChunk) {
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	switch update.Type {
	case jsonrpc.UpdateContent:
		var data jsonrpc.SessionUpdateContent
		if err := json.Unmarshal(update.Data, &data); err != nil {
			return
		}
		output.WriteString(data.Text)
		emit(provider.StreamChunk{Type: provider.ChunkText, Content: data.Text})

	case jsonrpc.UpdateToolUse:
		var data jsonrpc.SessionUpdateToolUse
		if err := json.Unmarshal(update.Data, &data); err != nil {
			return
		}
		emit(provider.StreamChunk{
			Type:       provider.ChunkToolCall,
			ToolName:   data.ToolName,
			ToolStatus: provider.ToolCallStatus(data.Status),
			Arguments:  string(data.Args),
		})

	case jsonrpc.UpdateToolResult:
		var data jsonrpc.SessionUpdateToolResult
		if err := json.Unmarshal(update.Data, &data); err != nil {
			return
		}
		emit(provider.StreamChunk{
			Type:     provider.ChunkToolResult,
			ToolName: data.ToolName,
			Content:  data.Content,
		})

	case jsonrpc.UpdateStatus:
		var data jsonrpc.SessionUpdateStatus
		if err := json.Unmarshal(update.Data, &data); err != nil {
			return
		}
		emit(provider.StreamChunk{Type: provider.ChunkStatus, Message: data.Text})

	case jsonrpc.UpdateError:
		var data jsonrpc.SessionUpdateError
		if err := json.Unmarshal(update.Data, &data); err != nil {
			return
		}
		emit(provider.StreamChunk{Type: provider.ChunkError, Message: data.Message})
		select {
		case turnDone <- fmt.Errorf("agent error: %s", data.Message):
		default:
		}

	case jsonrpc.UpdateComplete:
		var data jsonrpc.SessionUpdateComplete
		_ = json.Unmarshal(update.Data, &data)
		var err error
		if !data.Success && data.StopReason != "" {
			err = fmt.Errorf("turn stopped: %s", data.StopReason)
		}
		select {
		case turnDone <- err:
		default:
		}
	}
}

// ensureMode switches the session mode when the role demands a different one.
func (p *Provider) ensureMode(ctx context.Context, h *agentHandle, role models.AgentRole) error {
	mode := modeForRole(role)
	if h.mode == mode {
		return nil
	}
	resp, err := h.client.Call(ctx, jsonrpc.MethodSessionSetMode, jsonrpc.SessionSetModeParams{
		SessionID: h.sessionID,
		ModeID:    mode,
	})
	if err != nil {
		return fmt.Errorf("session/set_mode failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("session/set_mode rejected: %s", resp.Error.Message)
	}
	h.mode = mode
	return nil
}

// IsHealthy reports whether the agent's subprocess is still running.
func (p *Provider) IsHealthy(agentID string) bool {
	p.mu.Lock()
	h, ok := p.handles[agentID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return h.cmd.Process != nil && h.cmd.ProcessState == nil
}

// Interrupt cancels the agent's in-flight turn via session/cancel.
func (p *Provider) Interrupt(agentID string) {
	p.mu.Lock()
	h, ok := p.handles[agentID]
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := h.client.Notify(jsonrpc.MethodSessionCancel, jsonrpc.SessionCancelParams{
		SessionID: h.sessionID,
		Reason:    "interrupted",
	}); err != nil {
		p.logger.Warn("failed to send session/cancel",
			zap.String("agent_id", agentID), zap.Error(err))
	}
}

// Cleanup kills the agent's subprocess and forgets its session.
func (p *Provider) Cleanup(agentID string) {
	p.mu.Lock()
	h, ok := p.handles[agentID]
	if ok {
		delete(p.handles, agentID)
	}
	p.mu.Unlock()
	if ok {
		p.teardown(agentID, h)
	}
}

func (p *Provider) teardown(agentID string, h *agentHandle) {
	h.client.Stop()
	h.cancel()
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
		_ = h.cmd.Wait()
	}
	p.logger.Info("agent process terminated", zap.String("agent_id", agentID))
}

// Shutdown terminates every subprocess.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[string]*agentHandle)
	p.mu.Unlock()
	for agentID, h := range handles {
		p.teardown(agentID, h)
	}
}

// Capabilities declares the subprocess backend: full coding-agent surface.
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Name:                "acp-" + p.preset.ID,
		SupportsStreaming:   true,
		SupportsInterrupt:   true,
		SupportsHealthCheck: true,
		SupportsFileEditing: true,
		SupportsTerminal:    true,
		SupportsToolCalling: true,
		MaxConcurrentAgents: p.cfg.MaxAgents,
		Priority:            p.cfg.Priority,
	}
}
