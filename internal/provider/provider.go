// Package provider defines the agent execution interface shared by every
// backend (ACP subprocess, LLM tool loop, mocks), the capability-based
// router that picks a backend per role, and the resilience wrapper.
package provider

import (
	"context"
	"errors"

	"github.com/routa/routa/internal/models"
)

// Typed provider errors. Validation and routing errors fail fast; transient
// errors are retried by the resilient wrapper.
var (
	ErrNoSuitableProvider = errors.New("no suitable provider for role")
	ErrCircuitOpen        = errors.New("circuit open for agent")
	ErrTurnTimeout        = errors.New("provider turn timed out")
)

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	ChunkText       ChunkType = "TEXT"
	ChunkToolCall   ChunkType = "TOOL_CALL"
	ChunkToolResult ChunkType = "TOOL_RESULT"
	ChunkError      ChunkType = "ERROR"
	ChunkStatus     ChunkType = "STATUS"
)

// ToolCallStatus tracks a streamed tool call's progress.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// StreamChunk is one streamed unit of agent output.
type StreamChunk struct {
	Type       ChunkType      `json:"type"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolStatus ToolCallStatus `json:"tool_status,omitempty"`
	Arguments  string         `json:"arguments,omitempty"`
	Message    string         `json:"message,omitempty"`
}

// ChunkHandler receives stream chunks. Handlers must not block
// indefinitely; a slow handler back-pressures the pipeline.
type ChunkHandler func(chunk StreamChunk)

// Capabilities declares what a provider can do. The router matches these
// against per-role requirements.
type Capabilities struct {
	Name                string `json:"name"`
	SupportsStreaming   bool   `json:"supports_streaming"`
	SupportsInterrupt   bool   `json:"supports_interrupt"`
	SupportsHealthCheck bool   `json:"supports_health_check"`
	SupportsFileEditing bool   `json:"supports_file_editing"`
	SupportsTerminal    bool   `json:"supports_terminal"`
	SupportsToolCalling bool   `json:"supports_tool_calling"`
	MaxConcurrentAgents int    `json:"max_concurrent_agents"`
	Priority            int    `json:"priority"`
}

// Satisfies reports whether the capability record covers a role's
// requirements: ROUTA plans through tool calls, CRAFTER edits files and
// runs commands, GATE runs read-only checks.
func (c Capabilities) Satisfies(role models.AgentRole) bool {
	switch role {
	case models.RoleRouta:
		return c.SupportsToolCalling
	case models.RoleCrafter:
		return c.SupportsFileEditing && c.SupportsTerminal
	case models.RoleGate:
		return c.SupportsTerminal
	}
	return false
}

// AgentProvider executes one turn for a (role, agent, prompt) triple.
// Implementations own any per-agent resources keyed by agent id; only one
// turn may be in flight per agent.
type AgentProvider interface {
	// Run executes a turn and returns the aggregated output text.
	Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error)

	// RunStreaming executes a turn, forwarding chunks as they arrive, and
	// returns the aggregated text output.
	RunStreaming(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk ChunkHandler) (string, error)

	// IsHealthy reports whether the provider can serve the agent.
	IsHealthy(agentID string) bool

	// Interrupt cancels the agent's in-flight turn, if any.
	Interrupt(agentID string)

	// Cleanup releases per-agent resources. Subsequent calls for the agent
	// start fresh.
	Cleanup(agentID string)

	// Shutdown releases everything.
	Shutdown()

	// Capabilities returns the provider's declared capability record.
	Capabilities() Capabilities
}
