// Package jsonrpc implements JSON-RPC 2.0 for ACP (Agent Client Protocol)
// over a line-delimited stream.
package jsonrpc

import "encoding/json"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`      // Always "2.0"
	ID      interface{}     `json:"id,omitempty"` // Request ID (int or string), omit for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ACP methods.
const (
	// Client -> Agent
	MethodInitialize     = "initialize"
	MethodSessionNew     = "session/new"
	MethodSessionLoad    = "session/load"
	MethodSessionSetMode = "session/set_mode"
	MethodSessionPrompt  = "session/prompt"
	MethodSessionCancel  = "session/cancel"

	// Agent -> Client notifications
	NotificationSessionUpdate = "session/update"

	// Agent -> Client requests (require a response)
	MethodRequestPermission = "session/request_permission"
)

// Session modes. Plan is read-only; build permits file edits and shell
// execution.
const (
	ModePlan  = "plan"
	ModeBuild = "build"
)

// InitializeParams for the initialize method.
type InitializeParams struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities,omitempty"`
}

// ClientInfo identifies the client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities describes what the client supports.
type ClientCapabilities struct {
	Streaming bool `json:"streaming,omitempty"`
}

// InitializeResult from the initialize method.
type InitializeResult struct {
	ProtocolVersion int        `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// ServerInfo identifies the agent.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SessionNewParams for session/new.
type SessionNewParams struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"` // required, may be empty
}

// McpServer configures an MCP server handed to the agent. Supports stdio
// (command+args) and remote (url+type) transports.
type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
	Type    string   `json:"type,omitempty"` // "sse" or "http"
}

// SessionNewResult from session/new.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// SessionLoadParams for session/load (resume).
type SessionLoadParams struct {
	SessionID string `json:"sessionId"`
}

// SessionSetModeParams for session/set_mode. Mode is selected per turn;
// process identity never encodes a role.
type SessionSetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"` // "plan" or "build"
}

// ContentBlock is one element of a session/prompt payload.
type ContentBlock struct {
	Type string `json:"type"`           // "text", "resource", "image"
	Text string `json:"text,omitempty"` // for type="text"
}

// SessionPromptParams for session/prompt. The prompt is an array of
// content blocks per the ACP protocol.
type SessionPromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// SessionCancelParams for the session/cancel notification.
type SessionCancelParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Session update discriminators.
const (
	UpdateContent    = "content"
	UpdateToolUse    = "tool_use"
	UpdateToolResult = "tool_result"
	UpdateError      = "error"
	UpdateStatus     = "status"
	UpdateComplete   = "complete"
)

// SessionUpdate is the session/update notification payload.
type SessionUpdate struct {
	SessionID string          `json:"sessionId,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SessionUpdateContent for type="content".
type SessionUpdateContent struct {
	Text string `json:"text"`
}

// SessionUpdateToolUse for type="tool_use".
type SessionUpdateToolUse struct {
	ToolName string          `json:"toolName"`
	Args     json.RawMessage `json:"args,omitempty"`
	Status   string          `json:"status"` // pending, running, completed, failed
}

// SessionUpdateToolResult for type="tool_result".
type SessionUpdateToolResult struct {
	ToolName string `json:"toolName"`
	Content  string `json:"content"`
}

// SessionUpdateError for type="error".
type SessionUpdateError struct {
	Message string `json:"message"`
}

// SessionUpdateStatus for type="status".
type SessionUpdateStatus struct {
	Text string `json:"text"`
}

// SessionUpdateComplete for type="complete".
type SessionUpdateComplete struct {
	SessionID  string `json:"sessionId"`
	Success    bool   `json:"success"`
	StopReason string `json:"stopReason,omitempty"`
}

// RequestPermissionParams for session/request_permission from the agent.
type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCallRef        `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallRef identifies the tool call requesting permission.
type ToolCallRef struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
}

// PermissionOption is one permission choice.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"` // allow_once, allow_always, reject_once, reject_always
}

// RequestPermissionResult answers session/request_permission.
type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is the client's decision.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // "selected" or "cancelled"
	OptionID string `json:"optionId,omitempty"`
}
