package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/tools"
)

// toToolResult renders a registry result in MCP terms: failures become tool
// errors, successes become the JSON-encoded payload.
func toToolResult(result tools.Result) *mcp.CallToolResult {
	if !result.Success {
		return mcp.NewToolResultError(result.Error)
	}
	formatted, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to encode result: " + err.Error())
	}
	return mcp.NewToolResultText(string(formatted))
}

func registerTools(s *server.MCPServer, cfg Config, registry *tools.Registry, log *logger.Logger) {
	// List Agents tool
	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List all agents in the workspace with id, name, role and status."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return toToolResult(registry.ListAgents(ctx, cfg.WorkspaceID)), nil
		},
	)

	// Read Agent Conversation tool
	s.AddTool(
		mcp.NewTool("read_agent_conversation",
			mcp.WithDescription("Read an agent's conversation, optionally limited to the last N messages or a turn range."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent whose conversation to read"),
			),
			mcp.WithNumber("last_n",
				mcp.Description("Return only the last N messages (optional)"),
			),
			mcp.WithNumber("start_turn",
				mcp.Description("First turn to include (optional)"),
			),
			mcp.WithNumber("end_turn",
				mcp.Description("Last turn to include (optional)"),
			),
			mcp.WithBoolean("include_tool_calls",
				mcp.Description("Include tool messages (default false)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := req.RequireString("agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.ReadAgentConversation(ctx, tools.ConversationQuery{
				AgentID:          agentID,
				LastN:            req.GetInt("last_n", 0),
				StartTurn:        req.GetInt("start_turn", 0),
				EndTurn:          req.GetInt("end_turn", 0),
				IncludeToolCalls: req.GetBool("include_tool_calls", false),
			})), nil
		},
	)

	// Create Agent tool
	s.AddTool(
		mcp.NewTool("create_agent",
			mcp.WithDescription("Create a CRAFTER or GATE agent in the workspace."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("The agent name"),
			),
			mcp.WithString("role",
				mcp.Required(),
				mcp.Description("The agent role: CRAFTER or GATE"),
			),
			mcp.WithString("parent_id",
				mcp.Description("Parent agent id (optional)"),
			),
			mcp.WithString("model_tier",
				mcp.Description("SMART or FAST (default SMART)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			role, err := req.RequireString("role")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.CreateAgent(ctx, name, role, cfg.WorkspaceID,
				req.GetString("parent_id", ""),
				models.ModelTier(req.GetString("model_tier", "")))), nil
		},
	)

	// Delegate Task tool
	s.AddTool(
		mcp.NewTool("delegate_task",
			mcp.WithDescription("Assign a registered task to an agent and activate it."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent to receive the task"),
			),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task to delegate"),
			),
			mcp.WithString("caller_agent_id",
				mcp.Description("The agent making the call (optional)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := req.RequireString("agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.DelegateTask(ctx, agentID, taskID,
				req.GetString("caller_agent_id", ""))), nil
		},
	)

	// Send Message tool
	s.AddTool(
		mcp.NewTool("send_message_to_agent",
			mcp.WithDescription("Deliver a message into another agent's conversation."),
			mcp.WithString("from_agent_id",
				mcp.Required(),
				mcp.Description("The sending agent"),
			),
			mcp.WithString("to_agent_id",
				mcp.Required(),
				mcp.Description("The receiving agent"),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The message body"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			from, err := req.RequireString("from_agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			to, err := req.RequireString("to_agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			message, err := req.RequireString("message")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.SendMessageToAgent(ctx, from, to, message)), nil
		},
	)

	// Report To Parent tool
	s.AddTool(
		mcp.NewTool("report_to_parent",
			mcp.WithDescription("File a completion report: updates the task status and notifies the parent agent."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The reporting agent"),
			),
			mcp.WithString("task_id",
				mcp.Description("The task the report covers (optional)"),
			),
			mcp.WithString("summary",
				mcp.Required(),
				mcp.Description("What was done and how it was verified"),
			),
			mcp.WithBoolean("success",
				mcp.Required(),
				mcp.Description("True only when verification passed"),
			),
			mcp.WithArray("files_modified",
				mcp.Description("Files changed by the work (optional)"),
			),
			mcp.WithString("verification_results",
				mcp.Description("Output of the verification commands (optional)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := req.RequireString("agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			summary, err := req.RequireString("summary")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.ReportToParent(ctx, &models.CompletionReport{
				AgentID:             agentID,
				TaskID:              req.GetString("task_id", ""),
				Summary:             summary,
				Success:             req.GetBool("success", false),
				FilesModified:       req.GetStringSlice("files_modified", nil),
				VerificationResults: req.GetString("verification_results", ""),
			})), nil
		},
	)

	// Wake Or Create Task Agent tool
	s.AddTool(
		mcp.NewTool("wake_or_create_task_agent",
			mcp.WithDescription("Reactivate the agent assigned to a task, or create a fresh implementor for it."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task to wake an agent for"),
			),
			mcp.WithString("context_message",
				mcp.Description("Context delivered to the agent (optional)"),
			),
			mcp.WithString("caller_agent_id",
				mcp.Description("The agent making the call (optional)"),
			),
			mcp.WithString("agent_name",
				mcp.Description("Name for a newly created agent (optional)"),
			),
			mcp.WithString("model_tier",
				mcp.Description("SMART or FAST (default SMART)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.WakeOrCreateTaskAgent(ctx, taskID,
				req.GetString("context_message", ""),
				req.GetString("caller_agent_id", ""),
				cfg.WorkspaceID,
				req.GetString("agent_name", ""),
				models.ModelTier(req.GetString("model_tier", "")))), nil
		},
	)

	// Send Message To Task Agent tool
	s.AddTool(
		mcp.NewTool("send_message_to_task_agent",
			mcp.WithDescription("Deliver a message to whichever agent owns a task."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task whose owner receives the message"),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The message body"),
			),
			mcp.WithString("caller_agent_id",
				mcp.Description("The agent making the call (optional)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			taskID, err := req.RequireString("task_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			message, err := req.RequireString("message")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.SendMessageToTaskAgent(ctx, taskID, message,
				req.GetString("caller_agent_id", ""))), nil
		},
	)

	// Get Agent Status tool
	s.AddTool(
		mcp.NewTool("get_agent_status",
			mcp.WithDescription("Get an agent's status, conversation size and assigned tasks."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent to inspect"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := req.RequireString("agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.GetAgentStatus(ctx, agentID)), nil
		},
	)

	// Get Agent Summary tool
	s.AddTool(
		mcp.NewTool("get_agent_summary",
			mcp.WithDescription("Get a condensed view of an agent: status, last response, tool-call count, active tasks."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The agent to summarise"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := req.RequireString("agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.GetAgentSummary(ctx, agentID)), nil
		},
	)

	// Subscribe To Events tool
	s.AddTool(
		mcp.NewTool("subscribe_to_events",
			mcp.WithDescription("Subscribe an agent to coordination events, optionally filtered by type."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("The subscribing agent"),
			),
			mcp.WithString("agent_name",
				mcp.Description("The subscribing agent's name (optional)"),
			),
			mcp.WithArray("event_types",
				mcp.Description("Event types to receive; empty means all"),
			),
			mcp.WithBoolean("exclude_self",
				mcp.Description("Drop events emitted by the subscriber (default false)"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID, err := req.RequireString("agent_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.SubscribeToEvents(ctx, agentID,
				req.GetString("agent_name", ""),
				req.GetStringSlice("event_types", nil),
				req.GetBool("exclude_self", false))), nil
		},
	)

	// Unsubscribe From Events tool
	s.AddTool(
		mcp.NewTool("unsubscribe_from_events",
			mcp.WithDescription("Remove an event subscription."),
			mcp.WithString("subscription_id",
				mcp.Required(),
				mcp.Description("The subscription to remove"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			subID, err := req.RequireString("subscription_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.UnsubscribeFromEvents(ctx, subID)), nil
		},
	)

	// Read File tool
	s.AddTool(
		mcp.NewTool("read_file",
			mcp.WithDescription("Read a file inside the workspace."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Path relative to the workspace root"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.ReadFile(ctx, path)), nil
		},
	)

	// List Files tool
	s.AddTool(
		mcp.NewTool("list_files",
			mcp.WithDescription("List a directory inside the workspace."),
			mcp.WithString("path",
				mcp.Description("Directory relative to the workspace root; defaults to the root"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return toToolResult(registry.ListFiles(ctx, req.GetString("path", ""))), nil
		},
	)

	// Write File tool
	s.AddTool(
		mcp.NewTool("write_file",
			mcp.WithDescription("Write a file inside the workspace, creating parent directories."),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Path relative to the workspace root"),
			),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("Full file content"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			path, err := req.RequireString("path")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			content, err := req.RequireString("content")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return toToolResult(registry.WriteFile(ctx, path, content)), nil
		},
	)

	log.Info("registered MCP tools", zap.Int("count", 15))
}
