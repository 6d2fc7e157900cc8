package llm

import (
	sdk "github.com/anthropics/anthropic-sdk-go"
)

// toolDef pairs a tool name with its description and JSON schema.
type toolDef struct {
	name        string
	description string
	schema      map[string]any
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integer(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func boolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

func stringArray(description string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": description}
}

var toolDefs = []toolDef{
	{
		name:        "list_agents",
		description: "List every agent in the workspace with id, name, role and status.",
		schema:      objectSchema(map[string]any{}),
	},
	{
		name:        "read_agent_conversation",
		description: "Read another agent's conversation, optionally the last N messages or a turn range.",
		schema: objectSchema(map[string]any{
			"agent_id":           str("Agent whose conversation to read"),
			"last_n":             integer("Return only the last N messages"),
			"start_turn":         integer("First turn to include"),
			"end_turn":           integer("Last turn to include"),
			"include_tool_calls": boolean("Include tool messages"),
		}, "agent_id"),
	},
	{
		name:        "create_agent",
		description: "Create a CRAFTER or GATE agent parented to the caller.",
		schema: objectSchema(map[string]any{
			"name":       str("Agent name"),
			"role":       str("CRAFTER or GATE"),
			"model_tier": str("SMART or FAST"),
		}, "name", "role"),
	},
	{
		name:        "delegate_task",
		description: "Assign a registered task to an agent and activate it.",
		schema: objectSchema(map[string]any{
			"agent_id": str("Agent to receive the task"),
			"task_id":  str("Task to delegate"),
		}, "agent_id", "task_id"),
	},
	{
		name:        "send_message_to_agent",
		description: "Deliver a message into another agent's conversation.",
		schema: objectSchema(map[string]any{
			"to_agent_id": str("Recipient agent"),
			"message":     str("Message body"),
		}, "to_agent_id", "message"),
	},
	{
		name:        "report_to_parent",
		description: "File a completion report: updates the task status and notifies the parent.",
		schema: objectSchema(map[string]any{
			"task_id":              str("Task the report covers"),
			"summary":              str("What was done and how it was verified"),
			"success":              boolean("True only when verification passed"),
			"files_modified":       stringArray("Files changed by the work"),
			"verification_results": str("Output of the verification commands"),
		}, "summary", "success"),
	},
	{
		name:        "wake_or_create_task_agent",
		description: "Reactivate the agent assigned to a task, or create a fresh crafter for it.",
		schema: objectSchema(map[string]any{
			"task_id":         str("Task to wake an agent for"),
			"context_message": str("Context delivered to the agent"),
			"agent_name":      str("Name for a newly created agent"),
			"model_tier":      str("SMART or FAST"),
		}, "task_id"),
	},
	{
		name:        "send_message_to_task_agent",
		description: "Deliver a message to whichever agent owns a task.",
		schema: objectSchema(map[string]any{
			"task_id": str("Task whose owner receives the message"),
			"message": str("Message body"),
		}, "task_id", "message"),
	},
	{
		name:        "get_agent_status",
		description: "Get an agent's status, conversation size and assigned tasks.",
		schema: objectSchema(map[string]any{
			"agent_id": str("Agent to inspect"),
		}, "agent_id"),
	},
	{
		name:        "get_agent_summary",
		description: "Get a condensed view of an agent: status, last response, tool-call count, active tasks.",
		schema: objectSchema(map[string]any{
			"agent_id": str("Agent to summarise"),
		}, "agent_id"),
	},
	{
		name:        "subscribe_to_events",
		description: "Subscribe to coordination events, optionally filtered by type.",
		schema: objectSchema(map[string]any{
			"event_types":  stringArray("Event types to receive; empty means all"),
			"exclude_self": boolean("Drop events emitted by the subscriber"),
		}),
	},
	{
		name:        "unsubscribe_from_events",
		description: "Remove an event subscription.",
		schema: objectSchema(map[string]any{
			"subscription_id": str("Subscription to remove"),
		}, "subscription_id"),
	},
	{
		name:        "read_file",
		description: "Read a file inside the workspace.",
		schema: objectSchema(map[string]any{
			"path": str("Path relative to the workspace root"),
		}, "path"),
	},
	{
		name:        "list_files",
		description: "List a directory inside the workspace.",
		schema: objectSchema(map[string]any{
			"path": str("Directory relative to the workspace root; defaults to the root"),
		}),
	},
	{
		name:        "write_file",
		description: "Write a file inside the workspace, creating parent directories.",
		schema: objectSchema(map[string]any{
			"path":    str("Path relative to the workspace root"),
			"content": str("Full file content"),
		}, "path", "content"),
	},
}

// toolDefinitions renders the tool surface as Messages API tool params.
func toolDefinitions() []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(toolDefs))
	for _, def := range toolDefs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.schema}, def.name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.description)
		}
		out = append(out, u)
	}
	return out
}
