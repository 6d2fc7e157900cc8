// Package tools implements the coordination tool surface invoked by agents:
// inter-agent messaging, delegation, reporting, event subscriptions and
// workspace-rooted file access. The same surface is re-exported over MCP.
package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/events"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/store"
)

// Result is the uniform tool return shape. Failures are reported in-band;
// tool calls never crash a stage.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

func fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Registry owns the tool implementations and their shared dependencies.
type Registry struct {
	stores        *store.Stores
	bus           *events.Bus
	workspaceRoot string
	logger        *logger.Logger
}

// NewRegistry creates a tool registry rooted at workspaceRoot.
func NewRegistry(stores *store.Stores, bus *events.Bus, workspaceRoot string, log *logger.Logger) *Registry {
	return &Registry{
		stores:        stores,
		bus:           bus,
		workspaceRoot: workspaceRoot,
		logger:        log.WithComponent("agent-tools"),
	}
}

// Stores exposes the underlying stores for stage bodies.
func (r *Registry) Stores() *store.Stores { return r.stores }

// Bus exposes the event bus.
func (r *Registry) Bus() *events.Bus { return r.bus }

// RoleAllowed reports whether a role may invoke a tool. The prompts state
// the same contract; this is the defensive check.
func RoleAllowed(role models.AgentRole, tool string) bool {
	switch role {
	case models.RoleRouta, models.RoleGate:
		return tool != "write_file"
	case models.RoleCrafter:
		return tool != "create_agent" && tool != "delegate_task" && tool != "wake_or_create_task_agent"
	}
	return true
}

// AgentInfo is the list_agents row shape.
type AgentInfo struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Role     models.AgentRole   `json:"role"`
	Status   models.AgentStatus `json:"status"`
	ParentID string             `json:"parent_id,omitempty"`
}

// ListAgents returns every agent in the workspace.
func (r *Registry) ListAgents(ctx context.Context, workspaceID string) Result {
	agents, err := r.stores.Agents.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return fail("failed to list agents: %v", err)
	}
	infos := make([]AgentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, AgentInfo{ID: a.ID, Name: a.Name, Role: a.Role, Status: a.Status, ParentID: a.ParentID})
	}
	return ok(infos)
}

// ConversationQuery selects a slice of an agent's conversation.
type ConversationQuery struct {
	AgentID          string `json:"agent_id"`
	LastN            int    `json:"last_n,omitempty"`
	StartTurn        int    `json:"start_turn,omitempty"`
	EndTurn          int    `json:"end_turn,omitempty"`
	IncludeToolCalls bool   `json:"include_tool_calls,omitempty"`
}

// ReadAgentConversation returns messages for an agent, optionally limited
// to the last N or a turn range, excluding tool messages unless asked.
func (r *Registry) ReadAgentConversation(ctx context.Context, q ConversationQuery) Result {
	if _, err := r.stores.Agents.Get(ctx, q.AgentID); err != nil {
		return fail("agent not found: %s", q.AgentID)
	}

	var msgs []*models.Message
	var err error
	switch {
	case q.StartTurn > 0 || q.EndTurn > 0:
		end := q.EndTurn
		if end == 0 {
			end = int(^uint(0) >> 1)
		}
		msgs, err = r.stores.Conversations.GetByTurnRange(ctx, q.AgentID, q.StartTurn, end)
	case q.LastN > 0:
		msgs, err = r.stores.Conversations.GetLastN(ctx, q.AgentID, q.LastN)
	default:
		msgs, err = r.stores.Conversations.GetConversation(ctx, q.AgentID)
	}
	if err != nil {
		return fail("failed to read conversation: %v", err)
	}

	if !q.IncludeToolCalls {
		filtered := msgs[:0]
		for _, m := range msgs {
			if m.Role != models.MessageRoleTool {
				filtered = append(filtered, m)
			}
		}
		msgs = filtered
	}
	return ok(msgs)
}

// CreateAgent creates a CRAFTER or GATE agent and emits AGENT_CREATED.
func (r *Registry) CreateAgent(ctx context.Context, name, role, workspaceID, parentID string, tier models.ModelTier) Result {
	parsedRole, valid := models.ParseRole(role)
	if !valid {
		return fail("unknown role: %s", role)
	}
	if name == "" {
		return fail("agent name is required")
	}
	if parentID != "" {
		if _, err := r.stores.Agents.Get(ctx, parentID); err != nil {
			return fail("parent agent not found: %s", parentID)
		}
	}
	if tier == "" {
		tier = models.TierSmart
	}

	agent := &models.Agent{
		Name:        name,
		Role:        parsedRole,
		WorkspaceID: workspaceID,
		ParentID:    parentID,
		ModelTier:   tier,
		Status:      models.AgentPending,
	}
	if err := r.stores.Agents.Save(ctx, agent); err != nil {
		return fail("failed to save agent: %v", err)
	}

	r.bus.Emit(events.NewEvent(events.AgentCreated, agent.ID, workspaceID, map[string]any{
		"name": name,
		"role": role,
	}))
	r.logger.Info("agent created",
		zap.String("agent_id", agent.ID),
		zap.String("name", name),
		zap.String("role", role))
	return ok(map[string]string{"agent_id": agent.ID})
}

// DelegateTask assigns a task to an agent, moves the task to IN_PROGRESS,
// activates the agent and appends the delegation message.
func (r *Registry) DelegateTask(ctx context.Context, agentID, taskID, callerAgentID string) Result {
	if callerAgentID != "" {
		caller, err := r.stores.Agents.Get(ctx, callerAgentID)
		if err != nil {
			return fail("caller agent not found: %s", callerAgentID)
		}
		if !RoleAllowed(caller.Role, "delegate_task") {
			return fail("role %s may not delegate tasks", caller.Role)
		}
	}

	agent, err := r.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return fail("agent not found: %s", agentID)
	}
	if agent.Status == models.AgentCompleted || agent.Status == models.AgentError {
		return fail("agent %s is %s and cannot accept tasks", agentID, agent.Status)
	}
	task, err := r.stores.Tasks.Get(ctx, taskID)
	if err != nil {
		return fail("task not found: %s", taskID)
	}

	task.AssignedTo = agentID
	task.Status = models.TaskInProgress
	if err := r.stores.Tasks.Save(ctx, task); err != nil {
		return fail("failed to save task: %v", err)
	}
	if err := r.stores.Agents.UpdateStatus(ctx, agentID, models.AgentActive); err != nil {
		return fail("failed to activate agent: %v", err)
	}

	msg := &models.Message{
		AgentID: agentID,
		Role:    models.MessageRoleUser,
		Content: fmt.Sprintf("Task delegated: %s\nObjective: %s", task.Title, task.Objective),
	}
	if err := r.stores.Conversations.Append(ctx, msg); err != nil {
		return fail("failed to append delegation message: %v", err)
	}

	r.bus.Emit(events.NewEvent(events.TaskAssigned, agentID, task.WorkspaceID, map[string]any{
		"task_id": taskID,
		"title":   task.Title,
	}))
	r.logger.Info("task delegated",
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID))
	return ok(map[string]string{"task_id": taskID, "agent_id": agentID})
}

// SendMessageToAgent appends a user message to the recipient's conversation
// and emits MESSAGE_SENT.
func (r *Registry) SendMessageToAgent(ctx context.Context, fromAgentID, toAgentID, message string) Result {
	recipient, err := r.stores.Agents.Get(ctx, toAgentID)
	if err != nil {
		return fail("recipient agent not found: %s", toAgentID)
	}

	msg := &models.Message{
		AgentID: toAgentID,
		Role:    models.MessageRoleUser,
		Content: fmt.Sprintf("[From agent %s]: %s", fromAgentID, message),
	}
	if err := r.stores.Conversations.Append(ctx, msg); err != nil {
		return fail("failed to append message: %v", err)
	}

	r.bus.Emit(events.NewEvent(events.MessageSent, fromAgentID, recipient.WorkspaceID, map[string]any{
		"to": toAgentID,
	}))
	return ok(map[string]string{"delivered_to": toAgentID})
}

// ReportToParent files a completion report: it updates the task status and
// summary, completes the reporting agent and notifies the parent's
// conversation.
func (r *Registry) ReportToParent(ctx context.Context, report *models.CompletionReport) Result {
	agent, err := r.stores.Agents.Get(ctx, report.AgentID)
	if err != nil {
		return fail("agent not found: %s", report.AgentID)
	}
	if agent.ParentID == "" {
		return fail("agent %s has no parent to report to", report.AgentID)
	}

	if report.TaskID != "" {
		task, err := r.stores.Tasks.Get(ctx, report.TaskID)
		if err != nil {
			return fail("task not found: %s", report.TaskID)
		}
		if report.Success {
			task.Status = models.TaskCompleted
		} else {
			task.Status = models.TaskNeedsFix
		}
		task.CompletionSummary = report.Summary
		if err := r.stores.Tasks.Save(ctx, task); err != nil {
			return fail("failed to save task: %v", err)
		}
		r.bus.Emit(events.NewEvent(events.TaskStatusChange, report.AgentID, task.WorkspaceID, map[string]any{
			"task_id": task.ID,
			"status":  string(task.Status),
		}))
	}

	if err := r.stores.Agents.UpdateStatus(ctx, report.AgentID, models.AgentCompleted); err != nil {
		return fail("failed to complete agent: %v", err)
	}

	content := formatCompletionReport(agent, report)
	msg := &models.Message{
		AgentID: agent.ParentID,
		Role:    models.MessageRoleUser,
		Content: content,
	}
	if err := r.stores.Conversations.Append(ctx, msg); err != nil {
		return fail("failed to notify parent: %v", err)
	}

	r.bus.Emit(events.NewEvent(events.ReportSubmitted, report.AgentID, agent.WorkspaceID, map[string]any{
		"task_id": report.TaskID,
		"success": report.Success,
	}))
	r.logger.Info("completion report filed",
		zap.String("agent_id", report.AgentID),
		zap.String("task_id", report.TaskID),
		zap.Bool("success", report.Success))
	return ok(map[string]string{"reported_to": agent.ParentID})
}

func formatCompletionReport(agent *models.Agent, report *models.CompletionReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Completion Report from %s (%s)]\n", agent.Name, agent.ID)
	fmt.Fprintf(&b, "Task: %s\n", report.TaskID)
	fmt.Fprintf(&b, "Success: %t\n", report.Success)
	fmt.Fprintf(&b, "Summary: %s", report.Summary)
	if len(report.FilesModified) > 0 {
		fmt.Fprintf(&b, "\nFiles Modified: %s", strings.Join(report.FilesModified, ", "))
	}
	return b.String()
}

// WakeOrCreateTaskAgent reactivates the agent already assigned to the task,
// or creates a fresh crafter and delegates the task to it. Either way the
// context message lands in the agent's conversation.
func (r *Registry) WakeOrCreateTaskAgent(ctx context.Context, taskID, contextMessage, callerAgentID, workspaceID, agentName string, tier models.ModelTier) Result {
	task, err := r.stores.Tasks.Get(ctx, taskID)
	if err != nil {
		return fail("task not found: %s", taskID)
	}

	if task.AssignedTo != "" {
		if agent, err := r.stores.Agents.Get(ctx, task.AssignedTo); err == nil &&
			agent.Status != models.AgentCompleted && agent.Status != models.AgentError {
			if err := r.stores.Agents.UpdateStatus(ctx, agent.ID, models.AgentActive); err != nil {
				return fail("failed to reactivate agent: %v", err)
			}
			if res := r.SendMessageToAgent(ctx, callerAgentID, agent.ID, contextMessage); !res.Success {
				return res
			}
			return ok(map[string]any{"agent_id": agent.ID, "created": false})
		}
	}

	if agentName == "" {
		agentName = CrafterNameForTask(task.Title)
	}
	created := r.CreateAgent(ctx, agentName, string(models.RoleCrafter), workspaceID, callerAgentID, tier)
	if !created.Success {
		return created
	}
	agentID := created.Data.(map[string]string)["agent_id"]

	if res := r.DelegateTask(ctx, agentID, taskID, callerAgentID); !res.Success {
		return res
	}
	if contextMessage != "" {
		if res := r.SendMessageToAgent(ctx, callerAgentID, agentID, contextMessage); !res.Success {
			return res
		}
	}
	return ok(map[string]any{"agent_id": agentID, "created": true})
}

// SendMessageToTaskAgent routes a message to whichever agent owns the task.
func (r *Registry) SendMessageToTaskAgent(ctx context.Context, taskID, message, callerAgentID string) Result {
	task, err := r.stores.Tasks.Get(ctx, taskID)
	if err != nil {
		return fail("task not found: %s", taskID)
	}
	if task.AssignedTo == "" {
		return fail("task %s has no assigned agent", taskID)
	}
	return r.SendMessageToAgent(ctx, callerAgentID, task.AssignedTo, message)
}

// AgentStatusInfo is the get_agent_status result shape.
type AgentStatusInfo struct {
	Name         string               `json:"name"`
	Role         models.AgentRole     `json:"role"`
	Status       models.AgentStatus   `json:"status"`
	ModelTier    models.ModelTier     `json:"model_tier"`
	ParentID     string               `json:"parent_id,omitempty"`
	MessageCount int                  `json:"message_count"`
	Tasks        []models.TaskSummary `json:"tasks"`
}

// GetAgentStatus returns an agent's status, conversation size and tasks.
func (r *Registry) GetAgentStatus(ctx context.Context, agentID string) Result {
	agent, err := r.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return fail("agent not found: %s", agentID)
	}
	count, err := r.stores.Conversations.GetMessageCount(ctx, agentID)
	if err != nil {
		return fail("failed to count messages: %v", err)
	}
	tasks, err := r.stores.Tasks.ListByAssignee(ctx, agentID)
	if err != nil {
		return fail("failed to list tasks: %v", err)
	}
	summaries := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, models.TaskSummary{Title: t.Title, Status: t.Status, Summary: t.CompletionSummary})
	}
	return ok(AgentStatusInfo{
		Name:         agent.Name,
		Role:         agent.Role,
		Status:       agent.Status,
		ModelTier:    agent.ModelTier,
		ParentID:     agent.ParentID,
		MessageCount: count,
		Tasks:        summaries,
	})
}

// AgentSummaryInfo is the get_agent_summary result shape.
type AgentSummaryInfo struct {
	Status        models.AgentStatus `json:"status"`
	LastResponse  string             `json:"last_response,omitempty"`
	ToolCallCount int                `json:"tool_call_count"`
	ActiveTasks   []string           `json:"active_tasks"`
}

const lastResponseLimit = 500

// GetAgentSummary returns a condensed view of an agent: status, last
// assistant response (truncated), tool-call count, active task titles.
func (r *Registry) GetAgentSummary(ctx context.Context, agentID string) Result {
	agent, err := r.stores.Agents.Get(ctx, agentID)
	if err != nil {
		return fail("agent not found: %s", agentID)
	}
	msgs, err := r.stores.Conversations.GetConversation(ctx, agentID)
	if err != nil {
		return fail("failed to read conversation: %v", err)
	}

	lastResponse := ""
	toolCalls := 0
	for _, m := range msgs {
		switch m.Role {
		case models.MessageRoleAssistant:
			lastResponse = m.Content
		case models.MessageRoleTool:
			toolCalls++
		}
	}
	lastResponse = Truncate(lastResponse, lastResponseLimit)

	tasks, err := r.stores.Tasks.ListByAssignee(ctx, agentID)
	if err != nil {
		return fail("failed to list tasks: %v", err)
	}
	active := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == models.TaskInProgress || t.Status == models.TaskReviewRequired || t.Status == models.TaskNeedsFix {
			active = append(active, t.Title)
		}
	}

	return ok(AgentSummaryInfo{
		Status:        agent.Status,
		LastResponse:  lastResponse,
		ToolCallCount: toolCalls,
		ActiveTasks:   active,
	})
}

// SubscribeToEvents registers an event subscription for an agent.
func (r *Registry) SubscribeToEvents(ctx context.Context, agentID, agentName string, eventTypes []string, excludeSelf bool) Result {
	types := make([]events.EventType, 0, len(eventTypes))
	for _, t := range eventTypes {
		types = append(types, events.EventType(t))
	}
	subID := r.bus.Subscribe(events.Filter{
		AgentID:     agentID,
		AgentName:   agentName,
		EventTypes:  types,
		ExcludeSelf: excludeSelf,
	}, nil)
	return ok(map[string]string{"subscription_id": subID})
}

// UnsubscribeFromEvents removes an event subscription.
func (r *Registry) UnsubscribeFromEvents(ctx context.Context, subscriptionID string) Result {
	return ok(map[string]bool{"unsubscribed": r.bus.Unsubscribe(subscriptionID)})
}

// CrafterNameForTask derives an agent name from a task title: lowercase,
// with every non-alphanumeric run collapsed to a dash.
func CrafterNameForTask(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "crafter"
	}
	return "crafter-" + name
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
