// Package coordinator owns the coordination state of a workspace: the root
// planner agent, the task set, and the agent-context assembly for every
// role. Stage bodies read through it; only its methods mutate the state.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/events"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/prompts"
	"github.com/routa/routa/internal/store"
	"github.com/routa/routa/internal/tools"
)

const (
	routaAgentName = "routa-main"
	gateAgentName  = "gate-verifier"

	// crafterContextMessages bounds how much sibling conversation is folded
	// into a gate briefing.
	crafterContextMessages = 5
	crafterContextLimit    = 500
)

// Coordinator manages one workspace's coordination session.
type Coordinator struct {
	stores *store.Stores
	bus    *events.Bus
	logger *logger.Logger

	state models.CoordinationState
	mu    sync.RWMutex
}

// New creates a coordinator over the given stores and event bus.
func New(stores *store.Stores, bus *events.Bus, log *logger.Logger) *Coordinator {
	return &Coordinator{
		stores: stores,
		bus:    bus,
		logger: log.WithComponent("coordinator"),
	}
}

// State returns a snapshot of the coordination state.
func (c *Coordinator) State() models.CoordinationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := c.state
	state.TaskIDs = append([]string(nil), c.state.TaskIDs...)
	state.ActiveCrafterIDs = append([]string(nil), c.state.ActiveCrafterIDs...)
	return state
}

// SetPhase transitions the coordination phase and emits the change.
func (c *Coordinator) SetPhase(phase models.CoordinationPhase) {
	c.mu.Lock()
	c.state.Phase = phase
	workspaceID := c.state.WorkspaceID
	routaID := c.state.RoutaAgentID
	c.mu.Unlock()

	c.bus.Emit(events.NewEvent(events.PhaseChange, routaID, workspaceID, map[string]any{
		"phase": string(phase),
	}))
}

// Initialize creates the workspace's single planner agent and enters the
// PLANNING phase. Exactly one ROUTA exists per workspace; a second
// initialization reuses it.
func (c *Coordinator) Initialize(ctx context.Context, workspaceID string) (*models.Agent, error) {
	existing, err := c.stores.Agents.ListByRole(ctx, workspaceID, models.RoleRouta)
	if err != nil {
		return nil, fmt.Errorf("failed to look up planner: %w", err)
	}

	var routa *models.Agent
	if len(existing) > 0 {
		routa = existing[0]
		if err := c.stores.Agents.UpdateStatus(ctx, routa.ID, models.AgentActive); err != nil {
			return nil, fmt.Errorf("failed to reactivate planner: %w", err)
		}
		routa.Status = models.AgentActive
	} else {
		routa = &models.Agent{
			Name:        routaAgentName,
			Role:        models.RoleRouta,
			WorkspaceID: workspaceID,
			ModelTier:   models.TierSmart,
			Status:      models.AgentActive,
		}
		if err := c.stores.Agents.Save(ctx, routa); err != nil {
			return nil, fmt.Errorf("failed to create planner: %w", err)
		}
		c.bus.Emit(events.NewEvent(events.AgentCreated, routa.ID, workspaceID, map[string]any{
			"name": routa.Name,
			"role": string(routa.Role),
		}))
	}

	c.mu.Lock()
	c.state = models.CoordinationState{
		WorkspaceID:  workspaceID,
		RoutaAgentID: routa.ID,
		Phase:        models.PhasePlanning,
	}
	c.mu.Unlock()

	c.logger.Info("coordination session initialized",
		zap.String("workspace_id", workspaceID),
		zap.String("routa_agent_id", routa.ID))
	return routa, nil
}

// RegisterTasks records the task ids produced by planning.
func (c *Coordinator) RegisterTasks(taskIDs []string) {
	c.mu.Lock()
	c.state.TaskIDs = append([]string(nil), taskIDs...)
	c.mu.Unlock()
}

// TrackCrafter records a crafter as active for the current wave.
func (c *Coordinator) TrackCrafter(agentID string) {
	c.mu.Lock()
	c.state.ActiveCrafterIDs = append(c.state.ActiveCrafterIDs, agentID)
	c.mu.Unlock()
}

// NextWave increments and returns the wave number.
func (c *Coordinator) NextWave() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.WaveNumber++
	c.state.ActiveCrafterIDs = nil
	return c.state.WaveNumber
}

// BuildAgentContext assembles the full prompt context for an agent turn:
// the role system prompt plus role-specific working context.
func (c *Coordinator) BuildAgentContext(ctx context.Context, agent *models.Agent) (string, error) {
	var b strings.Builder
	b.WriteString(prompts.ForRole(agent.Role))

	switch agent.Role {
	case models.RoleCrafter:
		if err := c.writeCrafterContext(ctx, &b, agent); err != nil {
			return "", err
		}
	case models.RoleGate:
		if err := c.writeGateContext(ctx, &b, agent.WorkspaceID); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// writeCrafterContext appends the crafter's task and a one-line summary of
// each sibling so concurrent crafters stay out of each other's scope.
func (c *Coordinator) writeCrafterContext(ctx context.Context, b *strings.Builder, agent *models.Agent) error {
	tasks, err := c.stores.Tasks.ListByAssignee(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("failed to list assigned tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Status != models.TaskInProgress {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(prompts.TaskPrompt(task))
	}

	if agent.ParentID == "" {
		return nil
	}
	siblings, err := c.stores.Agents.ListByParent(ctx, agent.ParentID)
	if err != nil {
		return fmt.Errorf("failed to list siblings: %w", err)
	}
	var lines []string
	for _, sibling := range siblings {
		if sibling.ID == agent.ID || sibling.Role != models.RoleCrafter {
			continue
		}
		siblingTasks, err := c.stores.Tasks.ListByAssignee(ctx, sibling.ID)
		if err != nil {
			continue
		}
		for _, t := range siblingTasks {
			lines = append(lines, fmt.Sprintf("- %s: %s (%s)", sibling.Name, t.Title, t.Status))
		}
	}
	if len(lines) > 0 {
		b.WriteString("\n\nOther implementors working in this workspace:\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	return nil
}

// writeGateContext appends one briefing per task awaiting review: the task
// contract, the implementor's summary and a slice of its recent
// conversation.
func (c *Coordinator) writeGateContext(ctx context.Context, b *strings.Builder, workspaceID string) error {
	tasks, err := c.stores.Tasks.ListByStatus(ctx, workspaceID, models.TaskReviewRequired)
	if err != nil {
		return fmt.Errorf("failed to list review tasks: %w", err)
	}

	b.WriteString("\n\nTasks awaiting verification:\n")
	for _, task := range tasks {
		fmt.Fprintf(b, "\n## %s (id: %s)\n", task.Title, task.ID)
		fmt.Fprintf(b, "Objective: %s\n", task.Objective)
		if len(task.AcceptanceCriteria) > 0 {
			b.WriteString("Acceptance Criteria:\n")
			for _, criterion := range task.AcceptanceCriteria {
				fmt.Fprintf(b, "- %s\n", criterion)
			}
		}
		if task.CompletionSummary != "" {
			fmt.Fprintf(b, "Implementor summary: %s\n", task.CompletionSummary)
		}
		if task.AssignedTo != "" {
			msgs, err := c.stores.Conversations.GetLastN(ctx, task.AssignedTo, crafterContextMessages)
			if err == nil && len(msgs) > 0 {
				b.WriteString("Recent implementor activity:\n")
				for _, m := range msgs {
					fmt.Fprintf(b, "- [%s] %s\n", m.Role, tools.Truncate(m.Content, crafterContextLimit))
				}
			}
		}
		if len(task.VerificationCommands) > 0 {
			b.WriteString("Verification Commands:\n")
			for _, cmd := range task.VerificationCommands {
				fmt.Fprintf(b, "- %s\n", cmd)
			}
		}
	}

	b.WriteString("\nVerify each task against its Acceptance Criteria. Output APPROVED or NOT APPROVED per task, with evidence.")
	return nil
}

// StartVerification creates a verifier agent for the tasks awaiting review.
// Returns nil without error when nothing needs review.
func (c *Coordinator) StartVerification(ctx context.Context) (*models.Agent, error) {
	c.mu.RLock()
	workspaceID := c.state.WorkspaceID
	routaID := c.state.RoutaAgentID
	c.mu.RUnlock()

	pending, err := c.stores.Tasks.ListByStatus(ctx, workspaceID, models.TaskReviewRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to list review tasks: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	gate := &models.Agent{
		Name:        gateAgentName,
		Role:        models.RoleGate,
		WorkspaceID: workspaceID,
		ParentID:    routaID,
		ModelTier:   models.TierSmart,
		Status:      models.AgentActive,
	}
	if err := c.stores.Agents.Save(ctx, gate); err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	c.mu.Lock()
	c.state.GateAgentID = gate.ID
	c.mu.Unlock()

	c.bus.Emit(events.NewEvent(events.AgentCreated, gate.ID, workspaceID, map[string]any{
		"name":  gate.Name,
		"role":  string(gate.Role),
		"tasks": len(pending),
	}))
	c.logger.Info("verification started",
		zap.String("gate_agent_id", gate.ID),
		zap.Int("tasks", len(pending)))
	return gate, nil
}

// GetTaskSummaries returns the condensed view of every registered task.
func (c *Coordinator) GetTaskSummaries(ctx context.Context) ([]models.TaskSummary, error) {
	c.mu.RLock()
	taskIDs := append([]string(nil), c.state.TaskIDs...)
	c.mu.RUnlock()

	summaries := make([]models.TaskSummary, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, err := c.stores.Tasks.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load task %s: %w", id, err)
		}
		summaries = append(summaries, models.TaskSummary{
			Title:   task.Title,
			Status:  task.Status,
			Summary: task.CompletionSummary,
		})
	}
	return summaries, nil
}

// Reset clears the coordination state, keeping stored entities intact.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	workspaceID := c.state.WorkspaceID
	c.state = models.CoordinationState{WorkspaceID: workspaceID}
	c.mu.Unlock()
}

// SetError moves the session into the ERROR phase with a reason.
func (c *Coordinator) SetError(reason string) {
	c.mu.Lock()
	c.state.Phase = models.PhaseError
	c.state.Error = reason
	c.mu.Unlock()
}
