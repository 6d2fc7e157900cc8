// Package models defines the core entities shared across the orchestration
// engine: agents, tasks, conversation messages and reports.
package models

import "time"

// AgentRole identifies the part an agent plays in a coordination session.
type AgentRole string

const (
	// RoleRouta is the planner. It produces @@@task blocks and never writes files.
	RoleRouta AgentRole = "ROUTA"
	// RoleCrafter is the implementor. It executes one task and writes files.
	RoleCrafter AgentRole = "CRAFTER"
	// RoleGate is the verifier. It reads evidence and emits verdicts.
	RoleGate AgentRole = "GATE"
)

// ParseRole converts a role string into an AgentRole.
func ParseRole(s string) (AgentRole, bool) {
	switch AgentRole(s) {
	case RoleRouta, RoleCrafter, RoleGate:
		return AgentRole(s), true
	}
	return "", false
}

// AgentStatus represents the lifecycle state of an agent.
type AgentStatus string

const (
	AgentPending   AgentStatus = "PENDING"
	AgentIdle      AgentStatus = "IDLE"
	AgentActive    AgentStatus = "ACTIVE"
	AgentCompleted AgentStatus = "COMPLETED"
	AgentError     AgentStatus = "ERROR"
)

// ModelTier selects the model class backing an agent.
type ModelTier string

const (
	TierSmart ModelTier = "SMART"
	TierFast  ModelTier = "FAST"
)

// Agent is a participant in orchestration. Role is immutable after creation.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Role        AgentRole   `json:"role"`
	WorkspaceID string      `json:"workspace_id"`
	ParentID    string      `json:"parent_id,omitempty"`
	ModelTier   ModelTier   `json:"model_tier"`
	Status      AgentStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending        TaskStatus = "PENDING"
	TaskInProgress     TaskStatus = "IN_PROGRESS"
	TaskReviewRequired TaskStatus = "REVIEW_REQUIRED"
	TaskCompleted      TaskStatus = "COMPLETED"
	TaskNeedsFix       TaskStatus = "NEEDS_FIX"
)

// Task is a unit of work extracted from a plan.
type Task struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Objective            string     `json:"objective"`
	Scope                []string   `json:"scope,omitempty"`
	AcceptanceCriteria   []string   `json:"acceptance_criteria,omitempty"`
	VerificationCommands []string   `json:"verification_commands,omitempty"`
	Dependencies         []string   `json:"dependencies,omitempty"`
	Status               TaskStatus `json:"status"`
	WorkspaceID          string     `json:"workspace_id"`
	AssignedTo           string     `json:"assigned_to,omitempty"`
	CompletionSummary    string     `json:"completion_summary,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Scope = append([]string(nil), t.Scope...)
	c.AcceptanceCriteria = append([]string(nil), t.AcceptanceCriteria...)
	c.VerificationCommands = append([]string(nil), t.VerificationCommands...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	return &c
}

// MessageRole identifies who produced a conversation message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "USER"
	MessageRoleAssistant MessageRole = "ASSISTANT"
	MessageRoleTool      MessageRole = "TOOL"
)

// Message is one turn in an agent's conversation. Turn numbers within an
// agent are strictly increasing when present.
type Message struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agent_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Turn      int         `json:"turn,omitempty"`
	ToolName  string      `json:"tool_name,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// CompletionReport is the payload of report_to_parent.
type CompletionReport struct {
	AgentID             string   `json:"agent_id"`
	TaskID              string   `json:"task_id"`
	Summary             string   `json:"summary"`
	FilesModified       []string `json:"files_modified,omitempty"`
	VerificationResults string   `json:"verification_results,omitempty"`
	Success             bool     `json:"success"`
}

// Verdict is a parsed GATE decision for one task.
type Verdict string

const (
	VerdictApproved    Verdict = "APPROVED"
	VerdictNotApproved Verdict = "NOT_APPROVED"
)

// VerificationVerdict carries a per-task GATE result.
type VerificationVerdict struct {
	TaskID  string  `json:"task_id"`
	Verdict Verdict `json:"verdict"`
	Summary string  `json:"summary"`
}

// CoordinationPhase is the phase of the coordination state machine.
type CoordinationPhase string

const (
	PhasePlanning     CoordinationPhase = "PLANNING"
	PhaseReady        CoordinationPhase = "READY"
	PhaseExecuting    CoordinationPhase = "EXECUTING"
	PhaseWaveComplete CoordinationPhase = "WAVE_COMPLETE"
	PhaseVerifying    CoordinationPhase = "VERIFYING"
	PhaseCompleted    CoordinationPhase = "COMPLETED"
	PhaseMaxWaves     CoordinationPhase = "MAX_WAVES_REACHED"
	PhaseError        CoordinationPhase = "ERROR"
)

// CoordinationState is owned by the coordinator. Stage transitions are the
// only writers.
type CoordinationState struct {
	WorkspaceID      string            `json:"workspace_id"`
	RoutaAgentID     string            `json:"routa_agent_id"`
	Phase            CoordinationPhase `json:"phase"`
	TaskIDs          []string          `json:"task_ids"`
	ActiveCrafterIDs []string          `json:"active_crafter_ids"`
	GateAgentID      string            `json:"gate_agent_id,omitempty"`
	WaveNumber       int               `json:"wave_number"`
	Error            string            `json:"error,omitempty"`
}

// TaskSummary is a condensed task view for result reporting.
type TaskSummary struct {
	Title   string     `json:"title"`
	Status  TaskStatus `json:"status"`
	Summary string     `json:"summary,omitempty"`
}
