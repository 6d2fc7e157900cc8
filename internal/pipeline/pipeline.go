// Package pipeline implements the staged execution flow: planning, task
// registration, implementation waves and verification. Stages are run in
// order by the orchestrator; each stage returns a disposition telling the
// orchestrator how to proceed.
package pipeline

import (
	"context"
	"time"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/coordinator"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/plan"
	"github.com/routa/routa/internal/provider"
	"github.com/routa/routa/internal/report"
	"github.com/routa/routa/internal/store"
	"github.com/routa/routa/internal/tools"
)

// Outcome is the terminal result of a pipeline run.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeNoTasks Outcome = "NO_TASKS"
)

// Phase is a fine-grained point in a run's lifecycle, reported through
// Context.OnPhaseChange. Wave-scoped phases carry the wave number;
// TASKS_REGISTERED carries the task count.
type Phase string

const (
	PhaseInitializing          Phase = "INITIALIZING"
	PhasePlanning              Phase = "PLANNING"
	PhasePlanReady             Phase = "PLAN_READY"
	PhaseTasksRegistered       Phase = "TASKS_REGISTERED"
	PhaseWaveStarting          Phase = "WAVE_STARTING"
	PhaseWaveComplete          Phase = "WAVE_COMPLETE"
	PhaseVerificationStarting  Phase = "VERIFICATION_STARTING"
	PhaseVerificationCompleted Phase = "VERIFICATION_COMPLETED"
	PhaseNeedsFix              Phase = "NEEDS_FIX"
	PhaseMaxWavesReached       Phase = "MAX_WAVES_REACHED"
	PhaseCompleted             Phase = "COMPLETED"
)

// PhaseEvent is one phase transition.
type PhaseEvent struct {
	Phase Phase `json:"phase"`
	Wave  int   `json:"wave,omitempty"`
	Count int   `json:"count,omitempty"`
}

// Disposition tells the orchestrator what to do after a stage.
type Disposition int

const (
	// Continue proceeds to the next stage.
	Continue Disposition = iota
	// SkipRemaining ends the run with an outcome, skipping later stages.
	SkipRemaining
	// RepeatPipeline restarts execution from a named stage (a new wave).
	RepeatPipeline
	// Done ends the run with an outcome.
	Done
	// Failed aborts the run with an error.
	Failed
)

// StageResult is a stage's disposition plus its payload.
type StageResult struct {
	Disposition Disposition
	FromStage   string // stage to restart from, for RepeatPipeline
	Outcome     Outcome
	Err         error
}

func ResultContinue() StageResult            { return StageResult{Disposition: Continue} }
func ResultDone(o Outcome) StageResult       { return StageResult{Disposition: Done, Outcome: o} }
func ResultSkip(o Outcome) StageResult       { return StageResult{Disposition: SkipRemaining, Outcome: o} }
func ResultRepeat(from string) StageResult   { return StageResult{Disposition: RepeatPipeline, FromStage: from} }
func ResultFailed(err error) StageResult     { return StageResult{Disposition: Failed, Err: err} }

// RetryPolicy bounds per-stage retries on failure.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Stage is one step of the execution flow.
type Stage interface {
	Name() string
	Retry() RetryPolicy
	Run(ctx context.Context, pc *Context) StageResult
}

// Context is the shared state threaded through a pipeline run.
type Context struct {
	Stores      *store.Stores
	Provider    provider.AgentProvider
	Coordinator *coordinator.Coordinator
	Registry    *tools.Registry
	Logger      *logger.Logger

	WorkspaceID      string
	UserRequest      string
	ParallelCrafters bool

	RoutaAgentID string
	PlanOutput   string
	TaskIDs      []string
	WaveNumber   int
	GateAgentID  string

	PlanParser   *plan.Parser
	ReportParser *report.Parser

	// OnStreamChunk receives every chunk from every agent turn, tagged with
	// the producing agent. Nil means no streaming consumer.
	OnStreamChunk func(agentID string, chunk provider.StreamChunk)

	// OnPhaseChange receives every fine-grained phase transition of the run.
	// Nil means no phase consumer.
	OnPhaseChange func(event PhaseEvent)

	// CreatedAgentIDs tracks agents created during this run for cleanup on
	// cancellation.
	CreatedAgentIDs []string
}

// chunkHandler builds a per-agent chunk handler, or nil when no consumer is
// attached.
func (pc *Context) chunkHandler(agentID string) provider.ChunkHandler {
	if pc.OnStreamChunk == nil {
		return nil
	}
	return func(chunk provider.StreamChunk) {
		pc.OnStreamChunk(agentID, chunk)
	}
}

// EmitPhase reports a phase transition to the attached consumer, if any.
func (pc *Context) EmitPhase(event PhaseEvent) {
	if pc.OnPhaseChange != nil {
		pc.OnPhaseChange(event)
	}
}

// recordTurn appends the prompt and response of a turn to the agent's
// conversation.
func (pc *Context) recordTurn(ctx context.Context, agentID, prompt, output string) {
	_ = pc.Stores.Conversations.Append(ctx, &models.Message{
		AgentID: agentID,
		Role:    models.MessageRoleUser,
		Content: prompt,
	})
	if output != "" {
		_ = pc.Stores.Conversations.Append(ctx, &models.Message{
			AgentID: agentID,
			Role:    models.MessageRoleAssistant,
			Content: output,
		})
	}
}

// Stages returns the standard stage sequence.
func Stages() []Stage {
	return []Stage{
		&PlanningStage{},
		&TaskRegistrationStage{},
		&CrafterExecutionStage{},
		&GateVerificationStage{},
	}
}
