package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/models"
)

// PlanningStage runs one planner turn over the user request and captures the
// raw plan output for task extraction.
type PlanningStage struct{}

func (s *PlanningStage) Name() string { return "planning" }

func (s *PlanningStage) Retry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (s *PlanningStage) Run(ctx context.Context, pc *Context) StageResult {
	pc.EmitPhase(PhaseEvent{Phase: PhaseInitializing})
	routa, err := pc.Coordinator.Initialize(ctx, pc.WorkspaceID)
	if err != nil {
		return ResultFailed(fmt.Errorf("planning: %w", err))
	}
	pc.RoutaAgentID = routa.ID
	pc.Coordinator.SetPhase(models.PhasePlanning)
	pc.EmitPhase(PhaseEvent{Phase: PhasePlanning})

	prompt, err := s.buildPrompt(ctx, pc, routa)
	if err != nil {
		return ResultFailed(fmt.Errorf("planning: %w", err))
	}

	output, err := pc.Provider.RunStreaming(ctx, models.RoleRouta, routa.ID, prompt, pc.chunkHandler(routa.ID))
	pc.recordTurn(ctx, routa.ID, pc.UserRequest, output)
	if err != nil {
		return ResultFailed(fmt.Errorf("planning turn failed: %w", err))
	}

	pc.PlanOutput = output
	pc.Coordinator.SetPhase(models.PhaseReady)
	pc.EmitPhase(PhaseEvent{Phase: PhasePlanReady})
	pc.Logger.Info("plan produced",
		zap.String("routa_agent_id", routa.ID),
		zap.Int("output_bytes", len(output)))
	return ResultContinue()
}

func (s *PlanningStage) buildPrompt(ctx context.Context, pc *Context, routa *models.Agent) (string, error) {
	base, err := pc.Coordinator.BuildAgentContext(ctx, routa)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nUser request:\n")
	b.WriteString(pc.UserRequest)
	b.WriteString("\n\nProduce the task plan now.")
	return b.String(), nil
}
