// Package orchestrator drives the staged execution flow end to end: it owns
// the stage loop, wave bounding, retries and cancellation cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/coordinator"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/pipeline"
	"github.com/routa/routa/internal/plan"
	"github.com/routa/routa/internal/provider"
	"github.com/routa/routa/internal/report"
	"github.com/routa/routa/internal/store"
	"github.com/routa/routa/internal/tools"
)

const tracerName = "github.com/routa/routa/internal/orchestrator"

// ResultKind discriminates run outcomes.
type ResultKind string

const (
	ResultSuccess         ResultKind = "SUCCESS"
	ResultNoTasks         ResultKind = "NO_TASKS"
	ResultMaxWavesReached ResultKind = "MAX_WAVES_REACHED"
	ResultFailed          ResultKind = "FAILED"
)

// Result is the outcome of one orchestrated run.
type Result struct {
	Kind          ResultKind           `json:"kind"`
	PlanOutput    string               `json:"plan_output,omitempty"`
	TaskSummaries []models.TaskSummary `json:"task_summaries,omitempty"`
	Waves         int                  `json:"waves,omitempty"`
	Err           error                `json:"-"`
}

// Config tunes the orchestrator.
type Config struct {
	WorkspaceID      string
	MaxWaves         int // default 3
	ParallelCrafters bool
}

// Orchestrator runs coordination sessions over a fixed set of dependencies.
type Orchestrator struct {
	stores      *store.Stores
	provider    provider.AgentProvider
	coordinator *coordinator.Coordinator
	registry    *tools.Registry
	cfg         Config
	logger      *logger.Logger

	// OnStreamChunk, when set, receives every streamed chunk of every turn.
	OnStreamChunk func(agentID string, chunk provider.StreamChunk)

	// OnPhaseChange, when set, receives every fine-grained phase transition.
	OnPhaseChange func(event pipeline.PhaseEvent)
}

// New creates an orchestrator.
func New(stores *store.Stores, prov provider.AgentProvider, coord *coordinator.Coordinator,
	registry *tools.Registry, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.MaxWaves <= 0 {
		cfg.MaxWaves = 3
	}
	return &Orchestrator{
		stores:      stores,
		provider:    prov,
		coordinator: coord,
		registry:    registry,
		cfg:         cfg,
		logger:      log.WithComponent("orchestrator"),
	}
}

// Execute runs the full flow for one user request.
func (o *Orchestrator) Execute(ctx context.Context, userRequest string) Result {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "orchestrator.execute",
		trace.WithAttributes(attribute.String("workspace_id", o.cfg.WorkspaceID)))
	defer span.End()

	pc := &pipeline.Context{
		Stores:           o.stores,
		Provider:         o.provider,
		Coordinator:      o.coordinator,
		Registry:         o.registry,
		Logger:           o.logger,
		WorkspaceID:      o.cfg.WorkspaceID,
		UserRequest:      userRequest,
		ParallelCrafters: o.cfg.ParallelCrafters,
		PlanParser:       plan.NewParser(),
		ReportParser:     report.NewParser(),
		OnStreamChunk:    o.OnStreamChunk,
		OnPhaseChange:    o.OnPhaseChange,
	}

	stages := pipeline.Stages()
	result := o.runStages(ctx, tracer, pc, stages)

	if result.Kind == ResultFailed && result.Err != nil {
		span.RecordError(result.Err)
		o.coordinator.SetError(result.Err.Error())
		if errors.Is(result.Err, context.Canceled) {
			o.cleanupCancelled(pc)
		}
	}
	span.SetAttributes(attribute.String("result", string(result.Kind)))
	return result
}

// runStages walks the stage sequence, honoring per-stage retry policies and
// restarting from crafter execution when verification requeues work.
func (o *Orchestrator) runStages(ctx context.Context, tracer trace.Tracer, pc *pipeline.Context, stages []pipeline.Stage) Result {
	index := 0
	for index < len(stages) {
		if err := ctx.Err(); err != nil {
			return Result{Kind: ResultFailed, Err: fmt.Errorf("run cancelled: %w", err)}
		}

		stage := stages[index]
		result := o.runStageWithRetry(ctx, tracer, pc, stage)

		switch result.Disposition {
		case pipeline.Continue:
			index++

		case pipeline.SkipRemaining, pipeline.Done:
			return o.finish(ctx, pc, result.Outcome)

		case pipeline.RepeatPipeline:
			if pc.WaveNumber >= o.cfg.MaxWaves {
				o.logger.Warn("wave limit reached", zap.Int("max_waves", o.cfg.MaxWaves))
				o.coordinator.SetPhase(models.PhaseMaxWaves)
				pc.EmitPhase(pipeline.PhaseEvent{Phase: pipeline.PhaseMaxWavesReached, Wave: pc.WaveNumber})
				summaries, _ := o.coordinator.GetTaskSummaries(ctx)
				return Result{
					Kind:          ResultMaxWavesReached,
					PlanOutput:    pc.PlanOutput,
					TaskSummaries: summaries,
					Waves:         pc.WaveNumber,
				}
			}
			restart := indexOfStage(stages, result.FromStage)
			if restart < 0 {
				return Result{Kind: ResultFailed, Err: fmt.Errorf("unknown restart stage %q", result.FromStage)}
			}
			index = restart

		case pipeline.Failed:
			return Result{Kind: ResultFailed, PlanOutput: pc.PlanOutput, Err: result.Err}
		}
	}
	return o.finish(ctx, pc, pipeline.OutcomeSuccess)
}

func (o *Orchestrator) runStageWithRetry(ctx context.Context, tracer trace.Tracer, pc *pipeline.Context, stage pipeline.Stage) pipeline.StageResult {
	policy := stage.Retry()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var result pipeline.StageResult
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		stageCtx, span := tracer.Start(ctx, "stage."+stage.Name(),
			trace.WithAttributes(attribute.Int("attempt", attempt)))
		result = stage.Run(stageCtx, pc)
		if result.Disposition == pipeline.Failed && result.Err != nil {
			span.RecordError(result.Err)
		}
		span.End()

		if result.Disposition != pipeline.Failed || errors.Is(result.Err, context.Canceled) {
			return result
		}
		if attempt == policy.MaxAttempts {
			break
		}

		o.logger.Warn("stage failed, retrying",
			zap.String("stage", stage.Name()),
			zap.Int("attempt", attempt),
			zap.Error(result.Err))
		select {
		case <-ctx.Done():
			return pipeline.ResultFailed(fmt.Errorf("run cancelled: %w", ctx.Err()))
		case <-time.After(delay):
		}
		if policy.Multiplier > 0 {
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}
	}
	return result
}

func (o *Orchestrator) finish(ctx context.Context, pc *pipeline.Context, outcome pipeline.Outcome) Result {
	if outcome == pipeline.OutcomeNoTasks {
		o.coordinator.SetPhase(models.PhaseCompleted)
		pc.EmitPhase(pipeline.PhaseEvent{Phase: pipeline.PhaseCompleted})
		return Result{Kind: ResultNoTasks, PlanOutput: pc.PlanOutput}
	}
	summaries, err := o.coordinator.GetTaskSummaries(ctx)
	if err != nil {
		return Result{Kind: ResultFailed, PlanOutput: pc.PlanOutput, Err: err}
	}
	pc.EmitPhase(pipeline.PhaseEvent{Phase: pipeline.PhaseCompleted})
	return Result{
		Kind:          ResultSuccess,
		PlanOutput:    pc.PlanOutput,
		TaskSummaries: summaries,
		Waves:         pc.WaveNumber,
	}
}

// cleanupCancelled interrupts and releases every agent created during the
// cancelled run.
func (o *Orchestrator) cleanupCancelled(pc *pipeline.Context) {
	ids := append([]string{}, pc.CreatedAgentIDs...)
	if pc.RoutaAgentID != "" {
		ids = append(ids, pc.RoutaAgentID)
	}
	for _, id := range ids {
		o.provider.Interrupt(id)
		o.provider.Cleanup(id)
	}
	o.logger.Info("cancelled run cleaned up", zap.Int("agents", len(ids)))
}

func indexOfStage(stages []pipeline.Stage, name string) int {
	for i, s := range stages {
		if s.Name() == name {
			return i
		}
	}
	return -1
}
