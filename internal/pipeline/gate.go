package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/models"
)

// GateVerificationStage runs one verifier turn over every task awaiting
// review and applies the verdicts: approved tasks complete, rejected tasks
// go back for another wave.
type GateVerificationStage struct{}

func (s *GateVerificationStage) Name() string { return "gate-verification" }

func (s *GateVerificationStage) Retry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: 2000 * time.Millisecond, Multiplier: 2}
}

func (s *GateVerificationStage) Run(ctx context.Context, pc *Context) StageResult {
	pc.Coordinator.SetPhase(models.PhaseVerifying)
	pc.EmitPhase(PhaseEvent{Phase: PhaseVerificationStarting, Wave: pc.WaveNumber})

	gate, err := pc.Coordinator.StartVerification(ctx)
	if err != nil {
		return ResultFailed(fmt.Errorf("gate verification: %w", err))
	}
	if gate == nil {
		// Nothing awaiting review; the wave produced only failures or the
		// work is already settled.
		pc.EmitPhase(PhaseEvent{Phase: PhaseVerificationCompleted})
		return s.settle(ctx, pc)
	}
	pc.GateAgentID = gate.ID
	pc.CreatedAgentIDs = append(pc.CreatedAgentIDs, gate.ID)

	reviewTasks, err := pc.Stores.Tasks.ListByStatus(ctx, pc.WorkspaceID, models.TaskReviewRequired)
	if err != nil {
		return ResultFailed(fmt.Errorf("gate verification: %w", err))
	}

	prompt, err := pc.Coordinator.BuildAgentContext(ctx, gate)
	if err != nil {
		return ResultFailed(fmt.Errorf("gate verification: %w", err))
	}

	output, err := pc.Provider.RunStreaming(ctx, models.RoleGate, gate.ID, prompt, pc.chunkHandler(gate.ID))
	pc.recordTurn(ctx, gate.ID, prompt, output)
	defer pc.Provider.Cleanup(gate.ID)

	if err != nil {
		return ResultFailed(fmt.Errorf("verifier turn failed: %w", err))
	}

	gateAgent, err := pc.Stores.Agents.Get(ctx, gate.ID)
	if err != nil {
		return ResultFailed(fmt.Errorf("gate verification: %w", err))
	}
	if gateAgent.Status == models.AgentCompleted {
		// The verifier filed its verdicts through report_to_parent during
		// the turn; the task statuses already carry them and a text parse
		// would clobber them.
		pc.EmitPhase(PhaseEvent{Phase: PhaseVerificationCompleted})
		return s.settle(ctx, pc)
	}

	verdicts := pc.ReportParser.ParseGateVerdicts(gate.ID, output, reviewTasks)
	for _, task := range reviewTasks {
		verdict := verdicts[task.ID]
		current, err := pc.Stores.Tasks.Get(ctx, task.ID)
		if err != nil {
			continue
		}
		if verdict.Verdict == models.VerdictApproved {
			current.Status = models.TaskCompleted
		} else {
			current.Status = models.TaskNeedsFix
		}
		if verdict.Summary != "" {
			current.CompletionSummary = verdict.Summary
		}
		if err := pc.Stores.Tasks.Save(ctx, current); err != nil {
			return ResultFailed(fmt.Errorf("gate verification: %w", err))
		}
		pc.Logger.Info("verdict applied",
			zap.String("task_id", task.ID),
			zap.String("verdict", string(verdict.Verdict)))
	}

	_ = pc.Stores.Agents.UpdateStatus(ctx, gate.ID, models.AgentCompleted)
	pc.EmitPhase(PhaseEvent{Phase: PhaseVerificationCompleted})
	return s.settle(ctx, pc)
}

// settle decides the run's fate from the task set: all complete means
// success; any NEEDS_FIX requeues another wave for just those tasks.
func (s *GateVerificationStage) settle(ctx context.Context, pc *Context) StageResult {
	var needsFix []*models.Task
	allComplete := true
	for _, id := range pc.TaskIDs {
		task, err := pc.Stores.Tasks.Get(ctx, id)
		if err != nil {
			return ResultFailed(fmt.Errorf("gate verification: %w", err))
		}
		switch task.Status {
		case models.TaskCompleted:
		case models.TaskNeedsFix:
			allComplete = false
			needsFix = append(needsFix, task)
		default:
			allComplete = false
		}
	}

	if allComplete {
		pc.Coordinator.SetPhase(models.PhaseCompleted)
		return ResultDone(OutcomeSuccess)
	}

	// Rejected tasks go back to the pool unassigned so the next wave gives
	// them a fresh implementor.
	for _, task := range needsFix {
		task.Status = models.TaskPending
		task.AssignedTo = ""
		if err := pc.Stores.Tasks.Save(ctx, task); err != nil {
			return ResultFailed(fmt.Errorf("gate verification: %w", err))
		}
	}
	pc.EmitPhase(PhaseEvent{Phase: PhaseNeedsFix, Wave: pc.WaveNumber})
	pc.Logger.Info("verification requeued tasks",
		zap.Int("count", len(needsFix)),
		zap.Int("wave", pc.WaveNumber))
	return ResultRepeat("crafter-execution")
}
