package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/tools"
)

// CrafterExecutionStage runs one implementation wave: it picks every ready
// task, assigns each to a crafter and executes the crafter turns. A task
// failure marks that task NEEDS_FIX without stopping its siblings.
type CrafterExecutionStage struct{}

func (s *CrafterExecutionStage) Name() string { return "crafter-execution" }

func (s *CrafterExecutionStage) Retry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (s *CrafterExecutionStage) Run(ctx context.Context, pc *Context) StageResult {
	wave := pc.Coordinator.NextWave()
	pc.WaveNumber = wave
	pc.Coordinator.SetPhase(models.PhaseExecuting)
	pc.EmitPhase(PhaseEvent{Phase: PhaseWaveStarting, Wave: wave})
	pc.Logger.Info("wave starting", zap.Int("wave", wave))

	ready, err := pc.Stores.Tasks.FindReadyTasks(ctx, pc.WorkspaceID)
	if err != nil {
		return ResultFailed(fmt.Errorf("crafter execution: %w", err))
	}
	if len(ready) == 0 {
		done, err := s.allCompleted(ctx, pc)
		if err != nil {
			return ResultFailed(fmt.Errorf("crafter execution: %w", err))
		}
		if done {
			pc.Coordinator.SetPhase(models.PhaseCompleted)
			return ResultSkip(OutcomeSuccess)
		}
		// Nothing ready but work remains: dependencies are stuck on tasks
		// that never completed.
		return ResultFailed(fmt.Errorf("no ready tasks but %d tasks incomplete", len(pc.TaskIDs)))
	}

	if pc.ParallelCrafters {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range ready {
			task := task
			g.Go(func() error {
				err := s.runTask(gctx, pc, task, &mu)
				// Per-task failures are recorded on the task, not propagated;
				// only context cancellation aborts the wave.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				_ = err
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return ResultFailed(fmt.Errorf("wave %d cancelled: %w", wave, err))
		}
	} else {
		var mu sync.Mutex
		for _, task := range ready {
			if ctx.Err() != nil {
				return ResultFailed(fmt.Errorf("wave %d cancelled: %w", wave, ctx.Err()))
			}
			_ = s.runTask(ctx, pc, task, &mu)
		}
	}

	pc.Coordinator.SetPhase(models.PhaseWaveComplete)
	pc.EmitPhase(PhaseEvent{Phase: PhaseWaveComplete, Wave: wave})
	pc.Logger.Info("wave complete", zap.Int("wave", wave))
	return ResultContinue()
}

// runTask assigns one task to a crafter, executes the turn and settles the
// task status. mu guards the shared Context fields.
func (s *CrafterExecutionStage) runTask(ctx context.Context, pc *Context, task *models.Task, mu *sync.Mutex) error {
	created := pc.Registry.CreateAgent(ctx, tools.CrafterNameForTask(task.Title),
		string(models.RoleCrafter), pc.WorkspaceID, pc.RoutaAgentID, models.TierSmart)
	if !created.Success {
		s.failTask(ctx, pc, task.ID, created.Error)
		return fmt.Errorf("%s", created.Error)
	}
	agentID := created.Data.(map[string]string)["agent_id"]

	mu.Lock()
	pc.CreatedAgentIDs = append(pc.CreatedAgentIDs, agentID)
	mu.Unlock()
	pc.Coordinator.TrackCrafter(agentID)

	if res := pc.Registry.DelegateTask(ctx, agentID, task.ID, pc.RoutaAgentID); !res.Success {
		s.failTask(ctx, pc, task.ID, res.Error)
		return fmt.Errorf("%s", res.Error)
	}

	agent, err := pc.Stores.Agents.Get(ctx, agentID)
	if err != nil {
		s.failTask(ctx, pc, task.ID, err.Error())
		return err
	}
	prompt, err := pc.Coordinator.BuildAgentContext(ctx, agent)
	if err != nil {
		s.failTask(ctx, pc, task.ID, err.Error())
		return err
	}

	output, err := pc.Provider.RunStreaming(ctx, models.RoleCrafter, agentID, prompt, pc.chunkHandler(agentID))
	pc.recordTurn(ctx, agentID, prompt, output)
	// Free the crafter's backend resources; its work is on disk and in the
	// conversation store.
	defer pc.Provider.Cleanup(agentID)

	if err != nil {
		pc.Logger.Warn("crafter turn failed",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agentID),
			zap.Error(err))
		s.failTask(ctx, pc, task.ID, err.Error())
		_ = pc.Stores.Agents.UpdateStatus(ctx, agentID, models.AgentError)
		return err
	}

	s.settleTask(ctx, pc, task, agentID, output)
	_ = pc.Stores.Agents.UpdateStatus(ctx, agentID, models.AgentCompleted)
	return nil
}

// settleTask moves the task into review. When the crafter reported through
// report_to_parent the store already carries a terminal status; completed
// work still goes through verification.
func (s *CrafterExecutionStage) settleTask(ctx context.Context, pc *Context, task *models.Task, agentID, output string) {
	current, err := pc.Stores.Tasks.Get(ctx, task.ID)
	if err != nil {
		return
	}

	switch current.Status {
	case models.TaskInProgress:
		// No tool report; fall back to parsing the output.
		report := pc.ReportParser.ParseCrafterCompletion(agentID, output, current)
		if report != nil {
			current.CompletionSummary = report.Summary
			if report.Success {
				current.Status = models.TaskReviewRequired
			} else {
				current.Status = models.TaskNeedsFix
			}
		} else {
			current.Status = models.TaskReviewRequired
			current.CompletionSummary = tools.Truncate(output, 500)
		}
		_ = pc.Stores.Tasks.Save(ctx, current)

	case models.TaskCompleted:
		// Self-declared completion still needs the verifier's verdict.
		current.Status = models.TaskReviewRequired
		_ = pc.Stores.Tasks.Save(ctx, current)
	}
}

func (s *CrafterExecutionStage) failTask(ctx context.Context, pc *Context, taskID, reason string) {
	task, err := pc.Stores.Tasks.Get(ctx, taskID)
	if err != nil {
		return
	}
	task.Status = models.TaskNeedsFix
	task.CompletionSummary = reason
	_ = pc.Stores.Tasks.Save(ctx, task)
}

func (s *CrafterExecutionStage) allCompleted(ctx context.Context, pc *Context) (bool, error) {
	for _, id := range pc.TaskIDs {
		task, err := pc.Stores.Tasks.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if task.Status != models.TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}
