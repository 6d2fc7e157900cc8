package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TaskRegistrationStage extracts @@@task blocks from the plan output and
// persists them. A plan with no task blocks ends the run.
type TaskRegistrationStage struct{}

func (s *TaskRegistrationStage) Name() string { return "task-registration" }

func (s *TaskRegistrationStage) Retry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (s *TaskRegistrationStage) Run(ctx context.Context, pc *Context) StageResult {
	tasks := pc.PlanParser.Parse(pc.PlanOutput, pc.WorkspaceID)
	if len(tasks) == 0 {
		pc.Logger.Info("plan contains no task blocks")
		return ResultDone(OutcomeNoTasks)
	}

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if err := pc.Stores.Tasks.Save(ctx, task); err != nil {
			return ResultFailed(fmt.Errorf("task registration: %w", err))
		}
		ids = append(ids, task.ID)
	}
	pc.TaskIDs = ids
	pc.Coordinator.RegisterTasks(ids)
	pc.EmitPhase(PhaseEvent{Phase: PhaseTasksRegistered, Count: len(ids)})

	pc.Logger.Info("tasks registered", zap.Int("count", len(ids)))
	return ResultContinue()
}
