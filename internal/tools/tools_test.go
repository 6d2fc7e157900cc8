package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/events"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/store"
)

func testRegistry(t *testing.T) (*Registry, *store.Stores, *events.Bus) {
	t.Helper()
	stores := store.NewMemoryStores()
	bus := events.NewBus(logger.Default())
	return NewRegistry(stores, bus, t.TempDir(), logger.Default()), stores, bus
}

func saveAgent(t *testing.T, stores *store.Stores, agent *models.Agent) *models.Agent {
	t.Helper()
	require.NoError(t, stores.Agents.Save(context.Background(), agent))
	return agent
}

func TestCreateAgentAndList(t *testing.T) {
	ctx := context.Background()
	r, _, _ := testRegistry(t)

	created := r.CreateAgent(ctx, "crafter-a", "CRAFTER", "ws", "", "")
	require.True(t, created.Success, created.Error)
	agentID := created.Data.(map[string]string)["agent_id"]
	require.NotEmpty(t, agentID)

	listed := r.ListAgents(ctx, "ws")
	require.True(t, listed.Success)
	infos := listed.Data.([]AgentInfo)
	require.Len(t, infos, 1)
	assert.Equal(t, models.RoleCrafter, infos[0].Role)
	assert.Equal(t, models.AgentPending, infos[0].Status)
}

func TestCreateAgentRejectsUnknownRole(t *testing.T) {
	r, _, _ := testRegistry(t)
	result := r.CreateAgent(context.Background(), "x", "WIZARD", "ws", "", "")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown role")
}

func TestDelegateTaskActivatesAndNotifies(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	agent := saveAgent(t, stores, &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws", Status: models.AgentPending})
	task := &models.Task{Title: "Do it", Objective: "Make it so", WorkspaceID: "ws", Status: models.TaskPending}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	result := r.DelegateTask(ctx, agent.ID, task.ID, "")
	require.True(t, result.Success, result.Error)

	updatedTask, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, updatedTask.Status)
	assert.Equal(t, agent.ID, updatedTask.AssignedTo)

	updatedAgent, err := stores.Agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentActive, updatedAgent.Status)

	msgs, err := stores.Conversations.GetConversation(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "Task delegated: Do it")
	assert.Contains(t, msgs[0].Content, "Objective: Make it so")
}

func TestDelegateTaskRejectsCrafterCaller(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	caller := saveAgent(t, stores, &models.Agent{Name: "crafter-x", Role: models.RoleCrafter, WorkspaceID: "ws"})
	target := saveAgent(t, stores, &models.Agent{Name: "crafter-y", Role: models.RoleCrafter, WorkspaceID: "ws"})
	task := &models.Task{Title: "t", WorkspaceID: "ws", Status: models.TaskPending}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	result := r.DelegateTask(ctx, target.ID, task.ID, caller.ID)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "may not delegate")
}

func TestDelegateTaskRejectsFinishedAgent(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	task := &models.Task{Title: "t", WorkspaceID: "ws", Status: models.TaskPending}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	for _, status := range []models.AgentStatus{models.AgentCompleted, models.AgentError} {
		agent := saveAgent(t, stores, &models.Agent{Name: "crafter-done", Role: models.RoleCrafter, WorkspaceID: "ws", Status: status})

		result := r.DelegateTask(ctx, agent.ID, task.ID, "")
		assert.False(t, result.Success, "status %s", status)
		assert.Contains(t, result.Error, "cannot accept tasks")

		unchanged, err := stores.Tasks.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TaskPending, unchanged.Status)
	}
}

func TestReportToParentUpdatesTaskAndParentConversation(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	parent := saveAgent(t, stores, &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws"})
	child := saveAgent(t, stores, &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws", ParentID: parent.ID, Status: models.AgentActive})
	task := &models.Task{Title: "t", WorkspaceID: "ws", Status: models.TaskInProgress, AssignedTo: child.ID}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	result := r.ReportToParent(ctx, &models.CompletionReport{
		AgentID:       child.ID,
		TaskID:        task.ID,
		Summary:       "did the thing",
		FilesModified: []string{"a.go", "b.go"},
		Success:       true,
	})
	require.True(t, result.Success, result.Error)

	updatedTask, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, updatedTask.Status)
	assert.Equal(t, "did the thing", updatedTask.CompletionSummary)

	updatedChild, err := stores.Agents.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentCompleted, updatedChild.Status)

	msgs, err := stores.Conversations.GetConversation(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Content,
		"[Completion Report from crafter-a ("+child.ID+")]"), msgs[0].Content)
	assert.Contains(t, msgs[0].Content, "Success: true")
	assert.Contains(t, msgs[0].Content, "Files Modified: a.go, b.go")
}

func TestReportToParentFailureMarksNeedsFix(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	parent := saveAgent(t, stores, &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws"})
	child := saveAgent(t, stores, &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws", ParentID: parent.ID})
	task := &models.Task{Title: "t", WorkspaceID: "ws", Status: models.TaskInProgress}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	result := r.ReportToParent(ctx, &models.CompletionReport{
		AgentID: child.ID,
		TaskID:  task.ID,
		Summary: "blocked on missing dependency",
		Success: false,
	})
	require.True(t, result.Success, result.Error)

	updatedTask, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskNeedsFix, updatedTask.Status)
}

func TestReportToParentRequiresParent(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	orphan := saveAgent(t, stores, &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws"})
	result := r.ReportToParent(ctx, &models.CompletionReport{AgentID: orphan.ID, Summary: "s", Success: true})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no parent")
}

func TestSendMessageToAgent(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	to := saveAgent(t, stores, &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws"})

	result := r.SendMessageToAgent(ctx, "agent-from", to.ID, "heads up")
	require.True(t, result.Success, result.Error)

	msgs, err := stores.Conversations.GetConversation(ctx, to.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[From agent agent-from]: heads up", msgs[0].Content)
	assert.Equal(t, models.MessageRoleUser, msgs[0].Role)
}

func TestWakeOrCreateTaskAgentCreatesCrafter(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	parent := saveAgent(t, stores, &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws"})
	task := &models.Task{Title: "Fix The Bug!", WorkspaceID: "ws", Status: models.TaskPending}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	result := r.WakeOrCreateTaskAgent(ctx, task.ID, "please fix", parent.ID, "ws", "", "")
	require.True(t, result.Success, result.Error)
	data := result.Data.(map[string]any)
	assert.Equal(t, true, data["created"])

	agentID := data["agent_id"].(string)
	agent, err := stores.Agents.Get(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "crafter-fix-the-bug", agent.Name)
	assert.Equal(t, models.RoleCrafter, agent.Role)

	updatedTask, err := stores.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, agentID, updatedTask.AssignedTo)
	assert.Equal(t, models.TaskInProgress, updatedTask.Status)
}

func TestWakeOrCreateTaskAgentWakesExisting(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	parent := saveAgent(t, stores, &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws"})
	existing := saveAgent(t, stores, &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws", ParentID: parent.ID, Status: models.AgentIdle})
	task := &models.Task{Title: "t", WorkspaceID: "ws", Status: models.TaskInProgress, AssignedTo: existing.ID}
	require.NoError(t, stores.Tasks.Save(ctx, task))

	result := r.WakeOrCreateTaskAgent(ctx, task.ID, "continue please", parent.ID, "ws", "", "")
	require.True(t, result.Success, result.Error)
	data := result.Data.(map[string]any)
	assert.Equal(t, false, data["created"])
	assert.Equal(t, existing.ID, data["agent_id"])

	woken, err := stores.Agents.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentActive, woken.Status)
}

func TestGetAgentSummaryTruncatesLastResponse(t *testing.T) {
	ctx := context.Background()
	r, stores, _ := testRegistry(t)

	agent := saveAgent(t, stores, &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws", Status: models.AgentActive})
	long := strings.Repeat("x", 600)
	require.NoError(t, stores.Conversations.Append(ctx, &models.Message{AgentID: agent.ID, Role: models.MessageRoleAssistant, Content: long}))
	require.NoError(t, stores.Conversations.Append(ctx, &models.Message{AgentID: agent.ID, Role: models.MessageRoleTool, Content: "tool output", ToolName: "read_file"}))

	result := r.GetAgentSummary(ctx, agent.ID)
	require.True(t, result.Success, result.Error)
	summary := result.Data.(AgentSummaryInfo)
	assert.Len(t, []rune(summary.LastResponse), lastResponseLimit+1) // 500 + ellipsis
	assert.Equal(t, 1, summary.ToolCallCount)
}

func TestRoleAllowed(t *testing.T) {
	assert.False(t, RoleAllowed(models.RoleRouta, "write_file"))
	assert.False(t, RoleAllowed(models.RoleGate, "write_file"))
	assert.True(t, RoleAllowed(models.RoleCrafter, "write_file"))
	assert.False(t, RoleAllowed(models.RoleCrafter, "create_agent"))
	assert.False(t, RoleAllowed(models.RoleCrafter, "delegate_task"))
	assert.True(t, RoleAllowed(models.RoleRouta, "delegate_task"))
}

func TestCrafterNameForTask(t *testing.T) {
	assert.Equal(t, "crafter-fix-the-bug", CrafterNameForTask("Fix The Bug!"))
	assert.Equal(t, "crafter-a-b-c", CrafterNameForTask("  a  b  c  "))
	assert.Equal(t, "crafter-crafter", CrafterNameForTask("!!!"))
}
