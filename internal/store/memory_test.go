package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/models"
)

func TestAgentStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAgentStore()

	agent := &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws", Status: models.AgentActive}
	require.NoError(t, s.Save(ctx, agent))
	require.NotEmpty(t, agent.ID)

	got, err := s.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Name, got.Name)

	// Returned entities are copies; mutating them must not affect the store.
	got.Name = "mutated"
	again, err := s.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "routa-main", again.Name)
}

func TestAgentStoreGetMissing(t *testing.T) {
	s := NewMemoryAgentStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAgentStoreListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAgentStore()

	routa := &models.Agent{Name: "routa-main", Role: models.RoleRouta, WorkspaceID: "ws", Status: models.AgentActive}
	require.NoError(t, s.Save(ctx, routa))
	crafter := &models.Agent{Name: "crafter-a", Role: models.RoleCrafter, WorkspaceID: "ws", ParentID: routa.ID, Status: models.AgentPending}
	require.NoError(t, s.Save(ctx, crafter))
	other := &models.Agent{Name: "elsewhere", Role: models.RoleCrafter, WorkspaceID: "other", Status: models.AgentPending}
	require.NoError(t, s.Save(ctx, other))

	byWS, err := s.ListByWorkspace(ctx, "ws")
	require.NoError(t, err)
	assert.Len(t, byWS, 2)

	byRole, err := s.ListByRole(ctx, "ws", models.RoleRouta)
	require.NoError(t, err)
	require.Len(t, byRole, 1)
	assert.Equal(t, routa.ID, byRole[0].ID)

	byParent, err := s.ListByParent(ctx, routa.ID)
	require.NoError(t, err)
	require.Len(t, byParent, 1)
	assert.Equal(t, crafter.ID, byParent[0].ID)

	require.NoError(t, s.UpdateStatus(ctx, crafter.ID, models.AgentActive))
	byStatus, err := s.ListByStatus(ctx, "ws", models.AgentActive)
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)
}

func TestTaskStoreFindReadyTasks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTaskStore()

	done := &models.Task{Title: "done", WorkspaceID: "ws", Status: models.TaskCompleted}
	require.NoError(t, s.Save(ctx, done))

	ready := &models.Task{Title: "ready", WorkspaceID: "ws", Status: models.TaskPending, Dependencies: []string{done.ID}}
	require.NoError(t, s.Save(ctx, ready))

	blocked := &models.Task{Title: "blocked", WorkspaceID: "ws", Status: models.TaskPending, Dependencies: []string{ready.ID}}
	require.NoError(t, s.Save(ctx, blocked))

	needsFix := &models.Task{Title: "needs-fix", WorkspaceID: "ws", Status: models.TaskNeedsFix}
	require.NoError(t, s.Save(ctx, needsFix))

	inProgress := &models.Task{Title: "working", WorkspaceID: "ws", Status: models.TaskInProgress}
	require.NoError(t, s.Save(ctx, inProgress))

	got, err := s.FindReadyTasks(ctx, "ws")
	require.NoError(t, err)

	titles := make([]string, 0, len(got))
	for _, task := range got {
		titles = append(titles, task.Title)
	}
	assert.ElementsMatch(t, []string{"ready", "needs-fix"}, titles)
}

func TestTaskStoreListByAssignee(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTaskStore()

	task := &models.Task{Title: "assigned", WorkspaceID: "ws", Status: models.TaskInProgress, AssignedTo: "agent-1"}
	require.NoError(t, s.Save(ctx, task))
	free := &models.Task{Title: "free", WorkspaceID: "ws", Status: models.TaskPending}
	require.NoError(t, s.Save(ctx, free))

	got, err := s.ListByAssignee(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, task.ID, got[0].ID)
}

func TestConversationStoreTurnNumbering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryConversationStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, &models.Message{
			AgentID: "agent-1",
			Role:    models.MessageRoleUser,
			Content: "msg",
		}))
	}

	msgs, err := s.GetConversation(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Turn, "turn numbers are strictly increasing")
	}

	lastTwo, err := s.GetLastN(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Len(t, lastTwo, 2)
	assert.Equal(t, 4, lastTwo[0].Turn)
	assert.Equal(t, 5, lastTwo[1].Turn)

	ranged, err := s.GetByTurnRange(ctx, "agent-1", 2, 3)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, 2, ranged[0].Turn)

	count, err := s.GetMessageCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	require.NoError(t, s.DeleteConversation(ctx, "agent-1"))
	count, err = s.GetMessageCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
