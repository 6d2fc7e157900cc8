// Package store defines the persistence contracts for agents, tasks and
// conversations, plus in-memory reference implementations.
package store

import (
	"context"
	"errors"

	"github.com/routa/routa/internal/models"
)

// ErrNotFound is returned when an entity id does not exist.
var ErrNotFound = errors.New("not found")

// AgentStore persists agents. All returned entities are copies; mutating
// them does not affect stored state.
type AgentStore interface {
	Save(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Agent, error)
	ListByParent(ctx context.Context, parentID string) ([]*models.Agent, error)
	ListByRole(ctx context.Context, workspaceID string, role models.AgentRole) ([]*models.Agent, error)
	ListByStatus(ctx context.Context, workspaceID string, status models.AgentStatus) ([]*models.Agent, error)
	UpdateStatus(ctx context.Context, id string, status models.AgentStatus) error
	Delete(ctx context.Context, id string) error
}

// TaskStore persists tasks.
type TaskStore interface {
	Save(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Task, error)
	ListByStatus(ctx context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error)
	ListByAssignee(ctx context.Context, agentID string) ([]*models.Task, error)
	// FindReadyTasks returns tasks whose status is PENDING or NEEDS_FIX and
	// whose dependencies are all COMPLETED.
	FindReadyTasks(ctx context.Context, workspaceID string) ([]*models.Task, error)
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus) error
	Delete(ctx context.Context, id string) error
}

// ConversationStore persists per-agent message history in append order.
type ConversationStore interface {
	Append(ctx context.Context, msg *models.Message) error
	GetConversation(ctx context.Context, agentID string) ([]*models.Message, error)
	GetLastN(ctx context.Context, agentID string, n int) ([]*models.Message, error)
	GetByTurnRange(ctx context.Context, agentID string, startTurn, endTurn int) ([]*models.Message, error)
	GetMessageCount(ctx context.Context, agentID string) (int, error)
	DeleteConversation(ctx context.Context, agentID string) error
}

// Stores bundles the three contracts for components that need all of them.
type Stores struct {
	Agents        AgentStore
	Tasks         TaskStore
	Conversations ConversationStore
}

// NewMemoryStores builds the in-memory reference implementation of all
// three contracts.
func NewMemoryStores() *Stores {
	return &Stores{
		Agents:        NewMemoryAgentStore(),
		Tasks:         NewMemoryTaskStore(),
		Conversations: NewMemoryConversationStore(),
	}
}
