package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/routa/routa/internal/models"
)

// MemoryAgentStore provides in-memory agent storage.
type MemoryAgentStore struct {
	agents map[string]*models.Agent
	mu     sync.RWMutex
}

var _ AgentStore = (*MemoryAgentStore)(nil)

// NewMemoryAgentStore creates a new in-memory agent store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]*models.Agent)}
}

// Save creates or replaces an agent. A missing ID is assigned.
func (s *MemoryAgentStore) Save(ctx context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	s.agents[agent.ID] = agent.Clone()
	return nil
}

// Get retrieves an agent by ID.
func (s *MemoryAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return agent.Clone(), nil
}

// ListByWorkspace returns all agents in a workspace ordered by creation time.
func (s *MemoryAgentStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Agent, error) {
	return s.list(func(a *models.Agent) bool { return a.WorkspaceID == workspaceID })
}

// ListByParent returns all agents with the given parent.
func (s *MemoryAgentStore) ListByParent(ctx context.Context, parentID string) ([]*models.Agent, error) {
	return s.list(func(a *models.Agent) bool { return a.ParentID == parentID })
}

// ListByRole returns all agents with the given role in a workspace.
func (s *MemoryAgentStore) ListByRole(ctx context.Context, workspaceID string, role models.AgentRole) ([]*models.Agent, error) {
	return s.list(func(a *models.Agent) bool { return a.WorkspaceID == workspaceID && a.Role == role })
}

// ListByStatus returns all agents with the given status in a workspace.
func (s *MemoryAgentStore) ListByStatus(ctx context.Context, workspaceID string, status models.AgentStatus) ([]*models.Agent, error) {
	return s.list(func(a *models.Agent) bool { return a.WorkspaceID == workspaceID && a.Status == status })
}

func (s *MemoryAgentStore) list(match func(*models.Agent) bool) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Agent, 0)
	for _, a := range s.agents {
		if match(a) {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateStatus sets an agent's status.
func (s *MemoryAgentStore) UpdateStatus(ctx context.Context, id string, status models.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	agent.Status = status
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes an agent by ID.
func (s *MemoryAgentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	delete(s.agents, id)
	return nil
}

// MemoryTaskStore provides in-memory task storage.
type MemoryTaskStore struct {
	tasks map[string]*models.Task
	mu    sync.RWMutex
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// NewMemoryTaskStore creates a new in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.Task)}
}

// Save creates or replaces a task. A missing ID is assigned.
func (s *MemoryTaskStore) Save(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get retrieves a task by ID.
func (s *MemoryTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task.Clone(), nil
}

// ListByWorkspace returns all tasks in a workspace ordered by creation time.
func (s *MemoryTaskStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	return s.list(func(t *models.Task) bool { return t.WorkspaceID == workspaceID })
}

// ListByStatus returns all tasks with the given status in a workspace.
func (s *MemoryTaskStore) ListByStatus(ctx context.Context, workspaceID string, status models.TaskStatus) ([]*models.Task, error) {
	return s.list(func(t *models.Task) bool { return t.WorkspaceID == workspaceID && t.Status == status })
}

// ListByAssignee returns all tasks assigned to an agent.
func (s *MemoryTaskStore) ListByAssignee(ctx context.Context, agentID string) ([]*models.Task, error) {
	return s.list(func(t *models.Task) bool { return t.AssignedTo == agentID })
}

// FindReadyTasks returns tasks in PENDING or NEEDS_FIX whose dependencies
// are all COMPLETED.
func (s *MemoryTaskStore) FindReadyTasks(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Task, 0)
	for _, t := range s.tasks {
		if t.WorkspaceID != workspaceID {
			continue
		}
		if t.Status != models.TaskPending && t.Status != models.TaskNeedsFix {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			d, ok := s.tasks[dep]
			if !ok || d.Status != models.TaskCompleted {
				ready = false
				break
			}
		}
		if ready {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryTaskStore) list(match func(*models.Task) bool) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Task, 0)
	for _, t := range s.tasks {
		if match(t) {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateStatus sets a task's status.
func (s *MemoryTaskStore) UpdateStatus(ctx context.Context, id string, status models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete removes a task by ID.
func (s *MemoryTaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	delete(s.tasks, id)
	return nil
}

// MemoryConversationStore provides in-memory conversation storage.
type MemoryConversationStore struct {
	messages map[string][]*models.Message // by agent ID, append order
	turns    map[string]int               // next turn number by agent ID
	mu       sync.RWMutex
}

var _ ConversationStore = (*MemoryConversationStore)(nil)

// NewMemoryConversationStore creates a new in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		messages: make(map[string][]*models.Message),
		turns:    make(map[string]int),
	}
}

// Append adds a message to an agent's conversation, assigning a monotonic
// turn number when none is set.
func (s *MemoryConversationStore) Append(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.AgentID == "" {
		return fmt.Errorf("message has no agent id")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Turn == 0 {
		s.turns[msg.AgentID]++
		msg.Turn = s.turns[msg.AgentID]
	} else if msg.Turn > s.turns[msg.AgentID] {
		s.turns[msg.AgentID] = msg.Turn
	}

	s.messages[msg.AgentID] = append(s.messages[msg.AgentID], msg.Clone())
	return nil
}

// GetConversation returns all messages for an agent in append order.
func (s *MemoryConversationStore) GetConversation(ctx context.Context, agentID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[agentID]
	result := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, m.Clone())
	}
	return result, nil
}

// GetLastN returns the last n messages for an agent in append order.
func (s *MemoryConversationStore) GetLastN(ctx context.Context, agentID string, n int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[agentID]
	if n <= 0 || n > len(msgs) {
		n = len(msgs)
	}
	result := make([]*models.Message, 0, n)
	for _, m := range msgs[len(msgs)-n:] {
		result = append(result, m.Clone())
	}
	return result, nil
}

// GetByTurnRange returns messages whose turn number lies in [startTurn, endTurn].
func (s *MemoryConversationStore) GetByTurnRange(ctx context.Context, agentID string, startTurn, endTurn int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Message, 0)
	for _, m := range s.messages[agentID] {
		if m.Turn >= startTurn && m.Turn <= endTurn {
			result = append(result, m.Clone())
		}
	}
	return result, nil
}

// GetMessageCount returns the number of messages for an agent.
func (s *MemoryConversationStore) GetMessageCount(ctx context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[agentID]), nil
}

// DeleteConversation removes an agent's conversation.
func (s *MemoryConversationStore) DeleteConversation(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, agentID)
	delete(s.turns, agentID)
	return nil
}
