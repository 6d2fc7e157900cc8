package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/routa/routa/internal/models"
)

// Mock is a scriptable in-memory provider used by tests and local
// development. Responses are queued per role; each turn consumes the next
// response for its role, falling back to the last one when the queue runs
// dry.
type Mock struct {
	caps        Capabilities
	responses   map[models.AgentRole][]string
	errs        map[models.AgentRole]error
	calls       []MockCall
	interrupted map[string]int
	cleaned     map[string]int
	mu          sync.Mutex
}

// MockCall records one executed turn.
type MockCall struct {
	Role    models.AgentRole
	AgentID string
	Prompt  string
}

var _ AgentProvider = (*Mock)(nil)

// NewMock creates a mock provider that satisfies every role.
func NewMock() *Mock {
	return &Mock{
		caps: Capabilities{
			Name:                "mock",
			SupportsStreaming:   true,
			SupportsInterrupt:   true,
			SupportsHealthCheck: true,
			SupportsFileEditing: true,
			SupportsTerminal:    true,
			SupportsToolCalling: true,
			MaxConcurrentAgents: 16,
			Priority:            1,
		},
		responses:   make(map[models.AgentRole][]string),
		errs:        make(map[models.AgentRole]error),
		interrupted: make(map[string]int),
		cleaned:     make(map[string]int),
	}
}

// WithCapabilities overrides the declared capability record.
func (m *Mock) WithCapabilities(caps Capabilities) *Mock {
	m.caps = caps
	return m
}

// Queue appends responses for a role.
func (m *Mock) Queue(role models.AgentRole, responses ...string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[role] = append(m.responses[role], responses...)
	return m
}

// FailWith makes every turn for the role return err.
func (m *Mock) FailWith(role models.AgentRole, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[role] = err
	return m
}

// Calls returns the recorded turns.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// InterruptCount reports how many times an agent was interrupted.
func (m *Mock) InterruptCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted[agentID]
}

// CleanupCount reports how many times an agent was cleaned up.
func (m *Mock) CleanupCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleaned[agentID]
}

func (m *Mock) next(role models.AgentRole, agentID, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Role: role, AgentID: agentID, Prompt: prompt})
	if err := m.errs[role]; err != nil {
		return "", err
	}
	queue := m.responses[role]
	if len(queue) == 0 {
		return fmt.Sprintf("mock response for %s", role), nil
	}
	response := queue[0]
	if len(queue) > 1 {
		m.responses[role] = queue[1:]
	}
	return response, nil
}

// Run executes a scripted turn.
func (m *Mock) Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.next(role, agentID, prompt)
}

// RunStreaming executes a scripted turn, emitting the response as a single
// TEXT chunk.
func (m *Mock) RunStreaming(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk ChunkHandler) (string, error) {
	output, err := m.Run(ctx, role, agentID, prompt)
	if err != nil {
		if onChunk != nil {
			onChunk(StreamChunk{Type: ChunkError, Message: err.Error()})
		}
		return "", err
	}
	if onChunk != nil {
		onChunk(StreamChunk{Type: ChunkText, Content: output})
	}
	return output, nil
}

// IsHealthy always reports true.
func (m *Mock) IsHealthy(agentID string) bool { return true }

// Interrupt records the interruption.
func (m *Mock) Interrupt(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupted[agentID]++
}

// Cleanup records the cleanup.
func (m *Mock) Cleanup(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned[agentID]++
}

// Shutdown is a no-op.
func (m *Mock) Shutdown() {}

// Capabilities returns the declared record.
func (m *Mock) Capabilities() Capabilities { return m.caps }
