package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/common/logger"
)

func testBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	return NewBus(logger.Default(), opts...)
}

func TestBusDeliversToHandler(t *testing.T) {
	bus := testBus(t)

	var mu sync.Mutex
	var received []*AgentEvent
	done := make(chan struct{}, 1)

	bus.Subscribe(Filter{}, func(e *AgentEvent) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Emit(NewEvent(AgentCreated, "agent-1", "ws", nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, AgentCreated, received[0].Type)
}

func TestBusFilterByType(t *testing.T) {
	bus := testBus(t)

	subID := bus.Subscribe(Filter{AgentID: "sub-1", EventTypes: []EventType{TaskAssigned}}, nil)
	require.NotEmpty(t, subID)

	bus.Emit(NewEvent(AgentCreated, "agent-1", "ws", nil))
	bus.Emit(NewEvent(TaskAssigned, "agent-1", "ws", nil))

	drained := bus.DrainPendingEvents("sub-1")
	require.Len(t, drained, 1)
	assert.Equal(t, TaskAssigned, drained[0].Type)

	// A second drain observes nothing new.
	assert.Empty(t, bus.DrainPendingEvents("sub-1"))
}

func TestBusExcludeSelf(t *testing.T) {
	bus := testBus(t)

	bus.Subscribe(Filter{AgentID: "agent-1", ExcludeSelf: true}, nil)

	bus.Emit(NewEvent(MessageSent, "agent-1", "ws", nil))
	bus.Emit(NewEvent(MessageSent, "agent-2", "ws", nil))

	drained := bus.DrainPendingEvents("agent-1")
	require.Len(t, drained, 1)
	assert.Equal(t, "agent-2", drained[0].AgentID)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := testBus(t)

	subID := bus.Subscribe(Filter{AgentID: "agent-1"}, nil)
	assert.Equal(t, 1, bus.SubscriptionCount())

	assert.True(t, bus.Unsubscribe(subID))
	assert.Equal(t, 0, bus.SubscriptionCount())
	assert.False(t, bus.Unsubscribe(subID))

	// Events after unsubscribe are not observed.
	bus.Emit(NewEvent(AgentCreated, "agent-2", "ws", nil))
	assert.Empty(t, bus.DrainPendingEvents("agent-1"))
}

func TestBusOverflowDropsOldest(t *testing.T) {
	bus := testBus(t, WithQueueSize(2))

	bus.Subscribe(Filter{AgentID: "slow", EventTypes: []EventType{MessageSent}}, nil)

	first := NewEvent(MessageSent, "a", "ws", map[string]any{"n": 1})
	second := NewEvent(MessageSent, "a", "ws", map[string]any{"n": 2})
	third := NewEvent(MessageSent, "a", "ws", map[string]any{"n": 3})
	bus.Emit(first)
	bus.Emit(second)
	bus.Emit(third)

	drained := bus.DrainPendingEvents("slow")
	require.Len(t, drained, 2)
	assert.Equal(t, second.ID, drained[0].ID, "oldest event was dropped")
	assert.Equal(t, third.ID, drained[1].ID)
}

func TestBusOverflowEmitsDiagnostic(t *testing.T) {
	bus := testBus(t, WithQueueSize(1))

	// The observer sees the diagnostic; the overflowing subscription only
	// sees MESSAGE_SENT.
	bus.Subscribe(Filter{AgentID: "victim", EventTypes: []EventType{MessageSent}}, nil)
	bus.Subscribe(Filter{AgentID: "observer", EventTypes: []EventType{QueueOverflow}}, nil)

	bus.Emit(NewEvent(MessageSent, "a", "ws", nil))
	bus.Emit(NewEvent(MessageSent, "a", "ws", nil))

	diagnostics := bus.DrainPendingEvents("observer")
	require.Len(t, diagnostics, 1)
	assert.Equal(t, QueueOverflow, diagnostics[0].Type)
	assert.NotEmpty(t, diagnostics[0].Data["subscription_id"])
}
