package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
)

func plannerOnly(name string, priority int) *Mock {
	return NewMock().WithCapabilities(Capabilities{
		Name:                name,
		SupportsToolCalling: true,
		MaxConcurrentAgents: 1,
		Priority:            priority,
	})
}

func fullAgent(name string, priority int) *Mock {
	return NewMock().WithCapabilities(Capabilities{
		Name:                name,
		SupportsFileEditing: true,
		SupportsTerminal:    true,
		SupportsToolCalling: true,
		MaxConcurrentAgents: 4,
		Priority:            priority,
	})
}

func TestSelectProviderByRole(t *testing.T) {
	planner := plannerOnly("planner", 10)
	agent := fullAgent("agent", 5)
	router := NewRouter(logger.Default(), planner, agent)

	got, err := router.SelectProvider(models.RoleRouta)
	require.NoError(t, err)
	assert.Equal(t, "planner", got.Capabilities().Name)

	got, err = router.SelectProvider(models.RoleCrafter)
	require.NoError(t, err)
	assert.Equal(t, "agent", got.Capabilities().Name, "planner lacks file editing and terminal")

	got, err = router.SelectProvider(models.RoleGate)
	require.NoError(t, err)
	assert.Equal(t, "agent", got.Capabilities().Name)
}

func TestSelectProviderHighestPriorityWins(t *testing.T) {
	low := fullAgent("low", 1)
	high := fullAgent("high", 100)
	router := NewRouter(logger.Default(), low, high)

	got, err := router.SelectProvider(models.RoleCrafter)
	require.NoError(t, err)
	assert.Equal(t, "high", got.Capabilities().Name)
}

func TestSelectProviderInsertionOrderBreaksTies(t *testing.T) {
	first := fullAgent("first", 7)
	second := fullAgent("second", 7)
	router := NewRouter(logger.Default(), first, second)

	got, err := router.SelectProvider(models.RoleCrafter)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Capabilities().Name)
}

func TestSelectProviderNoMatch(t *testing.T) {
	router := NewRouter(logger.Default(), plannerOnly("planner", 10))

	_, err := router.SelectProvider(models.RoleCrafter)
	assert.ErrorIs(t, err, ErrNoSuitableProvider)

	_, err = router.RunStreaming(context.Background(), models.RoleCrafter, "a", "p", nil)
	assert.ErrorIs(t, err, ErrNoSuitableProvider)
}

func TestRouterUnregister(t *testing.T) {
	router := NewRouter(logger.Default(), fullAgent("agent", 1))

	assert.True(t, router.Unregister("agent"))
	assert.False(t, router.Unregister("agent"))

	_, err := router.SelectProvider(models.RoleCrafter)
	assert.ErrorIs(t, err, ErrNoSuitableProvider)
}

func TestRouterCapabilitiesUnion(t *testing.T) {
	router := NewRouter(logger.Default(), plannerOnly("planner", 10), fullAgent("agent", 5))

	caps := router.Capabilities()
	assert.True(t, caps.SupportsToolCalling)
	assert.True(t, caps.SupportsFileEditing)
	assert.Equal(t, 10, caps.Priority)
	assert.Equal(t, 5, caps.MaxConcurrentAgents)
}

func TestRouterDispatchRecordsCall(t *testing.T) {
	agent := fullAgent("agent", 1).Queue(models.RoleCrafter, "done")
	router := NewRouter(logger.Default(), agent)

	out, err := router.Run(context.Background(), models.RoleCrafter, "agent-1", "build it")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	calls := agent.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "agent-1", calls[0].AgentID)
	assert.Equal(t, "build it", calls[0].Prompt)
}
