package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/store"
)

// flaky fails the first n turns with err, then behaves like the embedded
// mock.
type flaky struct {
	*Mock
	mu       sync.Mutex
	failures int
	err      error
}

func (f *flaky) Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return "", f.err
	}
	f.mu.Unlock()
	return f.Mock.Run(ctx, role, agentID, prompt)
}

func fastConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		Multiplier:       2,
		FailureThreshold: 3,
		OpenDuration:     time.Hour,
	}
}

func TestResilientRetriesTransientErrors(t *testing.T) {
	inner := &flaky{
		Mock:     NewMock().Queue(models.RoleCrafter, "eventually"),
		failures: 2,
		err:      errors.New("connection reset"),
	}
	r := NewResilient(inner, nil, fastConfig(), logger.Default())

	out, err := r.Run(context.Background(), models.RoleCrafter, "agent-1", "p")
	require.NoError(t, err)
	assert.Equal(t, "eventually", out)
}

func TestResilientGivesUpAfterMaxAttempts(t *testing.T) {
	transient := errors.New("connection reset")
	inner := NewMock().FailWith(models.RoleCrafter, transient)
	r := NewResilient(inner, nil, fastConfig(), logger.Default())

	_, err := r.Run(context.Background(), models.RoleCrafter, "agent-1", "p")
	require.ErrorIs(t, err, transient)
	assert.Len(t, inner.Calls(), 3)
}

func TestResilientPermanentErrorsFailFast(t *testing.T) {
	for _, permanent := range []error{ErrNoSuitableProvider, context.Canceled} {
		inner := NewMock().FailWith(models.RoleCrafter, permanent)
		r := NewResilient(inner, nil, fastConfig(), logger.Default())

		_, err := r.Run(context.Background(), models.RoleCrafter, "agent-1", "p")
		require.ErrorIs(t, err, permanent)
		assert.Len(t, inner.Calls(), 1, "%v must not be retried", permanent)
	}
}

func TestResilientCircuitOpensAfterThreshold(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	inner := NewMock().FailWith(models.RoleCrafter, errors.New("boom"))
	r := NewResilient(inner, nil, cfg, logger.Default())

	ctx := context.Background()
	for i := 0; i < cfg.FailureThreshold; i++ {
		_, err := r.Run(ctx, models.RoleCrafter, "agent-1", "p")
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := r.Run(ctx, models.RoleCrafter, "agent-1", "p")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Other agents are unaffected.
	_, err = r.Run(ctx, models.RoleCrafter, "agent-2", "p")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestResilientCleanupResetsCircuit(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	boom := errors.New("boom")
	inner := NewMock().FailWith(models.RoleCrafter, boom)
	r := NewResilient(inner, nil, cfg, logger.Default())

	ctx := context.Background()
	for i := 0; i < cfg.FailureThreshold; i++ {
		r.Run(ctx, models.RoleCrafter, "agent-1", "p")
	}
	_, err := r.Run(ctx, models.RoleCrafter, "agent-1", "p")
	require.ErrorIs(t, err, ErrCircuitOpen)

	r.Cleanup("agent-1")
	assert.Equal(t, 1, inner.CleanupCount("agent-1"))

	_, err = r.Run(ctx, models.RoleCrafter, "agent-1", "p")
	assert.ErrorIs(t, err, boom, "circuit is closed again after cleanup")
}

func TestResilientRecordsFinalFailureInConversation(t *testing.T) {
	conversations := store.NewMemoryConversationStore()
	inner := NewMock().FailWith(models.RoleCrafter, errors.New("model overloaded"))
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	r := NewResilient(inner, conversations, cfg, logger.Default())

	ctx := context.Background()
	_, err := r.Run(ctx, models.RoleCrafter, "agent-1", "p")
	require.Error(t, err)

	msgs, err := conversations.GetConversation(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageRoleAssistant, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "[Provider error] model overloaded")
}

func TestResilientNoErrorMessageOnCancellation(t *testing.T) {
	conversations := store.NewMemoryConversationStore()
	inner := NewMock().FailWith(models.RoleCrafter, context.Canceled)
	r := NewResilient(inner, conversations, fastConfig(), logger.Default())

	ctx := context.Background()
	_, err := r.Run(ctx, models.RoleCrafter, "agent-1", "p")
	require.ErrorIs(t, err, context.Canceled)

	msgs, err := conversations.GetConversation(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestResilientStreamingForwardsChunks(t *testing.T) {
	inner := NewMock().Queue(models.RoleRouta, "plan text")
	r := NewResilient(inner, nil, fastConfig(), logger.Default())

	var chunks []StreamChunk
	out, err := r.RunStreaming(context.Background(), models.RoleRouta, "agent-1", "p", func(c StreamChunk) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "plan text", out)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkText, chunks[0].Type)
	assert.Equal(t, "plan text", chunks[0].Content)
}
