package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
	"github.com/routa/routa/internal/store"
)

// ResilientConfig tunes retry and circuit-breaker behavior.
type ResilientConfig struct {
	MaxAttempts      int           // attempts per turn, including the first
	BaseDelay        time.Duration // first backoff interval
	Multiplier       float64       // backoff growth factor
	FailureThreshold int           // consecutive failures before the circuit opens
	OpenDuration     time.Duration // how long an open circuit rejects calls
}

// DefaultResilientConfig mirrors the wrapper defaults: 3 attempts starting
// at 1s with 2x growth, circuit opens after 5 failures for 30s.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:      3,
		BaseDelay:        time.Second,
		Multiplier:       2,
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

// circuitState tracks consecutive failures per agent.
type circuitState struct {
	failures int
	openedAt time.Time
}

// Resilient wraps any provider with retry, exponential backoff with jitter,
// and a per-agent circuit breaker. Transient errors are retried;
// validation and routing errors fail fast. The final failure of a turn is
// recorded as an ERROR message in the agent's conversation.
type Resilient struct {
	inner         AgentProvider
	conversations store.ConversationStore
	cfg           ResilientConfig
	circuits      map[string]*circuitState
	mu            sync.Mutex
	logger        *logger.Logger
}

var _ AgentProvider = (*Resilient)(nil)

// NewResilient wraps a provider.
func NewResilient(inner AgentProvider, conversations store.ConversationStore, cfg ResilientConfig, log *logger.Logger) *Resilient {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultResilientConfig()
	}
	return &Resilient{
		inner:         inner,
		conversations: conversations,
		cfg:           cfg,
		circuits:      make(map[string]*circuitState),
		logger:        log.WithComponent("resilient-provider"),
	}
}

// isPermanent reports whether an error must not be retried.
func isPermanent(err error) bool {
	return errors.Is(err, ErrNoSuitableProvider) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrCircuitOpen)
}

// checkCircuit rejects calls while the agent's circuit is open. After
// OpenDuration one probe is let through (half-open).
func (r *Resilient) checkCircuit(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[agentID]
	if !ok || c.failures < r.cfg.FailureThreshold {
		return nil
	}
	if time.Since(c.openedAt) >= r.cfg.OpenDuration {
		// Half-open: allow one probe; a failure re-opens immediately.
		c.failures = r.cfg.FailureThreshold - 1
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCircuitOpen, agentID)
}

func (r *Resilient) recordOutcome(agentID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[agentID]
	if !ok {
		c = &circuitState{}
		r.circuits[agentID] = c
	}
	if err == nil {
		c.failures = 0
		return
	}
	c.failures++
	if c.failures == r.cfg.FailureThreshold {
		c.openedAt = time.Now()
		r.logger.Warn("circuit opened",
			zap.String("agent_id", agentID),
			zap.Int("failures", c.failures))
	}
}

func (r *Resilient) execute(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk ChunkHandler) (string, error) {
	if err := r.checkCircuit(agentID); err != nil {
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.BaseDelay
	bo.Multiplier = r.cfg.Multiplier
	bo.MaxElapsedTime = 0

	var output string
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		if onChunk != nil {
			output, err = r.inner.RunStreaming(ctx, role, agentID, prompt, onChunk)
		} else {
			output, err = r.inner.Run(ctx, role, agentID, prompt)
		}
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("provider turn failed, will retry",
			zap.String("agent_id", agentID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1)), ctx))

	r.recordOutcome(agentID, err)

	if err != nil {
		r.appendErrorMessage(ctx, agentID, err)
		return "", err
	}
	return output, nil
}

func (r *Resilient) appendErrorMessage(ctx context.Context, agentID string, turnErr error) {
	if r.conversations == nil || errors.Is(turnErr, context.Canceled) {
		return
	}
	msg := &models.Message{
		AgentID: agentID,
		Role:    models.MessageRoleAssistant,
		Content: fmt.Sprintf("[Provider error] %v", turnErr),
	}
	if err := r.conversations.Append(context.WithoutCancel(ctx), msg); err != nil {
		r.logger.Error("failed to record provider error", zap.Error(err))
	}
}

// Run executes a turn with retries.
func (r *Resilient) Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error) {
	return r.execute(ctx, role, agentID, prompt, nil)
}

// RunStreaming executes a streaming turn with retries.
func (r *Resilient) RunStreaming(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk ChunkHandler) (string, error) {
	if onChunk == nil {
		onChunk = func(StreamChunk) {}
	}
	return r.execute(ctx, role, agentID, prompt, onChunk)
}

// IsHealthy delegates to the wrapped provider.
func (r *Resilient) IsHealthy(agentID string) bool { return r.inner.IsHealthy(agentID) }

// Interrupt delegates to the wrapped provider.
func (r *Resilient) Interrupt(agentID string) { r.inner.Interrupt(agentID) }

// Cleanup delegates and resets the agent's circuit.
func (r *Resilient) Cleanup(agentID string) {
	r.inner.Cleanup(agentID)
	r.mu.Lock()
	delete(r.circuits, agentID)
	r.mu.Unlock()
}

// Shutdown delegates to the wrapped provider.
func (r *Resilient) Shutdown() { r.inner.Shutdown() }

// Capabilities delegates to the wrapped provider.
func (r *Resilient) Capabilities() Capabilities { return r.inner.Capabilities() }
