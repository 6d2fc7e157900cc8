package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
	"github.com/routa/routa/internal/models"
)

// Router dispatches each turn to the registered provider with the highest
// priority whose capabilities satisfy the role. It implements
// AgentProvider itself so callers can treat it as a single backend.
type Router struct {
	providers []AgentProvider // insertion order breaks priority ties
	mu        sync.RWMutex
	logger    *logger.Logger
}

var _ AgentProvider = (*Router)(nil)

// NewRouter creates a capability-based router.
func NewRouter(log *logger.Logger, providers ...AgentProvider) *Router {
	return &Router{
		providers: providers,
		logger:    log.WithComponent("provider-router"),
	}
}

// Register appends a provider to the set.
func (r *Router) Register(p AgentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.logger.Info("provider registered",
		zap.String("provider", p.Capabilities().Name),
		zap.Int("priority", p.Capabilities().Priority))
}

// Unregister removes the provider with the given name. Returns false when
// no such provider is registered.
func (r *Router) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.providers {
		if p.Capabilities().Name == name {
			r.providers = append(r.providers[:i], r.providers[i+1:]...)
			return true
		}
	}
	return false
}

// SelectProvider returns the best-fit provider for a role.
func (r *Router) SelectProvider(role models.AgentRole) (AgentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best AgentProvider
	bestPriority := 0
	for _, p := range r.providers {
		caps := p.Capabilities()
		if !caps.Satisfies(role) {
			continue
		}
		if best == nil || caps.Priority > bestPriority {
			best = p
			bestPriority = caps.Priority
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuitableProvider, role)
	}
	return best, nil
}

// Run dispatches a non-streaming turn.
func (r *Router) Run(ctx context.Context, role models.AgentRole, agentID, prompt string) (string, error) {
	p, err := r.SelectProvider(role)
	if err != nil {
		return "", err
	}
	return p.Run(ctx, role, agentID, prompt)
}

// RunStreaming dispatches a streaming turn.
func (r *Router) RunStreaming(ctx context.Context, role models.AgentRole, agentID, prompt string, onChunk ChunkHandler) (string, error) {
	p, err := r.SelectProvider(role)
	if err != nil {
		return "", err
	}
	r.logger.Debug("dispatching turn",
		zap.String("role", string(role)),
		zap.String("agent_id", agentID),
		zap.String("provider", p.Capabilities().Name))
	return p.RunStreaming(ctx, role, agentID, prompt, onChunk)
}

// IsHealthy reports health across all providers owning the agent.
func (r *Router) IsHealthy(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.IsHealthy(agentID) {
			return true
		}
	}
	return false
}

// Interrupt forwards the interrupt to every provider.
func (r *Router) Interrupt(agentID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		p.Interrupt(agentID)
	}
}

// Cleanup releases the agent's resources across providers.
func (r *Router) Cleanup(agentID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		p.Cleanup(agentID)
	}
}

// Shutdown shuts down every registered provider.
func (r *Router) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		p.Shutdown()
	}
}

// Capabilities returns the union of registered capabilities under the
// router's own name, with the highest registered priority.
func (r *Router) Capabilities() Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := Capabilities{Name: "capability-router"}
	for _, p := range r.providers {
		pc := p.Capabilities()
		caps.SupportsStreaming = caps.SupportsStreaming || pc.SupportsStreaming
		caps.SupportsInterrupt = caps.SupportsInterrupt || pc.SupportsInterrupt
		caps.SupportsHealthCheck = caps.SupportsHealthCheck || pc.SupportsHealthCheck
		caps.SupportsFileEditing = caps.SupportsFileEditing || pc.SupportsFileEditing
		caps.SupportsTerminal = caps.SupportsTerminal || pc.SupportsTerminal
		caps.SupportsToolCalling = caps.SupportsToolCalling || pc.SupportsToolCalling
		if pc.Priority > caps.Priority {
			caps.Priority = pc.Priority
		}
		caps.MaxConcurrentAgents += pc.MaxConcurrentAgents
	}
	return caps
}
