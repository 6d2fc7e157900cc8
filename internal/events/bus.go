package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routa/routa/internal/common/logger"
)

// defaultQueueSize bounds each subscriber's pending queue.
const defaultQueueSize = 256

// Filter selects which events a subscriber receives.
type Filter struct {
	AgentID     string
	AgentName   string
	EventTypes  []EventType
	ExcludeSelf bool
}

func (f Filter) matches(event *AgentEvent) bool {
	if f.ExcludeSelf && f.AgentID != "" && event.AgentID == f.AgentID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == event.Type {
			return true
		}
	}
	return false
}

type subscription struct {
	id      string
	filter  Filter
	pending []*AgentEvent // bounded, oldest first
	handler func(*AgentEvent)
}

// Bus is an in-memory event bus with per-subscriber filtering. Delivery is
// non-blocking: each subscriber has a bounded pending queue and overflow
// drops the oldest event, emitting a QueueOverflow diagnostic.
type Bus struct {
	subscriptions map[string]*subscription
	byAgent       map[string][]string // subscription ids by agent id
	queueSize     int
	mu            sync.Mutex
	logger        *logger.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber pending queue bound.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBus creates a new in-memory event bus.
func NewBus(log *logger.Logger, opts ...Option) *Bus {
	b := &Bus{
		subscriptions: make(map[string]*subscription),
		byAgent:       make(map[string][]string),
		queueSize:     defaultQueueSize,
		logger:        log.WithComponent("event-bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a filter and returns the subscription id. When a
// handler is supplied it is invoked asynchronously per event in addition to
// the pending queue.
func (b *Bus) Subscribe(filter Filter, handler func(*AgentEvent)) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      uuid.New().String(),
		filter:  filter,
		handler: handler,
	}
	b.subscriptions[sub.id] = sub
	if filter.AgentID != "" {
		b.byAgent[filter.AgentID] = append(b.byAgent[filter.AgentID], sub.id)
	}

	b.logger.Debug("subscribed",
		zap.String("subscription_id", sub.id),
		zap.String("agent_id", filter.AgentID),
		zap.Int("event_types", len(filter.EventTypes)))
	return sub.id
}

// Unsubscribe removes a subscription. Returns false if the id is unknown.
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscriptions[subscriptionID]
	if !ok {
		return false
	}
	delete(b.subscriptions, subscriptionID)
	if sub.filter.AgentID != "" {
		ids := b.byAgent[sub.filter.AgentID]
		for i, id := range ids {
			if id == subscriptionID {
				b.byAgent[sub.filter.AgentID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(b.byAgent[sub.filter.AgentID]) == 0 {
			delete(b.byAgent, sub.filter.AgentID)
		}
	}
	return true
}

// Emit delivers an event to every matching subscriber without blocking the
// publisher. Overflowing queues drop their oldest event.
func (b *Bus) Emit(event *AgentEvent) {
	var handlers []func(*AgentEvent)
	var overflowed []string

	b.mu.Lock()
	for _, sub := range b.subscriptions {
		if !sub.filter.matches(event) {
			continue
		}
		if len(sub.pending) >= b.queueSize {
			sub.pending = sub.pending[1:]
			overflowed = append(overflowed, sub.id)
		}
		sub.pending = append(sub.pending, event)
		if sub.handler != nil {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		go h(event)
	}

	for _, subID := range overflowed {
		b.logger.Warn("subscriber queue overflow, dropped oldest event",
			zap.String("subscription_id", subID),
			zap.String("event_type", string(event.Type)))
		if event.Type != QueueOverflow {
			b.Emit(NewEvent(QueueOverflow, event.AgentID, event.WorkspaceID, map[string]any{
				"subscription_id": subID,
			}))
		}
	}

	b.logger.Debug("emitted event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("agent_id", event.AgentID))
}

// DrainPendingEvents pulls and clears the pending queues of every
// subscription owned by the agent. Used by polling consumers.
func (b *Bus) DrainPendingEvents(agentID string) []*AgentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var drained []*AgentEvent
	for _, subID := range b.byAgent[agentID] {
		sub := b.subscriptions[subID]
		if sub == nil || len(sub.pending) == 0 {
			continue
		}
		drained = append(drained, sub.pending...)
		sub.pending = nil
	}
	return drained
}

// SubscriptionCount reports the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}
