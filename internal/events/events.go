// Package events provides the domain event types and the filtered
// publish/subscribe bus used for inter-agent coordination.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates agent events.
type EventType string

const (
	AgentCreated      EventType = "AGENT_CREATED"
	AgentStatusChange EventType = "AGENT_STATUS_CHANGED"
	TaskAssigned      EventType = "TASK_ASSIGNED"
	TaskStatusChange  EventType = "TASK_STATUS_CHANGED"
	MessageSent       EventType = "MESSAGE_SENT"
	ReportSubmitted   EventType = "REPORT_SUBMITTED"
	PhaseChange       EventType = "PHASE_CHANGED"
	// QueueOverflow is a diagnostic event emitted when a subscriber queue
	// drops its oldest pending event.
	QueueOverflow EventType = "QUEUE_OVERFLOW"
)

// AgentEvent is one domain event on the bus.
type AgentEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	AgentID     string         `json:"agent_id"`
	WorkspaceID string         `json:"workspace_id"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewEvent creates an event with a fresh id and current timestamp.
func NewEvent(eventType EventType, agentID, workspaceID string, data map[string]any) *AgentEvent {
	return &AgentEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		AgentID:     agentID,
		WorkspaceID: workspaceID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}
