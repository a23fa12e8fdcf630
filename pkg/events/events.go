// Package events defines the messages exchanged on the event bus: run lifecycle notifications,
// workflow changes and the CRM domain events that fire event triggers.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every automata event; consumers filter by the event type metadata.
const Topic = "automata.events"

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	// Run lifecycle.
	RunRequestedEvent       EventType = "run.requested"
	RunCancelRequestedEvent EventType = "run.cancel_requested"
	RunCompletedEvent       EventType = "run.completed"
	RunFailedEvent          EventType = "run.failed"

	// Workflow definition changes.
	WorkflowActivatedEvent   EventType = "workflow.activated"
	WorkflowDeactivatedEvent EventType = "workflow.deactivated"
	WorkflowDeletedEvent     EventType = "workflow.deleted"

	// Domain events published by the CRM, e.g. contact.created.
	DomainEventType EventType = "domain.event"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// RunRequested hands a pending run to a worker.
type RunRequested struct {
	BaseEvent

	RunID       string `json:"run_id"`
	TriggerType string `json:"trigger_type"`
}

func (e RunRequested) GetType() EventType {
	return RunRequestedEvent
}

// RunCancelRequested asks the worker executing RunID to stop it.
type RunCancelRequested struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (e RunCancelRequested) GetType() EventType {
	return RunCancelRequestedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID      string          `json:"run_id"`
	Output     json.RawMessage `json:"output,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID      string `json:"run_id"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type WorkflowActivated struct {
	BaseEvent

	TriggerType string `json:"trigger_type"`
}

func (e WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowDeactivated struct {
	BaseEvent
}

func (e WorkflowDeactivated) GetType() EventType {
	return WorkflowDeactivatedEvent
}

type WorkflowDeleted struct {
	BaseEvent
}

func (e WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

// DomainEvent is a named CRM event. Name is matched against event trigger configs.
type DomainEvent struct {
	BaseEvent

	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (e DomainEvent) GetType() EventType {
	return DomainEventType
}

// New returns an empty event value for eventType, or nil when the type is unknown.
func New(eventType EventType) any {
	switch eventType {
	case RunRequestedEvent:
		return &RunRequested{}
	case RunCancelRequestedEvent:
		return &RunCancelRequested{}
	case RunCompletedEvent:
		return &RunCompleted{}
	case RunFailedEvent:
		return &RunFailed{}
	case WorkflowActivatedEvent:
		return &WorkflowActivated{}
	case WorkflowDeactivatedEvent:
		return &WorkflowDeactivated{}
	case WorkflowDeletedEvent:
		return &WorkflowDeleted{}
	case DomainEventType:
		return &DomainEvent{}
	default:
		return nil
	}
}
