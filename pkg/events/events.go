// Package events defines the event types published on the bus as runs are
// created, resumed and finished.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/models"
)

type EventType string

// Topic carries all engine events.
const Topic = "journey.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerFiredEvent  EventType = "trigger.fired"
	RunActivationEvent EventType = "run.activation"
	RunCompletedEvent  EventType = "run.completed"
	RunFailedEvent     EventType = "run.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

// TriggerFired records one dispatch: which trigger fired for which entity and
// which runs it opened.
type TriggerFired struct {
	BaseEvent

	TriggerType models.TriggerType `json:"trigger_type"`
	EntityID    string             `json:"entity_id"`
	RunIDs      []string           `json:"run_ids,omitempty"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

// RunActivation asks a worker to advance a run. Resume marks activations
// published for claimed WAITING runs, whose pending delay step must be
// consumed first.
type RunActivation struct {
	BaseEvent

	RunID        string `json:"run_id"`
	AutomationID string `json:"automation_id"`
	EntityID     string `json:"entity_id"`
	Resume       bool   `json:"resume,omitempty"`
}

func (e RunActivation) GetType() EventType {
	return RunActivationEvent
}

type RunCompleted struct {
	BaseEvent

	RunID        string `json:"run_id"`
	AutomationID string `json:"automation_id"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID        string `json:"run_id"`
	AutomationID string `json:"automation_id"`
	Error        string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}
