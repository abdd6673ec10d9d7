// Package models defines the core domain models for event-triggered customer automations.
package models

import "time"

// TriggerType is the category of domain event that can start new runs.
type TriggerType string

const (
	TriggerNewEntity          TriggerType = "NEW_ENTITY"
	TriggerEntityCompleted    TriggerType = "ENTITY_COMPLETED"
	TriggerEntitySent         TriggerType = "ENTITY_SENT"
	TriggerStatusChanged      TriggerType = "STATUS_CHANGED"
	TriggerRecurringDateMatch TriggerType = "RECURRING_DATE_MATCH"
)

// CyclePolicy decides where the idempotency window of a recurring trigger
// starts: aligned to the calendar year, or rolling back one year from now.
type CyclePolicy string

const (
	CycleCalendarYear CyclePolicy = "calendar_year"
	CycleRollingYear  CyclePolicy = "rolling_year"
)

// Recurrence configures a RECURRING_DATE_MATCH trigger: which entity date
// field to match on (month and day) and which cycle policy gates re-firing.
type Recurrence struct {
	DateField string      `json:"date_field" validate:"required"`
	Cycle     CyclePolicy `json:"cycle"      validate:"omitempty,oneof=calendar_year rolling_year"`
}

// Automation is a stored workflow definition: a trigger, an optional
// condition tree and an ordered list of steps. Authored by an operator;
// read-only to the engine at dispatch time.
type Automation struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"    validate:"required"`
	Name        string          `json:"name"         validate:"required,min=3"`
	TriggerType TriggerType     `json:"trigger_type" validate:"required"`
	Condition   *ConditionGroup `json:"condition,omitempty"`
	Recurrence  *Recurrence     `json:"recurrence,omitempty"`
	Steps       []Step          `json:"steps"`
	Active      bool            `json:"active"`

	// Derived counters, maintained by the run store in the same statement
	// that creates or completes a run.
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
