package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusWaiting   RunStatus = "WAITING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// StepOutcome records what happened to a step in the run log.
type StepOutcome string

const (
	OutcomeTriggered StepOutcome = "triggered"
	OutcomeSuccess   StepOutcome = "success"
	OutcomeError     StepOutcome = "error"
)

// StepLogEntry is one line of a run's append-only audit log. The bootstrap
// entry written at dispatch time has StepIndex -1 since no step has run yet.
type StepLogEntry struct {
	StepIndex int         `json:"step_index"`
	StepKind  StepKind    `json:"step_kind,omitempty"`
	Outcome   StepOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Run is one execution instance of an automation for one entity. AutomationID
// and EntityID never change after creation; terminal statuses are immutable.
type Run struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	AutomationID     string         `json:"automation_id"`
	EntityID         string         `json:"entity_id"`
	Status           RunStatus      `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	Context          EventContext   `json:"context,omitempty"`
	Log              []StepLogEntry `json:"log"`

	// DueAt is only meaningful while the run is WAITING.
	DueAt *time.Time `json:"due_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a run in RUNNING state at step 0 with a bootstrap log entry.
func NewRun(automation *Automation, entityID string, evctx EventContext) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	now := time.Now().UTC()

	run := &Run{
		ID:               id.String(),
		TenantID:         automation.TenantID,
		AutomationID:     automation.ID,
		EntityID:         entityID,
		Status:           RunStatusRunning,
		CurrentStepIndex: 0,
		Context:          evctx,
		Log:              make([]StepLogEntry, 0, len(automation.Steps)+1),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	run.Log = append(run.Log, StepLogEntry{
		StepIndex: -1,
		Outcome:   OutcomeTriggered,
		Detail:    fmt.Sprintf("run created for trigger %s", automation.TriggerType),
		Timestamp: now,
	})

	return run, nil
}

// AppendLog appends one entry to the run's audit log.
func (r *Run) AppendLog(index int, kind StepKind, outcome StepOutcome, detail string) {
	r.Log = append(r.Log, StepLogEntry{
		StepIndex: index,
		StepKind:  kind,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// Terminal reports whether the run has reached an immutable final state.
func (r *Run) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
