// Package web provides HTTP request and response types for the automation API.
package web

import "github.com/journeyhq/journey/pkg/models"

// IngestEventRequest represents an incoming domain event. Context carries the
// event payload grouped by resource; when omitted, the engine builds it from
// the stored entity.
type IngestEventRequest struct {
	TenantID    string                    `json:"tenant_id"    validate:"required"`
	TriggerType models.TriggerType        `json:"trigger_type" validate:"required,oneof=NEW_ENTITY ENTITY_COMPLETED ENTITY_SENT STATUS_CHANGED RECURRING_DATE_MATCH"`
	EntityID    string                    `json:"entity_id"    validate:"required"`
	Context     map[string]map[string]any `json:"context,omitempty"`
}

// IngestEventResponse reports the runs opened for an ingested event.
type IngestEventResponse struct {
	RunIDs []string `json:"run_ids"`
}

// CreateAutomationRequest represents the request body for creating a new automation.
type CreateAutomationRequest struct {
	TenantID    string                 `json:"tenant_id"    validate:"required"`
	Name        string                 `json:"name"         validate:"required,min=3"`
	TriggerType models.TriggerType     `json:"trigger_type" validate:"required"`
	Condition   *models.ConditionGroup `json:"condition,omitempty"`
	Recurrence  *models.Recurrence     `json:"recurrence,omitempty"`
	Steps       []models.Step          `json:"steps"`
	Active      bool                   `json:"active"`
}

// UpdateAutomationRequest represents the request body for updating an existing
// automation. All fields are optional to support partial updates.
type UpdateAutomationRequest struct {
	Name       *string                `json:"name,omitempty" validate:"omitempty,min=3"`
	Condition  *models.ConditionGroup `json:"condition,omitempty"`
	Recurrence *models.Recurrence     `json:"recurrence,omitempty"`
	Steps      []models.Step          `json:"steps,omitempty"`
	Active     *bool                  `json:"active,omitempty"`
}

// RunResponse is the external view of a run. The stored event context stays
// internal; clients read the step log instead.
type RunResponse struct {
	ID               string                `json:"id"`
	AutomationID     string                `json:"automation_id"`
	EntityID         string                `json:"entity_id"`
	Status           models.RunStatus      `json:"status"`
	CurrentStepIndex int                   `json:"current_step_index"`
	DueAt            *string               `json:"due_at,omitempty"`
	Log              []models.StepLogEntry `json:"log"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
}

// TransformRunResponse converts a stored run into its external representation.
func TransformRunResponse(run *models.Run) RunResponse {
	response := RunResponse{
		ID:               run.ID,
		AutomationID:     run.AutomationID,
		EntityID:         run.EntityID,
		Status:           run.Status,
		CurrentStepIndex: run.CurrentStepIndex,
		Log:              run.Log,
		CreatedAt:        run.CreatedAt.Format(timeLayout),
		UpdatedAt:        run.UpdatedAt.Format(timeLayout),
	}

	if run.DueAt != nil {
		due := run.DueAt.Format(timeLayout)
		response.DueAt = &due
	}

	return response
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
