// Package web provides the HTTP handlers for event ingress and automation
// management.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/journeyhq/journey/pkg/dispatcher"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/registry"
)

type APIHandlers struct {
	persistence persistence.Persistence
	dispatcher  *dispatcher.Dispatcher
	validator   *validator.Validate
	registry    *registry.Registry
}

func NewAPIHandlers(
	p persistence.Persistence,
	d *dispatcher.Dispatcher,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		dispatcher:  d,
		validator:   validator,
		registry:    registry,
	}
}

// IngestEvent accepts a domain event and dispatches it against the active
// automations. The response lists the runs that were opened; an event that
// matches nothing still succeeds with an empty list.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	evctx := models.EventContext(req.Context)

	if evctx == nil {
		entity, err := h.persistence.Entities().GetByID(c.Context(), req.TenantID, req.EntityID)
		if err != nil {
			if persistence.IsEntityNotFound(err) {
				return badRequest(c, "Event carries no context and entity is unknown")
			}

			return internalError(c, err)
		}

		evctx = entity.Context()
	}

	runIDs, err := h.dispatcher.Dispatch(c.Context(), req.TriggerType, req.EntityID, evctx)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(IngestEventResponse{RunIDs: runIDs})
}

func (h *APIHandlers) GetAutomations(c fiber.Ctx) error {
	automations, err := h.persistence.Automations().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(automations)
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	automation, err := h.persistence.Automations().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var document map[string]any
	if err := json.Unmarshal(c.Body(), &document); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := models.ValidateAutomationDocument(document); err != nil {
		return badRequest(c, err.Error())
	}

	var req CreateAutomationRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if detail, ok := h.checkSteps(req.TriggerType, req.Recurrence, req.Steps); !ok {
		return badRequest(c, detail)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return internalError(c, err)
	}

	now := time.Now().UTC()
	automation := &models.Automation{
		ID:          id.String(),
		TenantID:    req.TenantID,
		Name:        req.Name,
		TriggerType: req.TriggerType,
		Condition:   req.Condition,
		Recurrence:  req.Recurrence,
		Steps:       req.Steps,
		Active:      req.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.persistence.Automations().Save(c.Context(), automation); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(automation)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	var req UpdateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.persistence.Automations().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Condition != nil {
		existing.Condition = req.Condition
	}

	if req.Recurrence != nil {
		existing.Recurrence = req.Recurrence
	}

	if req.Steps != nil {
		existing.Steps = req.Steps
	}

	if req.Active != nil {
		existing.Active = *req.Active
	}

	if detail, ok := h.checkSteps(existing.TriggerType, existing.Recurrence, existing.Steps); !ok {
		return badRequest(c, detail)
	}

	existing.UpdatedAt = time.Now().UTC()

	if err := h.persistence.Automations().Save(c.Context(), existing); err != nil {
		return internalError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) ActivateAutomation(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *APIHandlers) DeactivateAutomation(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *APIHandlers) setActive(c fiber.Ctx, active bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if err := h.persistence.Automations().SetActive(c.Context(), id, active); err != nil {
		return handlePersistenceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetAutomationRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Automation ID is required")
	}

	if _, err := h.persistence.Automations().GetByID(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	runs, err := h.persistence.Runs().ListByAutomation(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	responses := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		responses = append(responses, TransformRunResponse(run))
	}

	return c.JSON(responses)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.persistence.Runs().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(TransformRunResponse(run))
}

func (h *APIHandlers) GetRunLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.persistence.Runs().GetByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(run.Log)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Journey API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "Journey API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// checkSteps enforces the semantic rules the JSON schema cannot express:
// every step kind must be registered and a recurring trigger needs its
// recurrence config.
func (h *APIHandlers) checkSteps(
	triggerType models.TriggerType,
	recurrence *models.Recurrence,
	steps []models.Step,
) (string, bool) {
	if triggerType == models.TriggerRecurringDateMatch &&
		(recurrence == nil || recurrence.DateField == "") {
		return "Recurring automations require a recurrence date field", false
	}

	known := make(map[models.StepKind]bool)
	for _, kind := range h.registry.StepKinds() {
		known[kind] = true
	}

	for i, step := range steps {
		if !known[step.Kind] {
			return "Unknown step kind at index " + strconv.Itoa(i) + ": " + string(step.Kind), false
		}
	}

	return "", true
}
