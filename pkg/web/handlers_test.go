package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/dispatcher"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/mailer"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/recurrence"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/steps/delay"
	"github.com/journeyhq/journey/pkg/steps/sendmessage"
)

type nullPublisher struct{}

func (nullPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error {
	return nil
}

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	p := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterStep(delay.NewFactory())
	reg.RegisterStep(sendmessage.NewFactory(mailer.NewRecorder()))

	d := dispatcher.NewDispatcher(p, nullPublisher{}, recurrence.NewStoreGate(p.Runs()), logger)

	handlers := NewAPIHandlers(p, d, validator.New(validator.WithRequiredStructEnabled()), reg)

	app := fiber.New()

	v1 := app.Group("/v1")
	v1.Post("/events", handlers.IngestEvent)

	automations := v1.Group("/automations")
	automations.Get("/", handlers.GetAutomations)
	automations.Post("/", handlers.CreateAutomation)
	automations.Get("/:id", handlers.GetAutomation)
	automations.Patch("/:id", handlers.UpdateAutomation)
	automations.Post("/:id/activate", handlers.ActivateAutomation)
	automations.Post("/:id/deactivate", handlers.DeactivateAutomation)
	automations.Get("/:id/runs", handlers.GetAutomationRuns)

	runs := v1.Group("/runs")
	runs.Get("/:id", handlers.GetRun)
	runs.Get("/:id/log", handlers.GetRunLog)

	app.Get("/health", handlers.HealthCheck)

	return app, p
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, data
}

func automationPayload() map[string]any {
	return map[string]any{
		"tenant_id":    "acme",
		"name":         "Welcome flow",
		"trigger_type": "NEW_ENTITY",
		"active":       true,
		"condition": map[string]any{
			"logic": "AND",
			"children": []any{
				map[string]any{
					"resource": "entity",
					"field":    "plan",
					"operator": "equals",
					"value":    "pro",
				},
			},
		},
		"steps": []any{
			map[string]any{
				"kind": "SEND_MESSAGE",
				"config": map[string]any{
					"subject": "Welcome {{entity.name}}!",
					"body":    "Glad to have you.",
				},
			},
		},
	}
}

func createAutomation(t *testing.T, app *fiber.App) models.Automation {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/v1/automations/", automationPayload())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var automation models.Automation
	require.NoError(t, json.Unmarshal(body, &automation))

	return automation
}

func TestCreateAutomation(t *testing.T) {
	app, _ := setupTestApp(t)

	automation := createAutomation(t, app)

	assert.NotEmpty(t, automation.ID)
	assert.Equal(t, "acme", automation.TenantID)
	assert.Equal(t, models.TriggerNewEntity, automation.TriggerType)
	assert.True(t, automation.Active)
	require.NotNil(t, automation.Condition)
	require.Len(t, automation.Steps, 1)
}

func TestCreateAutomation_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(payload map[string]any)
	}{
		{"short name", func(p map[string]any) { p["name"] = "ab" }},
		{"missing tenant", func(p map[string]any) { delete(p, "tenant_id") }},
		{"unknown trigger", func(p map[string]any) { p["trigger_type"] = "ON_LOGIN" }},
		{"unknown step kind", func(p map[string]any) {
			p["steps"] = []any{map[string]any{"kind": "WEBHOOK", "config": map[string]any{}}}
		}},
		{"recurring without recurrence", func(p map[string]any) {
			p["trigger_type"] = "RECURRING_DATE_MATCH"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := setupTestApp(t)

			payload := automationPayload()
			tt.mutate(payload)

			resp, body := doJSON(t, app, http.MethodPost, "/v1/automations/", payload)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
		})
	}
}

func TestGetAutomations(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/v1/automations/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var automations []models.Automation
	require.NoError(t, json.Unmarshal(body, &automations))
	assert.Empty(t, automations)

	createAutomation(t, app)

	resp, body = doJSON(t, app, http.MethodGet, "/v1/automations/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &automations))
	assert.Len(t, automations, 1)
}

func TestGetAutomation_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/v1/automations/unknown", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateAutomation(t *testing.T) {
	app, _ := setupTestApp(t)

	automation := createAutomation(t, app)

	resp, body := doJSON(t, app, http.MethodPatch, "/v1/automations/"+automation.ID,
		map[string]any{"name": "Renamed flow"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var updated models.Automation
	require.NoError(t, json.Unmarshal(body, &updated))

	assert.Equal(t, "Renamed flow", updated.Name)
	assert.Equal(t, models.TriggerNewEntity, updated.TriggerType)
	require.Len(t, updated.Steps, 1)
}

func TestUpdateAutomation_RejectsUnknownStepKind(t *testing.T) {
	app, _ := setupTestApp(t)

	automation := createAutomation(t, app)

	resp, _ := doJSON(t, app, http.MethodPatch, "/v1/automations/"+automation.ID,
		map[string]any{"steps": []any{map[string]any{"kind": "WEBHOOK"}}})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActivateDeactivateAutomation(t *testing.T) {
	app, p := setupTestApp(t)

	automation := createAutomation(t, app)

	resp, _ := doJSON(t, app, http.MethodPost, "/v1/automations/"+automation.ID+"/deactivate", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	loaded, err := p.Automations().GetByID(context.Background(), automation.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Active)

	resp, _ = doJSON(t, app, http.MethodPost, "/v1/automations/"+automation.ID+"/activate", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	loaded, err = p.Automations().GetByID(context.Background(), automation.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Active)
}

func TestIngestEvent_OpensRun(t *testing.T) {
	app, _ := setupTestApp(t)

	automation := createAutomation(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id":    "acme",
		"trigger_type": "NEW_ENTITY",
		"entity_id":    "entity-1",
		"context": map[string]any{
			"entity": map[string]any{
				"name":  "Ana",
				"email": "ana@example.com",
				"plan":  "pro",
			},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var result IngestEventResponse
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.RunIDs, 1)

	resp, body = doJSON(t, app, http.MethodGet, "/v1/runs/"+result.RunIDs[0], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run RunResponse
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, automation.ID, run.AutomationID)
	assert.Equal(t, "entity-1", run.EntityID)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	resp, body = doJSON(t, app, http.MethodGet, "/v1/runs/"+result.RunIDs[0]+"/log", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var log []models.StepLogEntry
	require.NoError(t, json.Unmarshal(body, &log))
	require.Len(t, log, 1)
	assert.Equal(t, models.OutcomeTriggered, log[0].Outcome)

	resp, body = doJSON(t, app, http.MethodGet, "/v1/automations/"+automation.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []RunResponse
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Len(t, runs, 1)
}

func TestIngestEvent_ConditionMismatchOpensNothing(t *testing.T) {
	app, _ := setupTestApp(t)

	createAutomation(t, app)

	resp, body := doJSON(t, app, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id":    "acme",
		"trigger_type": "NEW_ENTITY",
		"entity_id":    "entity-1",
		"context": map[string]any{
			"entity": map[string]any{"plan": "free"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result IngestEventResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Empty(t, result.RunIDs)
}

func TestIngestEvent_BuildsContextFromStoredEntity(t *testing.T) {
	app, p := setupTestApp(t)

	createAutomation(t, app)

	entity := &models.Entity{
		ID:       "entity-1",
		TenantID: "acme",
		Email:    "ana@example.com",
		Name:     "Ana",
		Fields:   map[string]any{"plan": "pro"},
	}
	require.NoError(t, p.Entities().Save(context.Background(), entity))

	resp, body := doJSON(t, app, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id":    "acme",
		"trigger_type": "NEW_ENTITY",
		"entity_id":    "entity-1",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var result IngestEventResponse
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Len(t, result.RunIDs, 1)
}

func TestIngestEvent_UnknownEntityWithoutContext(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id":    "acme",
		"trigger_type": "NEW_ENTITY",
		"entity_id":    "entity-ghost",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestEvent_InvalidPayload(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/v1/events", map[string]any{
		"tenant_id": "acme",
		"entity_id": "entity-1",
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}
