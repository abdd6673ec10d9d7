package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// automationSchema is the JSON Schema every automation document must satisfy
// before it is persisted. Structural checks only; semantic checks (step config
// contents, recurrence field presence) happen in the validator layer and the
// step factories.
var automationSchema = map[string]any{
	"type":     "object",
	"required": []any{"tenant_id", "name", "trigger_type", "steps"},
	"properties": map[string]any{
		"tenant_id": map[string]any{"type": "string", "minLength": 1},
		"name":      map[string]any{"type": "string", "minLength": 3},
		"trigger_type": map[string]any{
			"type": "string",
			"enum": []any{
				string(TriggerNewEntity),
				string(TriggerEntityCompleted),
				string(TriggerEntitySent),
				string(TriggerStatusChanged),
				string(TriggerRecurringDateMatch),
			},
		},
		"condition": map[string]any{"type": "object"},
		"recurrence": map[string]any{
			"type":     "object",
			"required": []any{"date_field"},
			"properties": map[string]any{
				"date_field": map[string]any{"type": "string", "minLength": 1},
				"cycle": map[string]any{
					"type": "string",
					"enum": []any{string(CycleCalendarYear), string(CycleRollingYear)},
				},
			},
		},
		"steps": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"kind"},
				"properties": map[string]any{
					"kind":   map[string]any{"type": "string", "minLength": 1},
					"config": map[string]any{"type": "object"},
				},
			},
		},
		"active": map[string]any{"type": "boolean"},
	},
}

// ValidateAutomationDocument validates a raw automation document against the
// schema before it is decoded into an Automation.
func ValidateAutomationDocument(document map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(automationSchema)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate automation document: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid automation document: %s", strings.Join(details, "; "))
	}

	return nil
}
