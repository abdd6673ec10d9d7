// Package dispatcher matches incoming domain events against active
// automations and opens new runs for the matches.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/journeyhq/journey/pkg/conditions"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/recurrence"
)

type Dispatcher struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	gate        recurrence.Gate
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewDispatcher(
	p persistence.Persistence,
	publisher eventbus.EventPublisher,
	gate recurrence.Gate,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		publisher:   publisher,
		gate:        gate,
		logger:      logger.With("module", "dispatcher"),
		tracer:      otel.Tracer("journey/dispatcher"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects the time source, for deterministic tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now

	return d
}

// Dispatch opens a run for every active automation of the given trigger type
// whose recurrence gate and condition tree both pass. A failure on one
// automation never aborts dispatch to its siblings; the error return is
// reserved for failures to load the candidate set at all.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	triggerType models.TriggerType,
	entityID string,
	evctx models.EventContext,
) ([]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch",
		attribute.String(otelhelper.TriggerTypeKey, string(triggerType)),
		attribute.String(otelhelper.EntityIDKey, entityID))
	defer span.End()

	logger := d.logger.With("trigger_type", triggerType, "entity_id", entityID)

	automations, err := d.persistence.Automations().ListActive(ctx, triggerType)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load automations for trigger %s: %w", triggerType, err)
	}

	runIDs := make([]string, 0)

	var tenantID string

	for _, automation := range automations {
		runID, ok := d.dispatchOne(ctx, logger, automation, triggerType, entityID, evctx)
		if !ok {
			continue
		}

		tenantID = automation.TenantID

		runIDs = append(runIDs, runID)
	}

	if len(runIDs) > 0 {
		fired := events.TriggerFired{
			BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, tenantID),
			TriggerType: triggerType,
			EntityID:    entityID,
			RunIDs:      runIDs,
		}

		if err := d.publisher.Publish(ctx, entityID, fired); err != nil {
			logger.ErrorContext(ctx, "Failed to publish trigger fired event", "error", err)
		}
	}

	logger.InfoContext(ctx, "Dispatch completed",
		"candidates", len(automations),
		"runs_created", len(runIDs))

	return runIDs, nil
}

// DispatchAutomation opens a run for one specific automation, skipping the
// trigger-type fan-out. The scheduler uses it for date-match firings, where
// the entity was selected by one automation's date field and must not start
// runs for sibling automations keyed on other fields.
func (d *Dispatcher) DispatchAutomation(
	ctx context.Context,
	automation *models.Automation,
	entityID string,
	evctx models.EventContext,
) (string, bool) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch_automation",
		attribute.String(otelhelper.AutomationIDKey, automation.ID),
		attribute.String(otelhelper.EntityIDKey, entityID))
	defer span.End()

	logger := d.logger.With("trigger_type", automation.TriggerType, "entity_id", entityID)

	runID, ok := d.dispatchOne(ctx, logger, automation, automation.TriggerType, entityID, evctx)
	if !ok {
		return "", false
	}

	fired := events.TriggerFired{
		BaseEvent:   events.NewBaseEvent(events.TriggerFiredEvent, automation.TenantID),
		TriggerType: automation.TriggerType,
		EntityID:    entityID,
		RunIDs:      []string{runID},
	}

	if err := d.publisher.Publish(ctx, entityID, fired); err != nil {
		logger.ErrorContext(ctx, "Failed to publish trigger fired event", "error", err)
	}

	return runID, true
}

// dispatchOne handles a single candidate automation and reports the created
// run ID, or false when the automation was skipped or failed.
func (d *Dispatcher) dispatchOne(
	ctx context.Context,
	logger *slog.Logger,
	automation *models.Automation,
	triggerType models.TriggerType,
	entityID string,
	evctx models.EventContext,
) (string, bool) {
	logger = logger.With("automation_id", automation.ID)

	if triggerType == models.TriggerRecurringDateMatch {
		cycleStart := recurrence.CycleStart(cyclePolicy(automation), d.now())

		fired, err := d.gate.AlreadyFired(ctx, automation.ID, entityID, cycleStart)
		if err != nil {
			logger.ErrorContext(ctx, "Recurrence gate check failed, skipping automation", "error", err)

			return "", false
		}

		if fired {
			logger.DebugContext(ctx, "Recurring trigger already fired this cycle, skipping")

			return "", false
		}
	}

	if !conditions.Evaluate(automation.Condition, evctx) {
		logger.DebugContext(ctx, "Condition tree not satisfied, skipping")

		return "", false
	}

	run, err := models.NewRun(automation, entityID, evctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build run", "error", err)

		return "", false
	}

	if err := d.persistence.Runs().Create(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to create run, skipping automation", "error", err)

		return "", false
	}

	if triggerType == models.TriggerRecurringDateMatch {
		cycleEnd := recurrence.NextCycleStart(cyclePolicy(automation), d.now())

		if err := d.gate.MarkFired(ctx, automation.ID, entityID, cycleEnd); err != nil {
			logger.ErrorContext(ctx, "Failed to mark recurrence gate", "error", err)
		}
	}

	activation := events.RunActivation{
		BaseEvent:    events.NewBaseEvent(events.RunActivationEvent, automation.TenantID),
		RunID:        run.ID,
		AutomationID: automation.ID,
		EntityID:     entityID,
	}

	if err := d.publisher.Publish(ctx, run.ID, activation); err != nil {
		logger.ErrorContext(ctx, "Failed to publish run activation", "run_id", run.ID, "error", err)
	}

	logger.InfoContext(ctx, "Run created", "run_id", run.ID)

	return run.ID, true
}

func cyclePolicy(automation *models.Automation) models.CyclePolicy {
	if automation.Recurrence != nil && automation.Recurrence.Cycle != "" {
		return automation.Recurrence.Cycle
	}

	return models.CycleCalendarYear
}
