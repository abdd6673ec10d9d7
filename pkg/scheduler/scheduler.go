// Package scheduler wakes due runs and fires date-based recurring triggers.
// It is designed to run on several instances at once; the CAS claim on the
// run and the recurrence gate keep the work exactly-once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/journeyhq/journey/pkg/dispatcher"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/persistence"
)

type Scheduler struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	dispatcher  *dispatcher.Dispatcher
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewScheduler(
	p persistence.Persistence,
	publisher eventbus.EventPublisher,
	d *dispatcher.Dispatcher,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		persistence: p,
		publisher:   publisher,
		dispatcher:  d,
		logger:      logger.With("module", "scheduler"),
		tracer:      otel.Tracer("journey/scheduler"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects the time source, for deterministic tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now

	return s
}

// Tick performs one scheduling pass: resume every due run, then fire
// recurring date triggers. Errors inside a pass are logged per item; Tick
// only fails when a candidate set cannot be loaded at all.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "tick")
	defer span.End()

	if err := s.resumeDueRuns(ctx); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if err := s.fireRecurringTriggers(ctx); err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

// resumeDueRuns claims each due WAITING run and hands it to the workers as a
// resume activation. The claim happens before publishing so that two
// scheduler instances never enqueue the same run twice.
func (s *Scheduler) resumeDueRuns(ctx context.Context) error {
	now := s.now()

	due, err := s.persistence.Runs().ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due runs: %w", err)
	}

	if len(due) == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "Resuming due runs", "count", len(due))

	for _, run := range due {
		logger := s.logger.With("run_id", run.ID, "automation_id", run.AutomationID)

		claimed, err := s.persistence.Runs().Claim(ctx, run.ID,
			models.RunStatusWaiting, models.RunStatusRunning)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to claim run", "error", err)

			continue
		}

		if !claimed {
			// Another scheduler instance got there first.
			logger.DebugContext(ctx, "Run already claimed, skipping")

			continue
		}

		activation := events.RunActivation{
			BaseEvent:    events.NewBaseEvent(events.RunActivationEvent, run.TenantID),
			RunID:        run.ID,
			AutomationID: run.AutomationID,
			EntityID:     run.EntityID,
			Resume:       true,
		}

		if err := s.publisher.Publish(ctx, run.ID, activation); err != nil {
			logger.ErrorContext(ctx, "Failed to publish resume activation", "error", err)

			// Release the claim so the next tick retries this run.
			if _, err := s.persistence.Runs().Claim(ctx, run.ID,
				models.RunStatusRunning, models.RunStatusWaiting); err != nil {
				logger.ErrorContext(ctx, "Failed to release claimed run", "error", err)
			}

			continue
		}

		logger.InfoContext(ctx, "Resume activation published")
	}

	return nil
}

// fireRecurringTriggers dispatches each recurring automation for the entities
// whose configured date field lands on today. Dispatch is scoped to the one
// automation whose field matched; sibling automations keyed on other date
// fields wait for their own dates. The gate keeps a tick that runs more than
// once a day from double-firing.
func (s *Scheduler) fireRecurringTriggers(ctx context.Context) error {
	now := s.now()

	automations, err := s.persistence.Automations().ListActive(ctx, models.TriggerRecurringDateMatch)
	if err != nil {
		return fmt.Errorf("failed to list recurring automations: %w", err)
	}

	for _, automation := range automations {
		logger := s.logger.With("automation_id", automation.ID)

		if automation.Recurrence == nil || automation.Recurrence.DateField == "" {
			logger.WarnContext(ctx, "Recurring automation has no date field, skipping")

			continue
		}

		entities, err := s.persistence.Entities().FindByRecurrenceDate(ctx,
			automation.TenantID, automation.Recurrence.DateField, now.Month(), now.Day())
		if err != nil {
			logger.ErrorContext(ctx, "Failed to query entities by recurrence date", "error", err)

			continue
		}

		for _, entity := range entities {
			runID, ok := s.dispatcher.DispatchAutomation(ctx, automation, entity.ID, entity.Context())
			if ok {
				logger.InfoContext(ctx, "Recurring trigger fired",
					"entity_id", entity.ID, "run_id", runID)
			}
		}
	}

	return nil
}
