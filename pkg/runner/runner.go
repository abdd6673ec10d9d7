// Package runner owns the run lifecycle: it executes steps in order until the
// run suspends on a delay, completes past the last step, or fails.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/otelhelper"
	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/registry"
)

type Runner struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRunner(
	p persistence.Persistence,
	reg *registry.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		persistence: p,
		registry:    reg,
		publisher:   publisher,
		logger:      logger.With("module", "runner"),
		tracer:      otel.Tracer("journey/runner"),
	}
}

// Advance drives a RUNNING run forward. Runs in any other status are left
// untouched; that guard is what makes a stale activation or a re-delivered
// message harmless.
func (r *Runner) Advance(ctx context.Context, runID string) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "advance",
		attribute.String(otelhelper.RunIDKey, runID))
	defer span.End()

	run, err := r.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run.Status != models.RunStatusRunning {
		r.logger.DebugContext(ctx, "Run is not running, nothing to advance",
			"run_id", runID, "status", run.Status)

		return nil
	}

	return r.loop(ctx, run)
}

// Resume consumes the delay step that parked the run and continues with the
// next one. The caller must already hold the claim (the WAITING to RUNNING
// transition); a run in any other status is left untouched. Incrementing the
// index here, not before suspending, means a crash mid-delay re-enters the
// same delay step instead of skipping the one after it.
func (r *Runner) Resume(ctx context.Context, runID string) error {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "resume",
		attribute.String(otelhelper.RunIDKey, runID))
	defer span.End()

	run, err := r.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	if run.Status != models.RunStatusRunning {
		r.logger.DebugContext(ctx, "Run is not claimed for resumption, skipping",
			"run_id", runID, "status", run.Status)

		return nil
	}

	run.CurrentStepIndex++
	run.DueAt = nil

	if err := r.persistence.Runs().Update(ctx, run); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to consume delay step for run %s: %w", runID, err)
	}

	return r.loop(ctx, run)
}

func (r *Runner) loop(ctx context.Context, run *models.Run) error {
	logger := r.logger.With("run_id", run.ID, "automation_id", run.AutomationID)

	automation, err := r.persistence.Automations().GetByID(ctx, run.AutomationID)
	if err != nil {
		if persistence.IsAutomationNotFound(err) {
			// The definition was deleted out from under the run; the run can
			// never make progress, so it fails with that on record.
			return r.fail(ctx, logger, run, run.CurrentStepIndex, "", err)
		}

		return fmt.Errorf("failed to load automation %s: %w", run.AutomationID, err)
	}

	for {
		if run.CurrentStepIndex >= len(automation.Steps) {
			return r.complete(ctx, logger, run)
		}

		step := automation.Steps[run.CurrentStepIndex]
		index := run.CurrentStepIndex

		executor, err := r.registry.CreateExecutor(step.Kind, step.Config)
		if err != nil {
			return r.fail(ctx, logger, run, index, step.Kind, err)
		}

		result, err := executor.Execute(ctx, run, logger)
		if err != nil {
			return r.fail(ctx, logger, run, index, step.Kind, err)
		}

		run.AppendLog(index, step.Kind, models.OutcomeSuccess, result.Detail)

		if result.Suspend {
			// The index stays on the delay step until the scheduler resumes
			// the run and consumes it.
			dueAt := result.DueAt
			run.Status = models.RunStatusWaiting
			run.DueAt = &dueAt

			if err := r.persistence.Runs().Update(ctx, run); err != nil {
				return fmt.Errorf("failed to suspend run %s: %w", run.ID, err)
			}

			logger.InfoContext(ctx, "Run suspended", "step_index", index, "due_at", dueAt)

			return nil
		}

		run.CurrentStepIndex++

		if err := r.persistence.Runs().Update(ctx, run); err != nil {
			return fmt.Errorf("failed to persist run %s after step %d: %w", run.ID, index, err)
		}
	}
}

func (r *Runner) complete(ctx context.Context, logger *slog.Logger, run *models.Run) error {
	run.Status = models.RunStatusCompleted
	run.DueAt = nil

	// Complete also counts the run against the automation, in the same
	// transaction as the status write.
	if err := r.persistence.Runs().Complete(ctx, run); err != nil {
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}

	completed := events.RunCompleted{
		BaseEvent:    events.NewBaseEvent(events.RunCompletedEvent, run.TenantID),
		RunID:        run.ID,
		AutomationID: run.AutomationID,
	}

	if err := r.publisher.Publish(ctx, run.ID, completed); err != nil {
		logger.ErrorContext(ctx, "Failed to publish run completed event", "error", err)
	}

	logger.InfoContext(ctx, "Run completed", "steps_executed", run.CurrentStepIndex)

	return nil
}

// fail terminates the run. Step failures are terminal on purpose: re-running
// a half-failed sequence would re-send messages, so retries belong to an
// operator action that opens a fresh run.
func (r *Runner) fail(
	ctx context.Context,
	logger *slog.Logger,
	run *models.Run,
	index int,
	kind models.StepKind,
	cause error,
) error {
	run.AppendLog(index, kind, models.OutcomeError, cause.Error())
	run.Status = models.RunStatusFailed
	run.DueAt = nil

	if err := r.persistence.Runs().Update(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run %s as failed: %w", run.ID, err)
	}

	failed := events.RunFailed{
		BaseEvent:    events.NewBaseEvent(events.RunFailedEvent, run.TenantID),
		RunID:        run.ID,
		AutomationID: run.AutomationID,
		Error:        cause.Error(),
	}

	if err := r.publisher.Publish(ctx, run.ID, failed); err != nil {
		logger.ErrorContext(ctx, "Failed to publish run failed event", "error", err)
	}

	logger.WarnContext(ctx, "Run failed", "step_index", index, "error", cause)

	return nil
}
