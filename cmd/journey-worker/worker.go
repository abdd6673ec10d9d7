package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/runner"
)

// WorkerManager consumes run activations from the bus and drives the runs
// through the runner. Several workers may consume the same topic; the runner's
// status guard makes duplicate deliveries harmless.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	runner   *runner.Runner
	eventBus eventbus.EventBus
}

func NewWorkerManager(
	id string,
	runner *runner.Runner,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "journey-worker", "worker_id", id),
		runner:   runner,
		eventBus: eventBus,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.RunActivationEvent, w.handleRunActivation)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleRunActivation(ctx context.Context, event any) error {
	activation, ok := event.(*events.RunActivation)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunActivation")

		return nil
	}

	logger := w.logger.With(
		"run_id", activation.RunID,
		"automation_id", activation.AutomationID,
		"event_id", activation.ID,
	)
	logger.InfoContext(ctx, "Processing run activation")

	var err error
	if activation.Resume {
		err = w.runner.Resume(ctx, activation.RunID)
	} else {
		err = w.runner.Advance(ctx, activation.RunID)
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to advance run", "error", err)

		return err
	}

	return nil
}
