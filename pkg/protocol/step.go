// Package protocol defines the contracts between the run state machine and
// its pluggable collaborators.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/journeyhq/journey/pkg/models"
)

// StepResult is what an executor reports back to the run state machine.
// Suspend asks the machine to park the run as WAITING until DueAt; only the
// delay executor does this today.
type StepResult struct {
	Suspend bool
	DueAt   time.Time
	Detail  string
}

// StepExecutor runs one step of one run. Implementations are created per
// invocation by their factory with the step's config already applied.
type StepExecutor interface {
	Execute(ctx context.Context, run *models.Run, logger *slog.Logger) (*StepResult, error)
}

// StepFactory builds executors for one step kind from raw step config.
type StepFactory interface {
	Create(config map[string]any) (StepExecutor, error)
	Kind() models.StepKind
}
