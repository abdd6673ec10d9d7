// Package persistence provides the storage abstraction for automations, runs
// and the entity read model.
package persistence

import (
	"context"
	"time"

	"github.com/journeyhq/journey/pkg/models"
)

type Persistence interface {
	Automations() AutomationRepository
	Runs() RunRepository
	Entities() EntityRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type AutomationRepository interface {
	List(ctx context.Context) ([]*models.Automation, error)
	// ListActive returns the active automations for one trigger type; this is
	// the dispatch-time read path.
	ListActive(ctx context.Context, triggerType models.TriggerType) ([]*models.Automation, error)
	GetByID(ctx context.Context, id string) (*models.Automation, error)
	Save(ctx context.Context, automation *models.Automation) error
	SetActive(ctx context.Context, id string, active bool) error
}

type RunRepository interface {
	// Create persists the run and counts it against the automation's
	// runs_started in the same transaction; the counter is a derived read
	// model and must never drift from the stored runs.
	Create(ctx context.Context, run *models.Run) error

	GetByID(ctx context.Context, id string) (*models.Run, error)
	Update(ctx context.Context, run *models.Run) error

	// Complete persists the terminal COMPLETED update and increments the
	// automation's runs_completed in the same transaction.
	Complete(ctx context.Context, run *models.Run) error

	// Claim atomically moves a run from expected to next status and reports
	// whether this caller won. It is the only operation that may race across
	// scheduler instances.
	Claim(ctx context.Context, runID string, expected, next models.RunStatus) (bool, error)

	// ListDue returns WAITING runs whose due time has passed.
	ListDue(ctx context.Context, now time.Time) ([]*models.Run, error)

	ListByAutomation(ctx context.Context, automationID string) ([]*models.Run, error)

	// ExistsSince reports whether a run for this automation and entity was
	// created at or after the given instant. Backs the recurrence gate.
	ExistsSince(ctx context.Context, automationID, entityID string, since time.Time) (bool, error)
}

// EntityRepository is the read-only query surface over business entities,
// used for recurrence date matching and recipient resolution.
type EntityRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.Entity, error)
	Save(ctx context.Context, entity *models.Entity) error

	// FindByRecurrenceDate returns the tenant's entities whose dateField
	// matches the given month and day, regardless of year.
	FindByRecurrenceDate(ctx context.Context, tenantID, dateField string, month time.Month, day int) ([]*models.Entity, error)
}
