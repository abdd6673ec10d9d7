package recurrence

import (
	"context"
	"time"

	"github.com/journeyhq/journey/pkg/persistence"
)

// Gate answers whether a recurring automation already fired for an entity
// within the current cycle. MarkFired records a firing that stays effective
// until cycleEnd, for gate backends that keep their own state; backends that
// derive the answer from stored runs may treat it as a no-op.
type Gate interface {
	AlreadyFired(ctx context.Context, automationID, entityID string, cycleStart time.Time) (bool, error)
	MarkFired(ctx context.Context, automationID, entityID string, cycleEnd time.Time) error
}

// StoreGate derives the answer from the run store: a run created at or after
// the cycle start means the trigger already fired. No extra state to keep
// consistent with run creation.
type StoreGate struct {
	runs persistence.RunRepository
}

func NewStoreGate(runs persistence.RunRepository) *StoreGate {
	return &StoreGate{runs: runs}
}

func (g *StoreGate) AlreadyFired(ctx context.Context, automationID, entityID string, cycleStart time.Time) (bool, error) {
	return g.runs.ExistsSince(ctx, automationID, entityID, cycleStart)
}

// MarkFired is a no-op: the created run row is the record.
func (g *StoreGate) MarkFired(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}
