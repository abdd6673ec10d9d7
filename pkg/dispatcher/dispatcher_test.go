package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/recurrence"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) byType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	matches := make([]eventbus.Event, 0)

	for _, event := range p.events {
		if event.GetType() == eventType {
			matches = append(matches, event)
		}
	}

	return matches
}

type erroringGate struct {
	failFor string
}

func (g *erroringGate) AlreadyFired(_ context.Context, automationID, _ string, _ time.Time) (bool, error) {
	if automationID == g.failFor {
		return false, errors.New("gate backend unavailable")
	}

	return false, nil
}

func (g *erroringGate) MarkFired(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *file.Persistence, *recordingPublisher) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	publisher := &recordingPublisher{}
	gate := recurrence.NewStoreGate(p.Runs())

	return NewDispatcher(p, publisher, gate, testLogger()), p, publisher
}

func saveAutomation(t *testing.T, p *file.Persistence, automation *models.Automation) {
	t.Helper()
	require.NoError(t, p.Automations().Save(context.Background(), automation))
}

func entityContext(fields map[string]any) models.EventContext {
	return models.EventContext{"entity": fields}
}

func TestDispatch_CreatesRunForMatchingAutomation(t *testing.T) {
	ctx := context.Background()
	d, p, publisher := newTestDispatcher(t)

	matching := &models.Automation{
		TenantID:    "acme",
		Name:        "Pro plan welcome",
		TriggerType: models.TriggerNewEntity,
		Active:      true,
		Condition: &models.ConditionGroup{
			Logic: models.LogicAnd,
			Children: []models.ConditionNode{
				models.LeafNode("entity", "plan", models.OpEquals, "pro"),
			},
		},
		Steps: []models.Step{
			{Kind: models.StepKindSendMessage, Config: map[string]any{"subject": "s", "body": "b"}},
		},
	}
	nonMatching := &models.Automation{
		TenantID:    "acme",
		Name:        "Free plan nudge",
		TriggerType: models.TriggerNewEntity,
		Active:      true,
		Condition: &models.ConditionGroup{
			Logic: models.LogicAnd,
			Children: []models.ConditionNode{
				models.LeafNode("entity", "plan", models.OpEquals, "free"),
			},
		},
	}

	saveAutomation(t, p, matching)
	saveAutomation(t, p, nonMatching)

	runIDs, err := d.Dispatch(ctx, models.TriggerNewEntity, "entity-1",
		entityContext(map[string]any{"plan": "pro"}))
	require.NoError(t, err)

	require.Len(t, runIDs, 1)

	run, err := p.Runs().GetByID(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, matching.ID, run.AutomationID)
	assert.Equal(t, "entity-1", run.EntityID)
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.NotNil(t, run.Context)

	loaded, err := p.Automations().GetByID(ctx, matching.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.RunsStarted)

	activations := publisher.byType(events.RunActivationEvent)
	require.Len(t, activations, 1)
	activation, ok := activations[0].(events.RunActivation)
	require.True(t, ok)
	assert.Equal(t, run.ID, activation.RunID)
	assert.False(t, activation.Resume)

	fired := publisher.byType(events.TriggerFiredEvent)
	require.Len(t, fired, 1)
}

func TestDispatch_NoCandidates(t *testing.T) {
	d, _, publisher := newTestDispatcher(t)

	runIDs, err := d.Dispatch(context.Background(), models.TriggerNewEntity, "entity-1",
		entityContext(map[string]any{"plan": "pro"}))

	require.NoError(t, err)
	assert.Empty(t, runIDs)
	assert.Empty(t, publisher.byType(events.TriggerFiredEvent))
}

func TestDispatch_NilConditionAlwaysMatches(t *testing.T) {
	ctx := context.Background()
	d, p, _ := newTestDispatcher(t)

	automation := &models.Automation{
		TenantID:    "acme",
		Name:        "Unconditional",
		TriggerType: models.TriggerStatusChanged,
		Active:      true,
	}
	saveAutomation(t, p, automation)

	runIDs, err := d.Dispatch(ctx, models.TriggerStatusChanged, "entity-1", nil)

	require.NoError(t, err)
	assert.Len(t, runIDs, 1)
}

func TestDispatch_RecurringGateBlocksSecondFiring(t *testing.T) {
	ctx := context.Background()
	d, p, _ := newTestDispatcher(t)

	automation := &models.Automation{
		TenantID:    "acme",
		Name:        "Birthday greeting",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence:  &models.Recurrence{DateField: "birth_date"},
		Steps: []models.Step{
			{Kind: models.StepKindSendMessage, Config: map[string]any{"subject": "s", "body": "b"}},
		},
	}
	saveAutomation(t, p, automation)

	evctx := entityContext(map[string]any{"birth_date": "1990-03-14"})

	first, err := d.Dispatch(ctx, models.TriggerRecurringDateMatch, "entity-1", evctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := d.Dispatch(ctx, models.TriggerRecurringDateMatch, "entity-1", evctx)
	require.NoError(t, err)
	assert.Empty(t, second)

	// A different entity is not affected by the gate.
	other, err := d.Dispatch(ctx, models.TriggerRecurringDateMatch, "entity-2", evctx)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestDispatchAutomation_ScopedToOneAutomation(t *testing.T) {
	ctx := context.Background()
	d, p, publisher := newTestDispatcher(t)

	birthday := &models.Automation{
		TenantID:    "acme",
		Name:        "Birthday greeting",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence:  &models.Recurrence{DateField: "birth_date"},
	}
	anniversary := &models.Automation{
		TenantID:    "acme",
		Name:        "Signup anniversary",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence:  &models.Recurrence{DateField: "signup_date"},
	}
	saveAutomation(t, p, birthday)
	saveAutomation(t, p, anniversary)

	evctx := entityContext(map[string]any{
		"birth_date":  "1990-03-14",
		"signup_date": "2024-11-02",
	})

	runID, ok := d.DispatchAutomation(ctx, birthday, "entity-1", evctx)
	require.True(t, ok)

	run, err := p.Runs().GetByID(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, birthday.ID, run.AutomationID)

	// The sibling automation is untouched: no run and no gate record.
	siblingRuns, err := p.Runs().ListByAutomation(ctx, anniversary.ID)
	require.NoError(t, err)
	assert.Empty(t, siblingRuns)

	fired := publisher.byType(events.TriggerFiredEvent)
	require.Len(t, fired, 1)

	// The gate still blocks a repeat for the dispatched automation.
	_, ok = d.DispatchAutomation(ctx, birthday, "entity-1", evctx)
	assert.False(t, ok)
}

func TestDispatch_GateErrorSkipsOnlyThatAutomation(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	publisher := &recordingPublisher{}

	broken := &models.Automation{
		TenantID:    "acme",
		Name:        "Broken gate",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence:  &models.Recurrence{DateField: "birth_date"},
	}
	healthy := &models.Automation{
		TenantID:    "acme",
		Name:        "Healthy gate",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence:  &models.Recurrence{DateField: "birth_date"},
	}
	saveAutomation(t, p, broken)
	saveAutomation(t, p, healthy)

	d := NewDispatcher(p, publisher, &erroringGate{failFor: broken.ID}, testLogger())

	runIDs, err := d.Dispatch(ctx, models.TriggerRecurringDateMatch, "entity-1",
		entityContext(map[string]any{"birth_date": "1990-03-14"}))
	require.NoError(t, err)

	require.Len(t, runIDs, 1)

	run, err := p.Runs().GetByID(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, healthy.ID, run.AutomationID)
}

func TestDispatch_RollingCyclePolicy(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())
	publisher := &recordingPublisher{}
	gate := recurrence.NewStoreGate(p.Runs())

	automation := &models.Automation{
		TenantID:    "acme",
		Name:        "Anniversary",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence: &models.Recurrence{
			DateField: "signup_date",
			Cycle:     models.CycleRollingYear,
		},
	}
	require.NoError(t, p.Automations().Save(ctx, automation))

	now := time.Date(2026, time.January, 2, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(p, publisher, gate, testLogger()).
		WithClock(func() time.Time { return now })

	evctx := entityContext(map[string]any{"signup_date": "2020-01-02"})

	// Under a calendar-year cycle a run created yesterday (last year) would
	// not block; the rolling window reaches back across the year boundary.
	first, err := d.Dispatch(ctx, models.TriggerRecurringDateMatch, "entity-1", evctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := d.Dispatch(ctx, models.TriggerRecurringDateMatch, "entity-1", evctx)
	require.NoError(t, err)
	assert.Empty(t, second)
}
