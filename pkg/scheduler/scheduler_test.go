package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/dispatcher"
	"github.com/journeyhq/journey/pkg/eventbus"
	"github.com/journeyhq/journey/pkg/events"
	"github.com/journeyhq/journey/pkg/mailer"
	"github.com/journeyhq/journey/pkg/models"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/recurrence"
	"github.com/journeyhq/journey/pkg/registry"
	"github.com/journeyhq/journey/pkg/runner"
	"github.com/journeyhq/journey/pkg/steps/delay"
	"github.com/journeyhq/journey/pkg/steps/sendmessage"
)

// capturingPublisher records published events and hands run activations back
// out, so tests can play the worker side of the bus.
type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) takeActivations() []events.RunActivation {
	p.mu.Lock()
	defer p.mu.Unlock()

	taken := make([]events.RunActivation, 0)
	remaining := make([]eventbus.Event, 0, len(p.events))

	for _, event := range p.events {
		if activation, ok := event.(events.RunActivation); ok {
			taken = append(taken, activation)
		} else {
			remaining = append(remaining, event)
		}
	}

	p.events = remaining

	return taken
}

// fixture wires a full in-process engine around a mutable clock so delays can
// be crossed without sleeping.
type fixture struct {
	scheduler  *Scheduler
	dispatcher *dispatcher.Dispatcher
	runner     *runner.Runner
	persist    *file.Persistence
	recorder   *mailer.Recorder
	publisher  *capturingPublisher

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	p := file.NewPersistence(t.TempDir())
	recorder := mailer.NewRecorder()
	publisher := &capturingPublisher{}

	f := &fixture{
		persist:   p,
		recorder:  recorder,
		publisher: publisher,
		now:       time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC),
	}

	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()

		return f.now
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterStep(delay.NewFactoryWithClock(clock))
	reg.RegisterStep(sendmessage.NewFactory(recorder))

	gate := recurrence.NewStoreGate(p.Runs())

	f.dispatcher = dispatcher.NewDispatcher(p, publisher, gate, logger).WithClock(clock)
	f.runner = runner.NewRunner(p, reg, publisher, logger)
	f.scheduler = NewScheduler(p, publisher, f.dispatcher, logger).WithClock(clock)

	return f
}

func (f *fixture) advanceClock(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

func (f *fixture) setClock(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = now
}

// work drains published run activations through the runner, playing the
// worker's part of the bus.
func (f *fixture) work(t *testing.T, ctx context.Context) {
	t.Helper()

	for {
		activations := f.publisher.takeActivations()
		if len(activations) == 0 {
			return
		}

		for _, activation := range activations {
			if activation.Resume {
				require.NoError(t, f.runner.Resume(ctx, activation.RunID))
			} else {
				require.NoError(t, f.runner.Advance(ctx, activation.RunID))
			}
		}
	}
}

func TestTick_ResumesDueRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	automation := &models.Automation{
		TenantID:    "acme",
		Name:        "Welcome then follow up",
		TriggerType: models.TriggerNewEntity,
		Active:      true,
		Steps: []models.Step{
			{Kind: models.StepKindSendMessage, Config: map[string]any{
				"subject": "Welcome {{entity.name}}!",
				"body":    "Glad to have you.",
			}},
			{Kind: models.StepKindDelay, Config: map[string]any{"days": 3}},
			{Kind: models.StepKindSendMessage, Config: map[string]any{
				"subject": "How is it going, {{entity.name}}?",
				"body":    "Checking in.",
			}},
		},
	}
	require.NoError(t, f.persist.Automations().Save(ctx, automation))

	evctx := models.EventContext{"entity": {"name": "Ana", "email": "ana@example.com"}}

	runIDs, err := f.dispatcher.Dispatch(ctx, models.TriggerNewEntity, "entity-1", evctx)
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	f.work(t, ctx)

	// The run sent the welcome message and parked on the delay.
	require.Len(t, f.recorder.Messages(), 1)

	parked, err := f.persist.Runs().GetByID(ctx, runIDs[0])
	require.NoError(t, err)
	require.Equal(t, models.RunStatusWaiting, parked.Status)

	// A tick before the due time leaves the run parked.
	require.NoError(t, f.scheduler.Tick(ctx))

	assert.Empty(t, f.publisher.takeActivations())

	stillParked, err := f.persist.Runs().GetByID(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusWaiting, stillParked.Status)

	// Past the due time the run is claimed and a resume activation goes out.
	f.advanceClock(72*time.Hour + time.Minute)

	require.NoError(t, f.scheduler.Tick(ctx))

	claimed, err := f.persist.Runs().GetByID(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, claimed.Status)

	activations := f.publisher.takeActivations()
	require.Len(t, activations, 1)
	assert.Equal(t, runIDs[0], activations[0].RunID)
	assert.True(t, activations[0].Resume)

	// The worker consumes the activation and finishes the run.
	if activations[0].Resume {
		require.NoError(t, f.runner.Resume(ctx, activations[0].RunID))
	}

	completed, err := f.persist.Runs().GetByID(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, completed.Status)
	assert.Equal(t, 3, completed.CurrentStepIndex)

	messages := f.recorder.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "How is it going, Ana?", messages[1].Subject)
}

func TestTick_IdleWithNothingDue(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.scheduler.Tick(context.Background()))
	assert.Empty(t, f.recorder.Messages())
	assert.Empty(t, f.publisher.takeActivations())
}

func TestTick_FiresRecurringDateMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	automation := &models.Automation{
		TenantID:    "acme",
		Name:        "Birthday greeting",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
		Recurrence:  &models.Recurrence{DateField: "birth_date"},
		Steps: []models.Step{
			{Kind: models.StepKindSendMessage, Config: map[string]any{
				"subject": "Happy birthday {{entity.name}}!",
				"body":    "Have a great one.",
			}},
		},
	}
	require.NoError(t, f.persist.Automations().Save(ctx, automation))

	// The clock reads March 10; only the first entity matches.
	birthdayToday := &models.Entity{
		ID:       "entity-birthday",
		TenantID: "acme",
		Email:    "ana@example.com",
		Name:     "Ana",
		Fields:   map[string]any{"birth_date": "1990-03-10"},
	}
	birthdayLater := &models.Entity{
		ID:       "entity-later",
		TenantID: "acme",
		Email:    "bob@example.com",
		Name:     "Bob",
		Fields:   map[string]any{"birth_date": "1990-11-02"},
	}
	require.NoError(t, f.persist.Entities().Save(ctx, birthdayToday))
	require.NoError(t, f.persist.Entities().Save(ctx, birthdayLater))

	require.NoError(t, f.scheduler.Tick(ctx))

	runs, err := f.persist.Runs().ListByAutomation(ctx, automation.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "entity-birthday", runs[0].EntityID)

	// A second tick on the same day is gated.
	require.NoError(t, f.scheduler.Tick(ctx))

	runs, err = f.persist.Runs().ListByAutomation(ctx, automation.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestTick_RecurringFiringScopedToMatchingAutomation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

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
	require.NoError(t, f.persist.Automations().Save(ctx, birthday))
	require.NoError(t, f.persist.Automations().Save(ctx, anniversary))

	entity := &models.Entity{
		ID:       "entity-1",
		TenantID: "acme",
		Email:    "ana@example.com",
		Name:     "Ana",
		Fields: map[string]any{
			"birth_date":  "1990-03-10",
			"signup_date": "2024-11-02",
		},
	}
	require.NoError(t, f.persist.Entities().Save(ctx, entity))

	// March 10: the birthday automation fires, the anniversary one must not.
	require.NoError(t, f.scheduler.Tick(ctx))

	birthdayRuns, err := f.persist.Runs().ListByAutomation(ctx, birthday.ID)
	require.NoError(t, err)
	assert.Len(t, birthdayRuns, 1)

	anniversaryRuns, err := f.persist.Runs().ListByAutomation(ctx, anniversary.ID)
	require.NoError(t, err)
	assert.Empty(t, anniversaryRuns)

	// November 2: the anniversary automation fires on its own date, ungated
	// by the birthday firing earlier in the cycle.
	f.setClock(time.Date(2026, time.November, 2, 9, 0, 0, 0, time.UTC))

	require.NoError(t, f.scheduler.Tick(ctx))

	anniversaryRuns, err = f.persist.Runs().ListByAutomation(ctx, anniversary.ID)
	require.NoError(t, err)
	assert.Len(t, anniversaryRuns, 1)
}

func TestTick_RecurringAutomationWithoutDateFieldIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	automation := &models.Automation{
		TenantID:    "acme",
		Name:        "Misconfigured recurring",
		TriggerType: models.TriggerRecurringDateMatch,
		Active:      true,
	}
	require.NoError(t, f.persist.Automations().Save(ctx, automation))

	require.NoError(t, f.scheduler.Tick(ctx))

	runs, err := f.persist.Runs().ListByAutomation(ctx, automation.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
