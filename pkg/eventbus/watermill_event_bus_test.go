package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyhq/journey/pkg/channels/gochannel"
	"github.com/journeyhq/journey/pkg/events"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	received := make(chan *events.RunActivation, 1)

	err := bus.Handle(events.RunActivationEvent, func(_ context.Context, event any) error {
		activation, ok := event.(*events.RunActivation)
		require.True(t, ok)

		received <- activation

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	activation := events.RunActivation{
		BaseEvent:    events.NewBaseEvent(events.RunActivationEvent, "acme"),
		RunID:        "run-1",
		AutomationID: "auto-1",
		EntityID:     "entity-1",
	}

	require.NoError(t, bus.Publish(ctx, "run-1", activation))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "auto-1", got.AutomationID)
		assert.Equal(t, events.RunActivationEvent, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run activation")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	received := make(chan struct{}, 2)

	err := bus.Handle(events.RunCompletedEvent, func(_ context.Context, _ any) error {
		received <- struct{}{}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for failures; the message is dropped, not retried.
	failed := events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, "acme"),
		RunID:     "run-1",
		Error:     "boom",
	}
	require.NoError(t, bus.Publish(ctx, "run-1", failed))

	completed := events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, "acme"),
		RunID:     "run-2",
	}
	require.NoError(t, bus.Publish(ctx, "run-2", completed))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run completed")
	}

	assert.Empty(t, received)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
