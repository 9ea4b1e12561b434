package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.Publish(StatusEvent{Type: EventSignalFired, Symbol: "ACME"})

	got := <-a
	assert.Equal(t, EventSignalFired, got.Type)
	assert.Equal(t, "ACME", got.Symbol)
	assert.False(t, got.Timestamp.IsZero(), "publish stamps the event")

	got = <-b
	assert.Equal(t, EventSignalFired, got.Type)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel reaches nobody and must not panic.
	hub.Publish(StatusEvent{Type: EventBotState})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer; extra events are dropped, Publish never blocks.
	for i := 0; i < 100; i++ {
		hub.Publish(StatusEvent{Type: EventPositionClosed})
	}
	require.Equal(t, 32, len(ch))
}
