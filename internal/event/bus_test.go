package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var mu sync.Mutex
	var got []Event
	b.Subscribe(ToolUpdated, func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	b.PublishSync(Event{Type: ToolUpdated, Data: "a"})
	b.PublishSync(Event{Type: ShellStarted, Data: "ignored"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, ToolUpdated, got[0].Type)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var count int
	b.SubscribeAll(func(Event) { count++ })

	b.PublishSync(Event{Type: ToolUpdated})
	b.PublishSync(Event{Type: ShellExited})
	assert.Equal(t, 2, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var count int
	unsub := b.Subscribe(TurnDone, func(Event) { count++ })

	b.PublishSync(Event{Type: TurnDone})
	unsub()
	b.PublishSync(Event{Type: TurnDone})

	assert.Equal(t, 1, count)
}

func TestClosedBusDropsEverything(t *testing.T) {
	b := NewBus()
	require.NoError(t, b.Close())

	var count int
	unsub := b.Subscribe(TurnDone, func(Event) { count++ })
	b.PublishSync(Event{Type: TurnDone})

	assert.Equal(t, 0, count)
	unsub()

	// Closing twice is fine.
	assert.NoError(t, b.Close())
}

func TestAsyncPublishEventuallyDelivers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	done := make(chan Event, 1)
	b.Subscribe(ShellKilled, func(ev Event) { done <- ev })

	b.Publish(Event{Type: ShellKilled, Data: ShellKilledData{ShellID: "s1"}})
	ev := <-done
	assert.Equal(t, ShellKilledData{ShellID: "s1"}, ev.Data)
}
