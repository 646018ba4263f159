package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusHandlerReceivesInOrder(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	var got []string
	unsubscribe := bus.Subscribe(EventHandlerFunc(func(ev *Event) {
		got = append(got, ev.ID)
	}))
	defer unsubscribe()

	bus.Publish(&Event{ID: "a"})
	bus.Publish(&Event{ID: "b"})
	bus.Publish(&Event{ID: "c"})

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	count := 0
	unsubscribe := bus.Subscribe(EventHandlerFunc(func(ev *Event) { count++ }))

	bus.Publish(&Event{ID: "a"})
	unsubscribe()
	bus.Publish(&Event{ID: "b"})

	assert.Equal(t, 1, count)
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventBusChannelSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(4)
	defer unsubscribe()

	bus.Publish(&Event{ID: "a"})

	select {
	case ev := <-ch:
		assert.Equal(t, "a", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBusFullChannelDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		bus.Publish(&Event{ID: "a"})
		bus.Publish(&Event{ID: "b"}) // buffer full, dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}

	ev := <-ch
	assert.Equal(t, "a", ev.ID)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %q", ev.ID)
	default:
	}
}

func TestEventBusPublishNilIsNoop(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	count := 0
	defer bus.Subscribe(EventHandlerFunc(func(ev *Event) { count++ }))()

	bus.Publish(nil)
	assert.Zero(t, count)
}

func TestEventBusCloseClosesChannels(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ch, _ := bus.SubscribeChannel(1)

	bus.Close()

	_, open := <-ch
	require.False(t, open)
	assert.Zero(t, bus.SubscriberCount())
}
