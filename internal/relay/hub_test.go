package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	return got
}

func TestHubDeliversInOrderUntilStreamEnd(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("tok")
	defer unsub()

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, h.Publish(ctx, "tok", Event{Name: name}))
	}
	require.NoError(t, h.Publish(ctx, "tok", Event{Name: EventStreamEnd}))

	got := drain(ch)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
	assert.Equal(t, "c", got[2].Name)
	assert.Equal(t, 0, h.Len())
}

func TestHubUnknownToken(t *testing.T) {
	h := NewHub()
	err := h.Publish(context.Background(), "nobody", Event{Name: "x"})
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("tok")
	unsub()

	err := h.Publish(context.Background(), "tok", Event{Name: "after"})
	assert.ErrorIs(t, err, ErrUnknownToken)

	select {
	case ev := <-ch:
		t.Errorf("got unexpected event %q after unsubscribe", ev.Name)
	default:
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, unsub := h.Subscribe("tok")
	defer unsub()

	ctx := context.Background()
	for i := 0; i < subscriberBufferSize+10; i++ {
		require.NoError(t, h.Publish(ctx, "tok", Event{Name: "tick", Data: i}))
	}
	require.NoError(t, h.Publish(ctx, "tok", Event{Name: EventStreamEnd}))

	got := drain(ch)
	assert.Len(t, got, subscriberBufferSize)
	assert.Equal(t, 0, got[0].Data)
}

func TestHubResubscribeReplacesChannel(t *testing.T) {
	h := NewHub()
	_, unsubOld := h.Subscribe("tok")
	ch, unsub := h.Subscribe("tok")
	defer unsub()

	// Unsubscribing the stale handle must not remove the new subscriber.
	unsubOld()
	require.NoError(t, h.Publish(context.Background(), "tok", Event{Name: "x"}))
	ev := <-ch
	assert.Equal(t, "x", ev.Name)
}
