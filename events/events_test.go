package events_test

import (
	"errors"
	"testing"

	"github.com/apophisnow/icemaker/events"
)

func TestEmitFanOutReachesAllListeners(t *testing.T) {
	b := events.NewBus()
	var a, c int
	b.Subscribe(events.ListenerFunc(func(e events.Event) { a++ }))
	b.Subscribe(events.ListenerFunc(func(e events.Event) { c++ }))

	b.Emit(events.Event{Kind: events.StartCycle})
	if a != 1 || c != 1 {
		t.Errorf("expected both listeners to observe the event, got a=%d c=%d", a, c)
	}
}

func TestPanickingListenerDoesNotStopFanOut(t *testing.T) {
	b := events.NewBus()
	var reached bool
	b.Subscribe(events.ListenerFunc(func(e events.Event) { panic("boom") }))
	b.Subscribe(events.ListenerFunc(func(e events.Event) { reached = true }))

	b.Emit(events.Event{Kind: events.Error, Err: errors.New("x")})
	if !reached {
		t.Error("expected second listener to still run after the first panicked")
	}
}

func TestEmitStampsTimestampWhenZero(t *testing.T) {
	b := events.NewBus()
	var got events.Event
	b.Subscribe(events.ListenerFunc(func(e events.Event) { got = e }))
	b.Emit(events.Event{Kind: events.BinFull})
	if got.Timestamp.IsZero() {
		t.Error("expected Emit to stamp a timestamp")
	}
}
