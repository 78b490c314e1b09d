package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPositionClosed, 1)

	bus.Publish(EventPositionClosed, "first")
	bus.Publish(EventPositionClosed, "dropped")

	if got := <-ch; got != "first" {
		t.Fatalf("payload=%v, expected first", got)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected payload %v; slow subscribers should drop", v)
	default:
	}
	if bus.Dropped() != 1 {
		t.Fatalf("Dropped=%d, expected 1", bus.Dropped())
	}

	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	bus.Publish(EventPositionClosed, "after")
}

func TestBusSubscribeMany(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.SubscribeMany([]Event{EventPositionOpened, EventRiskAlert}, 4)

	bus.Publish(EventRiskAlert, "halt")
	select {
	case env := <-ch:
		if env.Event != EventRiskAlert || env.Payload != "halt" {
			t.Fatalf("envelope=%+v", env)
		}
	case <-time.After(time.Second):
		t.Fatalf("no envelope received")
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("merged channel should be closed after unsubscribe")
	}
}
