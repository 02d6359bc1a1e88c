package events

import "testing"

type rangeInvalidated struct {
	Start string
	End   string
}

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	topic := NewTopic[rangeInvalidated]("range.invalidated")

	var order []string
	Subscribe(bus, topic, func(e rangeInvalidated) { order = append(order, "first:"+e.Start) })
	Subscribe(bus, topic, func(e rangeInvalidated) { order = append(order, "second:"+e.End) })

	n := Publish(bus, topic, rangeInvalidated{Start: "2025-01-01", End: "2025-01-31"})
	if n != 2 {
		t.Fatalf("expected 2 handlers, got %d", n)
	}
	if len(order) != 2 || order[0] != "first:2025-01-01" || order[1] != "second:2025-01-31" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	topic := NewTopic[int]("counter")

	total := 0
	cancel := Subscribe(bus, topic, func(v int) { total += v })
	Publish(bus, topic, 2)
	cancel()
	cancel()
	Publish(bus, topic, 5)

	if total != 2 {
		t.Fatalf("expected only the first event to be delivered, got %d", total)
	}
	if bus.Subscribers("counter") != 0 {
		t.Fatalf("expected topic to have no subscribers")
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	a := NewTopic[string]("a")
	b := NewTopic[string]("b")

	got := ""
	Subscribe(bus, a, func(v string) { got += v })
	Publish(bus, b, "ignored")
	Publish(bus, a, "seen")

	if got != "seen" {
		t.Fatalf("expected only topic a events, got %q", got)
	}
}

func TestNilBusIsInert(t *testing.T) {
	var bus *Bus
	cancel := Subscribe(bus, NewTopic[int]("x"), func(int) {})
	cancel()
	if Publish(bus, NewTopic[int]("x"), 1) != 0 {
		t.Fatalf("expected nil bus to deliver nothing")
	}
}
