package eventbus

import "testing"

func TestPublishSubscribe(t *testing.T) {
	bus := New[string]()
	ch := bus.Subscribe()
	bus.Publish("state changed")
	if got := <-ch; got != "state changed" {
		t.Fatalf("expected event got %q", got)
	}
	bus.Unsubscribe(ch)
	if bus.Subscribers() != 0 {
		t.Fatalf("expected no subscribers got %d", bus.Subscribers())
	}
}

func TestPublishNonBlocking(t *testing.T) {
	bus := NewBuffered[int](1)
	ch := bus.Subscribe()
	bus.Publish(1)
	bus.Publish(2) // buffer full, dropped rather than blocking
	if got := <-ch; got != 1 {
		t.Fatalf("expected 1 got %d", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("expected dropped event, got %d", got)
	default:
	}
}

func TestFanOut(t *testing.T) {
	bus := New[int]()
	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Publish(7)
	if got := <-a; got != 7 {
		t.Fatalf("subscriber a: got %d", got)
	}
	if got := <-b; got != 7 {
		t.Fatalf("subscriber b: got %d", got)
	}
}

func TestClose(t *testing.T) {
	bus := New[int]()
	a := bus.Subscribe()
	bus.Close()
	if _, ok := <-a; ok {
		t.Fatal("expected closed channel")
	}
	// Publish and a second Close after closing are no-ops.
	bus.Publish(1)
	bus.Close()
	if _, ok := <-bus.Subscribe(); ok {
		t.Fatal("subscribe on closed bus must return a closed channel")
	}
	bus.Unsubscribe(a)
}
