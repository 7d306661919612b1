package watch

import (
	"testing"
	"time"
)

func TestWatchableGetSet(t *testing.T) {
	w := NewWatchable(1)
	if got := w.Get(); got != 1 {
		t.Fatalf("Get() = %d, want 1", got)
	}
	w.Set(2)
	if got := w.Get(); got != 2 {
		t.Fatalf("Get() = %d, want 2", got)
	}
}

func TestWatchableSubscribeReceivesUpdates(t *testing.T) {
	w := NewWatchable(0)
	ch, unsub := w.Subscribe()
	defer unsub()

	w.Set(5)

	select {
	case v := <-ch:
		if v != 5 {
			t.Fatalf("subscriber received %d, want 5", v)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received update")
	}
}

func TestWatchableUnsubscribeStopsDelivery(t *testing.T) {
	w := NewWatchable(0)
	ch, unsub := w.Subscribe()
	unsub()

	w.Set(1)

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unsubscribed channel should not receive %d", v)
		}
	case <-time.After(50 * time.Millisecond):
		// expected: no delivery
	}
}

func TestWatchableSlowSubscriberNeverBlocksWriter(t *testing.T) {
	w := NewWatchable(0)
	_, unsub := w.Subscribe() // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			w.Set(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Set blocked on a slow subscriber")
	}
}
