package events

import (
	"testing"
	"time"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub(nil)

	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	hub.Publish(Event{Type: TypeEntryAccepted, Data: map[string]any{"player": "alice"}})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case event := <-ch:
			if event.Type != TypeEntryAccepted {
				t.Fatalf("%s subscriber got %q", name, event.Type)
			}
			if event.At.IsZero() {
				t.Fatalf("event timestamp not set")
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber never received the event", name)
		}
	}

	// A cancelled subscriber no longer receives events and its channel closes.
	cancelFirst()
	hub.Publish(Event{Type: TypeWinnerSelected})
	if _, ok := <-first; ok {
		t.Fatalf("cancelled subscriber received an event")
	}

	select {
	case event := <-second:
		if event.Type != TypeWinnerSelected {
			t.Fatalf("got %q", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("remaining subscriber never received the event")
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Type: TypeDrawRequested})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != subscriberBuffer {
				t.Fatalf("received %d events, want %d", received, subscriberBuffer)
			}
			return
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	_, cancel := hub.Subscribe()
	cancel()
	cancel()
}
