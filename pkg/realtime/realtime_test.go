package realtime

import (
	"testing"
	"time"
)

func TestBroadcastDeliversToAllListeners(t *testing.T) {
	hub := NewHub(4)

	id1, ch1 := hub.Register()
	id2, ch2 := hub.Register()
	defer hub.Unregister(id1)
	defer hub.Unregister(id2)

	rank := 2
	hub.BroadcastAnnotation(AnnotationEvent{
		ResultID: "q1-https://example.com",
		QID:      "q1",
		Rank:     &rank,
		At:       time.Now(),
	})

	for i, ch := range []<-chan Envelope{ch1, ch2} {
		select {
		case env := <-ch:
			if env.Type != EventAnnotation {
				t.Errorf("listener %d: expected %s event, got %s", i, EventAnnotation, env.Type)
			}
			if env.Annotation == nil || env.Annotation.QID != "q1" {
				t.Errorf("listener %d: unexpected payload %+v", i, env)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d: timed out waiting for event", i)
		}
	}
}

func TestSlowListenerDropsEvents(t *testing.T) {
	hub := NewHub(1)

	id, ch := hub.Register()
	defer hub.Unregister(id)

	// Fill the buffer, then overflow it.
	hub.BroadcastFetch(FetchEvent{QID: "q1", Results: 10})
	hub.BroadcastFetch(FetchEvent{QID: "q2", Results: 20})

	env := <-ch
	if env.Fetch == nil || env.Fetch.QID != "q1" {
		t.Fatalf("expected first event to survive, got %+v", env)
	}

	select {
	case extra := <-ch:
		t.Fatalf("expected overflow event to be dropped, got %+v", extra)
	default:
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	hub := NewHub(0)

	id, ch := hub.Register()
	if hub.Size() != 1 {
		t.Fatalf("expected 1 listener, got %d", hub.Size())
	}

	hub.Unregister(id)
	hub.Unregister(id) // idempotent

	if hub.Size() != 0 {
		t.Fatalf("expected 0 listeners, got %d", hub.Size())
	}

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unregister")
	}
}
