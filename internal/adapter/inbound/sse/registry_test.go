package sse

import (
	"testing"
	"time"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	r := NewRegistry(4)
	ch, replay, unsubscribe := r.Subscribe("sess-1", 0)
	defer unsubscribe()
	if len(replay) != 0 {
		t.Fatalf("replay = %v, want none for a fresh subscriber", replay)
	}

	r.Publish("sess-1", []byte("hello"))

	select {
	case ev := <-ch:
		if string(ev.Data) != "hello" || ev.ID != 1 {
			t.Errorf("got %+v, want {ID:1 Data:hello}", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeReplaysBacklogAfterLastEventID(t *testing.T) {
	r := NewRegistry(4)
	r.Publish("sess-1", []byte("a"))
	r.Publish("sess-1", []byte("b"))
	r.Publish("sess-1", []byte("c"))

	_, replay, unsubscribe := r.Subscribe("sess-1", 1)
	defer unsubscribe()

	if len(replay) != 2 {
		t.Fatalf("len(replay) = %d, want 2", len(replay))
	}
	if string(replay[0].Data) != "b" || string(replay[1].Data) != "c" {
		t.Errorf("replay = %+v, want [b c]", replay)
	}
}

func TestBacklogEvictsBeyondCapacity(t *testing.T) {
	r := NewRegistry(2)
	r.Publish("sess-1", []byte("a"))
	r.Publish("sess-1", []byte("b"))
	r.Publish("sess-1", []byte("c"))

	_, replay, unsubscribe := r.Subscribe("sess-1", 0)
	defer unsubscribe()
	if len(replay) != 0 {
		t.Fatalf("fresh subscribe should not replay, got %v", replay)
	}

	s := r.sessionFor("sess-1")
	if len(s.backlog) != 2 {
		t.Fatalf("backlog len = %d, want 2 (evicted down to cap)", len(s.backlog))
	}
	if string(s.backlog[0].Data) != "b" {
		t.Errorf("oldest retained = %q, want %q", s.backlog[0].Data, "b")
	}
}

func TestTerminateClosesSubscribers(t *testing.T) {
	r := NewRegistry(4)
	ch, _, _ := r.Subscribe("sess-1", 0)

	if !r.Terminate("sess-1") {
		t.Fatal("Terminate on a known session should return true")
	}
	if r.Terminate("sess-1") {
		t.Fatal("second Terminate on the same session should return false")
	}

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed after Terminate")
	}
}

func TestCloseAllClosesEverySession(t *testing.T) {
	r := NewRegistry(4)
	ch1, _, _ := r.Subscribe("sess-1", 0)
	ch2, _, _ := r.Subscribe("sess-2", 0)

	r.CloseAll()

	if _, ok := <-ch1; ok {
		t.Error("sess-1 channel should be closed")
	}
	if _, ok := <-ch2; ok {
		t.Error("sess-2 channel should be closed")
	}
}
