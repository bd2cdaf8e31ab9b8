package events

import (
	"testing"
	"time"

	"github.com/marcus/teer/internal/models"
)

func TestBus_PublishReachesEachSubscriberOnce(t *testing.T) {
	b := NewBus()
	var a, c int
	b.Subscribe(func(e Event) { a++ })
	unsub := b.Subscribe(func(e Event) { c++ })

	b.Publish(Event{Kind: KindLostWrite, Lost: &models.LostWrite{ID: "op-1"}})
	unsub()
	b.Publish(Event{Kind: KindSyncCompleted, Sync: &SyncSummary{Outcome: "success"}})

	if a != 2 {
		t.Errorf("subscriber a: got %d events, want 2", a)
	}
	if c != 1 {
		t.Errorf("unsubscribed subscriber: got %d events, want 1", c)
	}
}

func TestBus_PublishStampsTime(t *testing.T) {
	b := NewBus()
	var got Event
	b.Subscribe(func(e Event) { got = e })

	b.Publish(Event{Kind: KindSyncStarted})
	if got.At.IsZero() {
		t.Error("At should be set on publish")
	}

	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	b.Publish(Connectivity(true, at))
	if !got.At.Equal(at) || got.Online == nil || !*got.Online {
		t.Errorf("connectivity event: got %+v", got)
	}
}

func TestBus_NilPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: KindSyncStarted})
}

func TestBus_Channel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Channel(1)

	b.Publish(Event{Kind: KindSyncStarted})
	select {
	case e := <-ch:
		if e.Kind != KindSyncStarted {
			t.Errorf("kind: got %s", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event on channel")
	}

	// Fill the buffer, then cancel while a publisher is waiting.
	b.Publish(Event{Kind: KindSyncStarted})
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: KindSyncCompleted})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher stayed blocked after cancel")
	}
}
