// Package events carries sync notifications from the coordinator to the UI
// and to other sinks such as webhooks.
package events

import (
	"sync"
	"time"

	"github.com/marcus/teer/internal/models"
)

// Kind identifies a notification.
type Kind string

const (
	KindSyncStarted   Kind = "sync_started"
	KindSyncCompleted Kind = "sync_completed"
	KindLostWrite     Kind = "lost_write"
	KindConnectivity  Kind = "connectivity"
)

// SyncSummary describes a finished sync session.
type SyncSummary struct {
	Reason        string            `json:"reason"`
	Outcome       string            `json:"outcome"`
	Replayed      int               `json:"replayed"`
	Remaining     int               `json:"remaining"`
	Lost          int               `json:"lost"`
	Refreshed     []string          `json:"refreshed,omitempty"`
	RefreshErrors map[string]string `json:"refresh_errors,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration"`
}

// Event is a single notification. Exactly one of the payload fields is set,
// matching Kind.
type Event struct {
	Kind   Kind              `json:"kind"`
	At     time.Time         `json:"at"`
	Sync   *SyncSummary      `json:"sync,omitempty"`
	Lost   *models.LostWrite `json:"lost,omitempty"`
	Online *bool             `json:"online,omitempty"`
}

// Handler consumes events.
type Handler func(Event)

// Bus fans events out to subscribers synchronously, so an event published
// once reaches each subscriber once.
type Bus struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	next     uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]Handler)}
}

// Subscribe registers h. The returned function removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber. A nil bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Channel subscribes a buffered channel. When the buffer is full the
// publisher waits until the consumer reads or cancels. The channel is never
// closed; consumers stop reading after calling cancel.
func (b *Bus) Channel(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	done := make(chan struct{})
	unsub := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		case <-done:
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(done)
			unsub()
		})
	}
}

// Connectivity builds a connectivity event.
func Connectivity(online bool, at time.Time) Event {
	return Event{Kind: KindConnectivity, At: at, Online: &online}
}
