// Package netstatus tracks whether the device believes it is online.
//
// The monitor performs no network I/O of its own. Platform sources report
// link state and the monitor fans transitions out to subscribers.
package netstatus

import (
	"sync"
	"time"
)

// Status is a snapshot of connectivity.
type Status struct {
	Online     bool
	LastChange time.Time
	Generation uint64
}

// Offline reports whether the snapshot is offline.
func (s Status) Offline() bool { return !s.Online }

// Listener receives the status after each transition.
type Listener func(Status)

// Monitor holds the process-wide connectivity flag.
type Monitor struct {
	mu         sync.Mutex
	online     bool
	lastChange time.Time
	generation uint64
	listeners  map[uint64]Listener
	nextID     uint64
	now        func() time.Time
}

// NewMonitor returns a monitor initialised to the given platform state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		online:     online,
		lastChange: time.Now(),
		listeners:  make(map[uint64]Listener),
		now:        time.Now,
	}
}

// IsOffline reports the current connectivity belief.
func (m *Monitor) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.online
}

// IsOnline is the negation of IsOffline.
func (m *Monitor) IsOnline() bool {
	return !m.IsOffline()
}

// LastChange returns the time of the last transition (or construction).
func (m *Monitor) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// Generation increases by one on every transition. Readers compare
// generations to detect a transition that happened while they waited.
func (m *Monitor) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Status returns a consistent snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Online: m.online, LastChange: m.lastChange, Generation: m.generation}
}

// Set records a platform connectivity event. The flag is updated before any
// listener runs; listeners are invoked synchronously in no particular order.
// An event that repeats the current state is not a transition. Reports
// whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.lastChange = m.now()
	m.generation++
	st := Status{Online: m.online, LastChange: m.lastChange, Generation: m.generation}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(st)
	}
	return true
}

// Subscribe registers fn for transitions. The returned function removes the
// subscription and is safe to call more than once.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Listeners returns the number of active subscriptions.
func (m *Monitor) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}
