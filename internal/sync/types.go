package sync

import (
	"sort"
	"time"

	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateSuccess
	StatePartialFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateSuccess:
		return "success"
	case StatePartialFailure:
		return "partial_failure"
	default:
		return "unknown"
	}
}

// Reason says what started a sync.
type Reason string

const (
	// ReasonReconnect fires on an offline to online transition.
	ReasonReconnect Reason = "reconnect"
	// ReasonManual is an explicit user request.
	ReasonManual Reason = "manual"
	// ReasonBackground follows a background agent's SYNC_COMPLETE. The agent
	// already drained the queue, so only the caches are refreshed.
	ReasonBackground Reason = "background"
	// ReasonInterval is the periodic autosync tick.
	ReasonInterval Reason = "interval"
	// ReasonStartup runs once when a process starts online.
	ReasonStartup Reason = "startup"
)

// Outcome of a sync session.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
)

// Report describes one sync session.
type Report struct {
	Reason    Reason
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration

	// Replayed counts operations the server accepted.
	Replayed int
	// Lost lists operations discarded this session.
	Lost []models.LostWrite
	// HaltedOn is the operation that stopped the drain with a transient
	// failure, empty if the drain ran to the end.
	HaltedOn string
	HaltErr  error
	// Remaining is the queue depth after the drain.
	Remaining int

	Refreshed     []string
	RefreshErrors map[string]error
	LastSync      *time.Time
}

// Drained reports whether every pending operation was handled.
func (r *Report) Drained() bool {
	return r.HaltedOn == "" && r.HaltErr == nil
}

// Summary converts the report for the event bus.
func (r *Report) Summary() *events.SyncSummary {
	s := &events.SyncSummary{
		Reason:    string(r.Reason),
		Outcome:   string(r.Outcome),
		Replayed:  r.Replayed,
		Remaining: r.Remaining,
		Lost:      len(r.Lost),
		Refreshed: append([]string(nil), r.Refreshed...),
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
	}
	if len(r.RefreshErrors) > 0 {
		s.RefreshErrors = make(map[string]string, len(r.RefreshErrors))
		for name, err := range r.RefreshErrors {
			s.RefreshErrors[name] = err.Error()
		}
	}
	return s
}

// FailedRefreshes returns the names of resources that failed to refresh, sorted.
func (r *Report) FailedRefreshes() []string {
	names := make([]string, 0, len(r.RefreshErrors))
	for name := range r.RefreshErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
