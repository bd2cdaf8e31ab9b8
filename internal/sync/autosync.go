package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/netstatus"
)

// Autosync starts syncs on reconnect, on a timer and once at startup.
type Autosync struct {
	Coordinator *Coordinator
	Monitor     *netstatus.Monitor
	Bus         *events.Bus
	// Interval between periodic syncs; zero disables the timer.
	Interval time.Duration
	// OnStart runs a sync immediately when started online.
	OnStart bool
}

// Run blocks until ctx is done. The monitor subscription is released on return.
func (a *Autosync) Run(ctx context.Context) {
	unsubscribe := a.Monitor.Subscribe(func(s netstatus.Status) {
		a.Bus.Publish(events.Connectivity(s.Online, s.LastChange))
		a.Coordinator.opts.Metrics.SetOnline(s.Online)
		if s.Online {
			go a.fire(ctx, ReasonReconnect)
		}
	})
	defer unsubscribe()

	a.Coordinator.opts.Metrics.SetOnline(a.Monitor.IsOnline())
	if a.OnStart && a.Monitor.IsOnline() {
		go a.fire(ctx, ReasonStartup)
	}

	var tick <-chan time.Time
	if a.Interval > 0 {
		ticker := time.NewTicker(a.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if a.Monitor.IsOnline() {
				a.fire(ctx, ReasonInterval)
			}
		}
	}
}

func (a *Autosync) fire(ctx context.Context, reason Reason) {
	if ctx.Err() != nil {
		return
	}
	_, err := a.Coordinator.Trigger(ctx, reason)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline):
		slog.Debug("autosync: skipped", "reason", reason, "err", err)
	default:
		slog.Warn("autosync: sync failed", "reason", reason, "err", err)
	}
}
