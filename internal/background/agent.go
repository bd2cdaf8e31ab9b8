package background

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marcus/teer/internal/netstatus"
	teersync "github.com/marcus/teer/internal/sync"
)

// Agent is the background sync process. It syncs when asked over the
// channel, on reconnect and on a timer, and posts SYNC_COMPLETE after each
// session. Requests that arrive during a session fold into one follow-up run.
type Agent struct {
	Channel     Channel
	Coordinator *teersync.Coordinator
	Monitor     *netstatus.Monitor
	// Interval between periodic syncs; zero disables the timer.
	Interval time.Duration

	requests chan teersync.Reason
}

// NewAgent returns an agent ready to Run.
func NewAgent(ch Channel, c *teersync.Coordinator, m *netstatus.Monitor, interval time.Duration) *Agent {
	return &Agent{
		Channel:     ch,
		Coordinator: c,
		Monitor:     m,
		Interval:    interval,
		requests:    make(chan teersync.Reason, 1),
	}
}

// Request schedules a manual sync without going through the channel.
func (a *Agent) Request() {
	a.enqueue(teersync.ReasonManual)
}

func (a *Agent) enqueue(reason teersync.Reason) {
	select {
	case a.requests <- reason:
	default:
	}
}

// Run blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	unsubscribe, err := a.Channel.Subscribe(ctx, SyncNow, func(Message) {
		a.enqueue(teersync.ReasonManual)
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	if a.Monitor != nil {
		stop := a.Monitor.Subscribe(func(s netstatus.Status) {
			if s.Online {
				a.enqueue(teersync.ReasonReconnect)
			}
		})
		defer stop()
	}

	var tick <-chan time.Time
	if a.Interval > 0 {
		ticker := time.NewTicker(a.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	slog.Info("agent: running", "interval", a.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-a.requests:
			a.run(ctx, reason)
		case <-tick:
			a.run(ctx, teersync.ReasonInterval)
		}
	}
}

func (a *Agent) run(ctx context.Context, reason teersync.Reason) {
	report, err := a.Coordinator.Trigger(ctx, reason)
	if err != nil {
		if errors.Is(err, teersync.ErrOffline) || errors.Is(err, teersync.ErrSyncInProgress) {
			slog.Debug("agent: sync skipped", "reason", reason, "err", err)
			return
		}
		slog.Warn("agent: sync", "reason", reason, "err", err)
		return
	}
	slog.Debug("agent: sync done", "reason", reason, "outcome", report.Outcome)

	if err := a.Channel.Post(context.WithoutCancel(ctx), SyncComplete); err != nil {
		slog.Warn("agent: post SYNC_COMPLETE", "err", err)
	}
}
