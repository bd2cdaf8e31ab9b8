package background

import (
	"context"
	"errors"
	"log/slog"

	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/events"
	teersync "github.com/marcus/teer/internal/sync"
)

// Bridge is the foreground end of the agent protocol.
type Bridge struct {
	Channel     Channel
	Coordinator *teersync.Coordinator
	Store       *db.DB
	Bus         *events.Bus
}

// RequestSync asks the agent to run a sync.
func (b *Bridge) RequestSync(ctx context.Context) error {
	return b.Channel.Post(ctx, SyncNow)
}

// Start listens for SYNC_COMPLETE until the returned function is called.
// Each completion refreshes the foreground caches and surfaces lost writes
// the agent recorded but nobody has seen yet.
func (b *Bridge) Start(ctx context.Context) (func(), error) {
	return b.Channel.Subscribe(ctx, SyncComplete, func(Message) {
		b.HandleComplete(ctx)
	})
}

// HandleComplete runs the foreground side of a SYNC_COMPLETE.
func (b *Bridge) HandleComplete(ctx context.Context) {
	if _, err := b.Coordinator.Trigger(ctx, teersync.ReasonBackground); err != nil {
		if errors.Is(err, teersync.ErrSyncInProgress) || errors.Is(err, teersync.ErrOffline) {
			slog.Debug("bridge: refresh skipped", "err", err)
		} else {
			slog.Warn("bridge: refresh", "err", err)
		}
	}

	lost, err := b.Store.TakeUnreportedLostWrites(ctx)
	if err != nil {
		slog.Warn("bridge: lost writes", "err", err)
		return
	}
	for i := range lost {
		lw := lost[i]
		b.Bus.Publish(events.Event{Kind: events.KindLostWrite, Lost: &lw})
	}
}
