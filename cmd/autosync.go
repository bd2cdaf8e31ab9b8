package cmd

import (
	"context"
	"log/slog"

	"github.com/marcus/teer/internal/background"
	"github.com/marcus/teer/internal/features"
	teersync "github.com/marcus/teer/internal/sync"
	"github.com/marcus/teer/internal/syncconfig"
)

// mutatingCommands lists commands that can queue server writes and should
// trigger auto-sync.
var mutatingCommands = map[string]bool{
	"place": true,
}

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// autoSyncAfterMutation gets queued writes moving after a mutating command.
// With the background agent enabled it only posts SYNC_NOW; otherwise it
// drains the queue in-process when online. Errors are logged, not returned.
func autoSyncAfterMutation(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !syncconfig.GetAutoSyncEnabled() {
		return
	}

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		slog.Debug("autosync: open", "err", err)
		return
	}
	defer a.Close()

	n, err := a.queue.Count(ctx)
	if err != nil || n == 0 {
		return
	}

	if features.IsEnabled(features.BackgroundAgent.Name) {
		ch, err := a.openChannel(ctx, "cli")
		if err != nil {
			slog.Debug("autosync: agent channel", "err", err)
			return
		}
		defer ch.Close()
		if err := ch.Post(ctx, background.SyncNow); err != nil {
			slog.Debug("autosync: post SYNC_NOW", "err", err)
		}
		return
	}

	if a.monitor.IsOffline() {
		return
	}
	if _, err := a.coordinator.Trigger(ctx, teersync.ReasonManual); err != nil {
		slog.Debug("autosync: sync", "err", err)
	}
}
