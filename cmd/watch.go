package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/output"
	teersync "github.com/marcus/teer/internal/sync"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/marcus/teer/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of connectivity, queue and sync activity",
	Long: `Launch a live-updating dashboard showing:
- Status: connectivity, last sync, pending and lost counts
- Queue: operations waiting to be replayed, oldest first
- Sync history: recent replays and refreshes

While it runs, syncs start on reconnect and on the auto-sync interval. With
the background agent enabled the agent does that work instead and the
dashboard refreshes its caches whenever the agent reports back.

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll
  s              Sync now
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := openApp(ctx, appOptions{quiet: true})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()
		a.watchNetwork(ctx)

		syncNow := func(ctx context.Context) (*events.SyncSummary, error) {
			report, err := a.coordinator.Trigger(ctx, teersync.ReasonManual)
			if err != nil {
				return nil, err
			}
			return report.Summary(), nil
		}

		model := monitor.NewModel(a.store, a.monitor, syncNow, interval)
		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		// quiet keeps lost writes off stdout; the dashboard shows them instead.
		unsubscribe := monitor.ForwardLostWrites(a.bus, p.Send)
		defer unsubscribe()

		if features.IsEnabled(features.BackgroundAgent.Name) {
			ch, err := a.openChannel(ctx, "watch")
			if err != nil {
				output.Error("agent channel: %v", err)
				return err
			}
			defer ch.Close()
			stop, err := a.bridge(ch).Start(ctx)
			if err != nil {
				output.Error("agent channel: %v", err)
				return err
			}
			defer stop()
		} else if syncconfig.GetAutoSyncEnabled() {
			auto := &teersync.Autosync{
				Coordinator: a.coordinator,
				Monitor:     a.monitor,
				Bus:         a.bus,
				Interval:    syncconfig.GetAutoSyncInterval(),
				OnStart:     syncconfig.GetAutoSyncOnStart(),
			}
			go auto.Run(ctx)
		}

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}
