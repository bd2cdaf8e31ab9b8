package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marcus/teer/internal/background"
	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/metrics"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	Short:   "Run the background sync agent",
	GroupID: "sync",
	Long: `Run the background sync agent in the foreground of this terminal.

The agent replays queued bets when asked over the agent channel, when the
network comes back and on the auto-sync interval, then tells other teer
processes that a sync finished. It also serves:

  GET  /healthz   liveness
  GET  /metrics   Prometheus metrics
  POST /v1/sync   request a sync`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = syncconfig.GetAgentAddr()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		a, err := openApp(ctx, appOptions{agent: true, metrics: m})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()
		a.watchNetwork(ctx)

		m.SetOnline(a.monitor.IsOnline())
		unsubscribe := a.monitor.Subscribe(func(s netstatus.Status) {
			m.SetOnline(s.Online)
			slog.Info("agent: connectivity changed", "online", s.Online)
		})
		defer unsubscribe()
		if n, err := a.queue.Count(ctx); err == nil {
			m.SetPending(n)
		}

		ch, err := a.openChannel(ctx, "agent")
		if err != nil {
			output.Error("agent channel: %v", err)
			return err
		}
		defer ch.Close()

		interval := syncconfig.GetAutoSyncInterval()
		if !syncconfig.GetAutoSyncEnabled() {
			interval = 0
		}
		agent := background.NewAgent(ch, a.coordinator, a.monitor, interval)
		if syncconfig.GetAutoSyncOnStart() {
			agent.Request()
		}

		router := metrics.Router(m,
			func(ctx context.Context) error {
				_, err := a.store.Conn(ctx)
				return err
			},
			func(context.Context) error {
				agent.Request()
				return nil
			})

		errCh := make(chan error, 1)
		go func() {
			err := metrics.Serve(ctx, addr, router)
			if err != nil {
				slog.Error("agent: http", "err", err)
			}
			errCh <- err
		}()

		slog.Info("agent: started", "channel", syncconfig.GetAgentChannel(), "addr", addr, "store", a.store.Path())
		if err := agent.Run(ctx); err != nil {
			output.Error("agent: %v", err)
			return err
		}

		stop()
		if err := <-errCh; err != nil {
			return fmt.Errorf("agent http: %w", err)
		}
		return nil
	},
}

func init() {
	agentCmd.Flags().String("addr", "", "Listen address for the agent HTTP API (default from config)")
	AddFeatureGatedCommand(features.BackgroundAgent.Name, agentCmd)
}
