package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/teer/internal/background"
	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/output"
	teersync "github.com/marcus/teer/internal/sync"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Replay queued bets and refresh the local cache",
	GroupID: "sync",
	Long: `Replay every queued operation in the order it was made, then refresh
results, bets and transactions from the server.

With --agent the request is handed to the background agent and the command
waits for it to report completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		viaAgent, _ := cmd.Flags().GetBool("agent")
		wait, _ := cmd.Flags().GetDuration("wait")

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		if viaAgent {
			if !features.IsEnabled(features.BackgroundAgent.Name) {
				output.Error("background agent is disabled (feature %s)", features.BackgroundAgent.Name)
				return fmt.Errorf("background agent disabled")
			}
			return runAgentSync(ctx, a, wait)
		}

		report, err := a.coordinator.Trigger(ctx, teersync.ReasonManual)
		if err != nil {
			return reportTriggerError(err)
		}
		return printReport(report)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue depth and last sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()
		a.surfaceLostWrites(ctx)

		pending, err := a.queue.Count(ctx)
		if err != nil {
			output.Error("count pending: %v", err)
			return err
		}
		lost, err := a.store.ListLostWrites(ctx)
		if err != nil {
			output.Error("list lost writes: %v", err)
			return err
		}
		sess, err := a.store.GetSession(ctx)
		if err != nil {
			output.Error("read session: %v", err)
			return err
		}
		agentErr := pingAgent(ctx)

		if jsonOut {
			return output.JSON(map[string]any{
				"online":        a.monitor.IsOnline(),
				"pending":       pending,
				"lost":          len(lost),
				"last_sync":     sess.LastSync,
				"user_id":       sess.UserID,
				"agent_running": agentErr == nil,
				"server":        syncconfig.GetServerURL(),
			})
		}

		conn := "online"
		if a.monitor.IsOffline() {
			conn = "offline"
		}
		agent := "running at " + syncconfig.GetAgentAddr()
		if agentErr != nil {
			agent = "not running"
		}

		fmt.Printf("Server:    %s\n", syncconfig.GetServerURL())
		fmt.Printf("Network:   %s\n", conn)
		fmt.Printf("Last sync: %s\n", output.FormatLastSync(sess.LastSync))
		fmt.Printf("Pending:   %d\n", pending)
		fmt.Printf("Lost:      %d\n", len(lost))
		fmt.Printf("Agent:     %s\n", agent)
		return nil
	},
}

// runAgentSync posts SYNC_NOW and waits for the agent's SYNC_COMPLETE, then
// refreshes this process's view the way the bridge does.
func runAgentSync(ctx context.Context, a *app, wait time.Duration) error {
	ch, err := a.openChannel(ctx, "cli")
	if err != nil {
		output.Error("agent channel: %v", err)
		return err
	}
	defer ch.Close()

	done := make(chan struct{}, 1)
	unsubscribe, err := ch.Subscribe(ctx, background.SyncComplete, func(background.Message) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		output.Error("agent channel: %v", err)
		return err
	}
	defer unsubscribe()

	bridge := a.bridge(ch)
	if err := bridge.RequestSync(ctx); err != nil {
		output.Error("request sync: %v", err)
		return err
	}
	output.Info("sync requested from agent")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		output.Warning("agent did not report back within %s; it will sync when it can", wait)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	bridge.HandleComplete(ctx)
	if report := a.coordinator.LastReport(); report != nil {
		return printReport(report)
	}
	output.Success("agent sync complete")
	return nil
}

func reportTriggerError(err error) error {
	switch {
	case errors.Is(err, teersync.ErrOffline):
		output.Error("offline: sync needs a network connection")
		return err
	case errors.Is(err, teersync.ErrSyncInProgress):
		output.Info("a sync is already running")
		return nil
	default:
		output.Error("sync: %v", err)
		return err
	}
}

func printReport(report *teersync.Report) error {
	if jsonOut {
		return output.JSON(report.Summary())
	}

	fmt.Println(output.FormatSyncSummary(report.Summary()))
	if report.HaltErr != nil {
		output.Warning("replay stopped at %s: %v", shortID(report.HaltedOn), report.HaltErr)
	}
	for _, name := range report.FailedRefreshes() {
		output.Warning("refresh %s: %v", name, report.RefreshErrors[name])
	}
	return nil
}

// pingAgent checks the local agent's health endpoint.
func pingAgent(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+syncconfig.GetAgentAddr()+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent unhealthy: %s", resp.Status)
	}
	return nil
}

func init() {
	syncCmd.Flags().Bool("agent", false, "Hand the sync to the background agent")
	syncCmd.Flags().Duration("wait", 30*time.Second, "How long to wait for the agent with --agent")
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
