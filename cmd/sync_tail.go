package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/spf13/cobra"
)

var (
	pushArrow    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("→")
	refreshArrow = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Render("←")
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	lostStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	tailActionStyles = map[string]lipgloss.Style{
		db.ActionLost:     lostStyle,
		db.ActionFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		db.ActionRetry:    lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		db.ActionReplayed: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

var syncTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent sync activity",
	Long: `Show recent replays and refreshes. Use -f to follow in real-time.

Examples:
  teer sync tail                 # Last 20 entries
  teer sync tail -f              # Follow new entries
  teer sync tail -n 0 -f         # Follow only new entries, skip history
  teer sync tail --action lost   # Only writes the server rejected`,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		lines, _ := cmd.Flags().GetInt("lines")
		interval, _ := cmd.Flags().GetDuration("interval")
		actions, _ := cmd.Flags().GetStringSlice("action")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir, err := syncconfig.DataDir()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		store, err := db.Open(ctx, dir)
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer store.Close()

		t := &tailer{store: store, actions: actions}
		shown, err := t.backlog(ctx, lines)
		if err != nil {
			output.Error("query sync history: %v", err)
			return err
		}
		if !follow {
			if shown == 0 && !jsonOut {
				fmt.Println("No sync activity recorded.")
			}
			return nil
		}
		return t.follow(ctx, interval)
	},
}

// tailer prints sync_history rows past a high-water mark.
type tailer struct {
	store   *db.DB
	actions []string
	lastID  int64
}

func (t *tailer) backlog(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		tail, err := t.store.GetSyncHistoryTail(ctx, 1)
		if err == nil && len(tail) > 0 {
			t.lastID = tail[0].ID
		}
		return 0, err
	}
	entries, err := t.store.GetSyncHistoryTail(ctx, n)
	if err != nil {
		return 0, err
	}
	return t.emit(entries), nil
}

func (t *tailer) follow(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if !jsonOut {
				fmt.Println()
			}
			return nil
		case <-ticker.C:
			entries, err := t.store.GetSyncHistory(ctx, t.lastID, 100)
			if err != nil {
				slog.Debug("sync tail: poll", "err", err)
				continue
			}
			t.emit(entries)
		}
	}
}

// emit prints entries that pass the action filter and advances lastID past
// every entry seen, printed or not.
func (t *tailer) emit(entries []db.SyncHistoryEntry) int {
	printed := 0
	for _, e := range entries {
		t.lastID = max(t.lastID, e.ID)
		if len(t.actions) > 0 && !slices.Contains(t.actions, e.Action) {
			continue
		}
		if jsonOut {
			b, _ := json.Marshal(e)
			fmt.Println(string(b))
		} else {
			fmt.Println(formatSyncEntry(e))
		}
		printed++
	}
	return printed
}

func formatSyncEntry(e db.SyncHistoryEntry) string {
	arrow := refreshArrow
	if e.Direction == db.DirectionPush {
		arrow = pushArrow
	}

	action := e.Action
	if style, ok := tailActionStyles[e.Action]; ok {
		action = style.Render(action)
	}

	parts := []string{
		dimStyle.Render(e.Timestamp.Local().Format("15:04:05")),
		arrow,
		e.Direction,
		action,
	}
	if e.Collection != "" {
		parts = append(parts, e.Collection)
	}
	if e.EntityID != "" {
		parts = append(parts, truncateID(e.EntityID, 16))
	}
	line := strings.Join(parts, " ")
	if e.Detail != "" {
		line += dimStyle.Render(" (" + e.Detail + ")")
	}
	return line
}

func truncateID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n-3] + "..."
}

func init() {
	syncTailCmd.Flags().BoolP("follow", "f", false, "Follow new entries")
	syncTailCmd.Flags().IntP("lines", "n", 20, "Number of past entries to show")
	syncTailCmd.Flags().Duration("interval", time.Second, "Poll interval when following")
	syncTailCmd.Flags().StringSlice("action", nil, "Only show these actions (replayed, retry, lost, replaced, failed)")
	syncCmd.AddCommand(syncTailCmd)
}
