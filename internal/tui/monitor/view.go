package monitor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/output"
)

// renderView renders the complete dashboard
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Status is fixed height, the remainder is split between queue and history
	statusHeight := 8
	availableHeight := m.Height - 1 - len(m.Notices) - statusHeight
	queueHeight := availableHeight / 2
	historyHeight := availableHeight - queueHeight

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatusPanel(statusHeight),
		m.renderQueuePanel(queueHeight),
		m.renderHistoryPanel(historyHeight),
	)

	parts := []string{panels}
	for _, lw := range m.Notices {
		parts = append(parts, m.formatNotice(lw))
	}
	parts = append(parts, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("teer watch (resize for full view)\n\n")
	s.WriteString(formatConnectivity(m.Status.Online) + "\n")
	s.WriteString(fmt.Sprintf("Pending: %d | Lost: %d\n", len(m.Pending), len(m.Lost)))
	s.WriteString(fmt.Sprintf("Last sync: %s\n", output.FormatLastSync(m.LastSync)))
	s.WriteString("\nq:quit s:sync r:refresh ?:help")

	return s.String()
}

// renderStatusPanel renders connectivity and sync status (Panel 1)
func (m Model) renderStatusPanel(height int) string {
	var lines []string

	conn := formatConnectivity(m.Status.Online)
	if !m.Status.LastChange.IsZero() {
		conn += subtleStyle.Render("  since " + output.FormatTimeAgo(m.Status.LastChange))
	}
	lines = append(lines, conn)

	sync := "Last sync: " + output.FormatLastSync(m.LastSync)
	if m.Syncing {
		sync = m.Spinner.View() + " syncing..."
	}
	lines = append(lines, sync)

	lines = append(lines, fmt.Sprintf("Pending: %d   Lost: %d", len(m.Pending), len(m.Lost)))
	lines = append(lines, subtleStyle.Render(fmt.Sprintf("Cached: %d results, %d bets, %d transactions",
		m.Cached[db.CollectionResults], m.Cached[db.CollectionBets], m.Cached[db.CollectionTransactions])))

	if m.LastSummary != nil {
		lines = append(lines, output.FormatSyncSummary(m.LastSummary))
	}
	if m.Err != nil {
		lines = append(lines, lostAlertStyle.Render(" ERROR ")+" "+m.Err.Error())
	}

	return m.wrapPanel("STATUS", strings.Join(lines, "\n"), height, PanelStatus)
}

// renderQueuePanel renders the pending operations in replay order (Panel 2)
func (m Model) renderQueuePanel(height int) string {
	if len(m.Pending) == 0 {
		return m.wrapPanel("QUEUE", subtleStyle.Render("Nothing queued"), height, PanelQueue)
	}

	var lines []string
	offset := clampOffset(m.ScrollOffset[PanelQueue], len(m.Pending))
	visible := m.visibleItems(len(m.Pending), offset, height-3)
	for _, op := range m.Pending[offset : offset+visible] {
		lines = append(lines, m.formatPending(op))
	}

	title := fmt.Sprintf("QUEUE (%d)", len(m.Pending))
	return m.wrapPanel(title, strings.Join(lines, "\n"), height, PanelQueue)
}

// renderHistoryPanel renders the sync history feed, newest first (Panel 3)
func (m Model) renderHistoryPanel(height int) string {
	if len(m.History) == 0 {
		return m.wrapPanel("SYNC HISTORY", subtleStyle.Render("No sync activity yet"), height, PanelHistory)
	}

	var lines []string
	offset := clampOffset(m.ScrollOffset[PanelHistory], len(m.History))
	visible := m.visibleItems(len(m.History), offset, height-3)
	for _, entry := range m.History[offset : offset+visible] {
		lines = append(lines, m.formatHistoryItem(entry))
	}

	return m.wrapPanel("SYNC HISTORY", strings.Join(lines, "\n"), height, PanelHistory)
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  s:sync  r:refresh  ?:help")

	lostAlert := ""
	if len(m.Lost) > 0 {
		lostAlert = lostAlertStyle.Render(fmt.Sprintf(" [%d LOST] ", len(m.Lost)))
	}

	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(lostAlert) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}

	return fmt.Sprintf(" %s%s%s%s", keys, strings.Repeat(" ", padding), lostAlert, refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
TEER WATCH - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  j / k             Scroll active panel

ACTIONS:
  s                 Sync now
  r                 Force refresh
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a bordered panel
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)
	contentWidth := m.Width - 4 // border and padding

	lines := strings.Split(content, "\n")
	contentHeight := height - 3 // title and border
	if contentHeight < 0 {
		contentHeight = 0
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		if lipgloss.Width(line) > contentWidth {
			lines[i] = ansi.Truncate(line, contentWidth, "...")
		}
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, strings.Join(lines, "\n"))
	return style.Width(m.Width - 2).Render(inner)
}

func describeOperation(kind models.OperationKind, payload json.RawMessage) string {
	if kind == models.OpPlaceBet {
		var req models.PlaceBetRequest
		if err := json.Unmarshal(payload, &req); err == nil {
			return fmt.Sprintf("bet %s %s on %s",
				output.FormatAmount(req.Amount, false), output.FormatRound(req.Round), output.FormatNumber(req.Number))
		}
	}
	return string(kind)
}

// formatNotice renders one lost-write notice line
func (m Model) formatNotice(lw models.LostWrite) string {
	line := fmt.Sprintf(" %s %s not placed: %s",
		lostAlertStyle.Render(" LOST "), describeOperation(lw.Kind, lw.Payload), lw.Reason)
	return ansi.Truncate(line, m.Width, "...")
}

// formatPending renders one queued operation
func (m Model) formatPending(op models.PendingOperation) string {
	desc := describeOperation(op.Kind, op.Payload)

	attempts := ""
	if op.Attempts > 0 {
		attempts = subtleStyle.Render(fmt.Sprintf("  (%d attempts)", op.Attempts))
	}

	return fmt.Sprintf("%s %s%s  %s",
		timestampStyle.Render(op.CreatedAt.Local().Format("15:04:05")),
		desc,
		attempts,
		subtleStyle.Render(shortID(op.ID)))
}

// formatHistoryItem renders one sync history row
func (m Model) formatHistoryItem(e db.SyncHistoryEntry) string {
	line := fmt.Sprintf("%s %-8s %s",
		timestampStyle.Render(e.Timestamp.Local().Format("15:04:05")),
		e.Direction,
		formatAction(e.Action))
	if e.Collection != "" {
		line += " " + titleStyle.Render(e.Collection)
	}
	if e.EntityID != "" {
		line += " " + subtleStyle.Render(shortID(e.EntityID))
	}
	if e.Detail != "" {
		line += " " + e.Detail
	}
	return line
}

// visibleItems returns how many rows fit below offset
func (m Model) visibleItems(total, offset, height int) int {
	remaining := total - offset
	if height < 0 {
		height = 0
	}
	if remaining < height {
		return remaining
	}
	return height
}

func clampOffset(offset, total int) int {
	if offset >= total {
		offset = total - 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
