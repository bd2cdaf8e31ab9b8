// Package output provides styled terminal output helpers (success, error,
// warning, bet and result formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	numberStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	bannerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1)
)

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeInvalidInput       = "invalid_input"
	ErrCodeRejected           = "rejected"
	ErrCodeOffline            = "offline"
	ErrCodeSyncInProgress     = "sync_in_progress"
	ErrCodeStorageUnavailable = "storage_unavailable"
	ErrCodeServerUnavailable  = "server_unavailable"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatNumber renders a teer number as two digits.
func FormatNumber(n int) string {
	return numberStyle.Render(fmt.Sprintf("%02d", n))
}

// FormatRound formats a round as "R1" or "R2".
func FormatRound(r models.Round) string {
	return fmt.Sprintf("R%d", int(r))
}

// FormatAmount formats a rupee amount, signed when signed is true.
func FormatAmount(amount int, signed bool) string {
	if signed && amount > 0 {
		return fmt.Sprintf("+₹%d", amount)
	}
	if amount < 0 {
		return fmt.Sprintf("-₹%d", -amount)
	}
	return fmt.Sprintf("₹%d", amount)
}

// FormatResultLine formats a day's result, with "--" for rounds not drawn yet.
func FormatResultLine(r models.Result) string {
	round := func(v *int) string {
		if v == nil {
			return subtleStyle.Render("--")
		}
		return FormatNumber(*v)
	}
	return fmt.Sprintf("%s  R1 %s  R2 %s", r.Date.Format("2006-01-02"), round(r.Round1), round(r.Round2))
}

// BetStatus describes a bet: pending sync, open, won or lost.
func BetStatus(b models.Bet) string {
	switch {
	case b.Provisional():
		return "pending sync"
	case b.IsWin == nil:
		return "open"
	case *b.IsWin:
		return "won"
	default:
		return "lost"
	}
}

// FormatBetStatus renders BetStatus with color.
func FormatBetStatus(b models.Bet) string {
	s := fmt.Sprintf("[%s]", BetStatus(b))
	switch BetStatus(b) {
	case "pending sync":
		return pendingStyle.Render(s)
	case "won":
		return successStyle.Render(s)
	case "lost":
		return subtleStyle.Render(s)
	default:
		return s
	}
}

// FormatBetShort formats a bet on one line.
func FormatBetShort(b models.Bet) string {
	id := fmt.Sprintf("#%d", b.ID)
	if b.Provisional() {
		id = "#local"
	}
	parts := []string{
		titleStyle.Render(id),
		FormatNumber(b.Number),
		FormatRound(b.Round),
		FormatAmount(b.Amount, false),
		subtleStyle.Render(b.Date.Local().Format("2006-01-02 15:04")),
		FormatBetStatus(b),
	}
	if b.IsWin != nil && *b.IsWin && b.WinAmount != nil {
		parts = append(parts, successStyle.Render(FormatAmount(*b.WinAmount, true)))
	}
	return strings.Join(parts, "  ")
}

// FormatTransactionLine formats a ledger entry on one line.
func FormatTransactionLine(tx models.Transaction) string {
	amount := FormatAmount(tx.Amount, true)
	if tx.Amount < 0 {
		amount = errorStyle.Render(amount)
	} else {
		amount = successStyle.Render(amount)
	}
	desc := ""
	if tx.Description != nil {
		desc = *tx.Description
	}
	return strings.TrimRight(fmt.Sprintf("%s  %-8s  %s  %s",
		subtleStyle.Render(tx.Date.Local().Format("2006-01-02 15:04")), tx.Type, amount, desc), " ")
}

// OfflineBanner returns the banner shown above data that did not come from
// the server, or "" for live data.
func OfflineBanner(offline, stale bool, lastSync *time.Time) string {
	var msg string
	switch {
	case offline:
		msg = "OFFLINE"
	case stale:
		msg = "SERVER UNREACHABLE"
	default:
		return ""
	}
	msg += " · showing saved data, last synced " + FormatLastSync(lastSync)
	return bannerStyle.Render(msg)
}

// FormatLastSync formats a last-sync time, "never" when nil.
func FormatLastSync(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return FormatTimeAgo(*t)
}

// FormatSyncSummary formats a finished sync session on one line.
func FormatSyncSummary(s *events.SyncSummary) string {
	if s == nil {
		return ""
	}
	style := successStyle
	if s.Outcome != "success" {
		style = warningStyle
	}
	line := fmt.Sprintf("%s (%s): %d replayed, %d pending, %d lost",
		style.Render(s.Outcome), s.Reason, s.Replayed, s.Remaining, s.Lost)
	if len(s.RefreshErrors) > 0 {
		names := make([]string, 0, len(s.RefreshErrors))
		for name := range s.RefreshErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		line += "; refresh failed: " + strings.Join(names, ", ")
	}
	return line
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}
