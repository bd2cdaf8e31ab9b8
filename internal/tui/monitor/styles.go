package monitor

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/teer/internal/db"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(primaryColor)

	onlineBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(successColor).
			Padding(0, 1)

	offlineBadge = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(warningColor).
			Padding(0, 1)

	lostAlertStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(errorColor)

	// History action badges
	actionStyles = map[string]lipgloss.Style{
		db.ActionReplayed: lipgloss.NewStyle().Foreground(successColor),
		db.ActionRetry:    lipgloss.NewStyle().Foreground(warningColor),
		db.ActionLost:     lipgloss.NewStyle().Foreground(errorColor),
		db.ActionReplaced: lipgloss.NewStyle().Foreground(secondaryColor),
		db.ActionFailed:   lipgloss.NewStyle().Foreground(errorColor),
	}
)

// formatAction renders a sync history action with color
func formatAction(action string) string {
	style, ok := actionStyles[action]
	if !ok {
		return action
	}
	return style.Render(action)
}

// formatConnectivity renders the online/offline badge
func formatConnectivity(online bool) string {
	if online {
		return onlineBadge.Render("ONLINE")
	}
	return offlineBadge.Render("OFFLINE")
}
