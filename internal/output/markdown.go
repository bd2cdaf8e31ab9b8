package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/marcus/teer/internal/models"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// IsTerminal reports whether stdin and stdout are both terminals.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderMarkdown renders markdown using Glamour with terminal-aware wrapping.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders markdown using Glamour with explicit wrapping.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(rendered, "\n"), nil
}

// LostWritesMarkdown describes discarded operations as a markdown report.
func LostWritesMarkdown(lost []models.LostWrite) string {
	if len(lost) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("# Bets not placed\n\n")
	sb.WriteString("These bets were saved while offline but the server did not accept them. ")
	sb.WriteString("No money was taken for them.\n\n")
	sb.WriteString("| Bet | Queued | Attempts | Reason |\n|---|---|---|---|\n")
	for _, lw := range lost {
		fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n",
			describeOperation(lw), lw.CreatedAt.Local().Format("2006-01-02 15:04"), lw.Attempts,
			strings.ReplaceAll(lw.Reason, "|", "/"))
	}
	return sb.String()
}

func describeOperation(lw models.LostWrite) string {
	if lw.Kind == models.OpPlaceBet {
		var req models.PlaceBetRequest
		if json.Unmarshal(lw.Payload, &req) == nil {
			return fmt.Sprintf("%02d on round %d for ₹%d", req.Number, req.Round, req.Amount)
		}
	}
	return string(lw.Kind)
}
