// Package monitor is the `teer watch` dashboard: connectivity, the pending
// queue and recent sync activity, refreshed live.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
)

// Panel represents which panel is active
type Panel int

const (
	PanelStatus Panel = iota
	PanelQueue
	PanelHistory
)

const panelCount = 3

// SyncFunc runs a manual sync and returns a one-line summary.
type SyncFunc func(ctx context.Context) (*events.SyncSummary, error)

// Model is the main Bubble Tea model for the dashboard
type Model struct {
	Store   *db.DB
	Network *netstatus.Monitor
	Sync    SyncFunc

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Status   netstatus.Status
	Pending  []models.PendingOperation
	Lost     []models.LostWrite
	History  []db.SyncHistoryEntry
	LastSync *time.Time
	Cached   map[string]int

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	Syncing      bool
	Spinner      spinner.Model
	LastRefresh  time.Time
	LastSummary  *events.SyncSummary
	Err          error

	// Notices are lost writes announced while the dashboard runs, shown
	// one line each until they expire.
	Notices []models.LostWrite

	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// noticeTTL is how long a lost-write notice stays on screen.
const noticeTTL = 15 * time.Second

// maxNotices caps the notice lines; older ones are dropped first.
const maxNotices = 3

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Status    netstatus.Status
	Pending   []models.PendingOperation
	Lost      []models.LostWrite
	History   []db.SyncHistoryEntry
	LastSync  *time.Time
	Cached    map[string]int
	Err       error
	Timestamp time.Time
}

// SyncDoneMsg reports the end of a sync started from the dashboard.
type SyncDoneMsg struct {
	Summary *events.SyncSummary
	Err     error
}

// LostWriteMsg announces one lost write.
type LostWriteMsg struct {
	Lost models.LostWrite
}

type noticeExpiredMsg struct {
	id string
}

// ForwardLostWrites sends a LostWriteMsg for every lost write published on
// bus. Pass the program's Send.
func ForwardLostWrites(bus *events.Bus, send func(tea.Msg)) (unsubscribe func()) {
	return bus.Subscribe(func(e events.Event) {
		if e.Kind == events.KindLostWrite && e.Lost != nil {
			send(LostWriteMsg{Lost: *e.Lost})
		}
	})
}

// NewModel creates a new dashboard model
func NewModel(store *db.DB, network *netstatus.Monitor, sync SyncFunc, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		Store:           store,
		Network:         network,
		Sync:            sync,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelStatus,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Status = msg.Status
		m.Pending = msg.Pending
		m.Lost = msg.Lost
		m.History = msg.History
		m.LastSync = msg.LastSync
		m.Cached = msg.Cached
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil

	case LostWriteMsg:
		m.Notices = append(m.Notices, msg.Lost)
		if len(m.Notices) > maxNotices {
			m.Notices = m.Notices[len(m.Notices)-maxNotices:]
		}
		id := msg.Lost.ID
		expire := tea.Tick(noticeTTL, func(time.Time) tea.Msg { return noticeExpiredMsg{id: id} })
		return m, tea.Batch(expire, m.fetchData())

	case noticeExpiredMsg:
		kept := m.Notices[:0:0]
		for _, lw := range m.Notices {
			if lw.ID != msg.id {
				kept = append(kept, lw)
			}
		}
		m.Notices = kept
		return m, nil

	case SyncDoneMsg:
		m.Syncing = false
		m.LastSummary = msg.Summary
		m.Err = msg.Err
		return m, m.fetchData()

	case spinner.TickMsg:
		if !m.Syncing {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % panelCount
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + panelCount - 1) % panelCount
		return m, nil

	case "1":
		m.ActivePanel = PanelStatus
		return m, nil

	case "2":
		m.ActivePanel = PanelQueue
		return m, nil

	case "3":
		m.ActivePanel = PanelHistory
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "s":
		if m.Syncing || m.Sync == nil {
			return m, nil
		}
		m.Syncing = true
		return m, tea.Batch(m.Spinner.Tick, m.runSync())

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches all data and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(context.Background(), m.Store, m.Network)
	}
}

func (m Model) runSync() tea.Cmd {
	sync := m.Sync
	return func() tea.Msg {
		summary, err := sync(context.Background())
		return SyncDoneMsg{Summary: summary, Err: err}
	}
}
