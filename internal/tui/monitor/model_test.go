package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/queue"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFetchData(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	q := queue.New(store)
	for _, n := range []int{42, 17} {
		if _, err := q.Enqueue(ctx, models.OpPlaceBet, models.PlaceBetRequest{Number: n, Amount: 10, Round: models.Round1}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := store.RecordSyncHistory(ctx, []db.SyncHistoryEntry{
		{Direction: db.DirectionPush, Action: db.ActionRetry, EntityID: "a"},
		{Direction: db.DirectionRefresh, Action: db.ActionReplaced, Collection: db.CollectionResults},
	}); err != nil {
		t.Fatalf("record history: %v", err)
	}

	msg := FetchData(ctx, store, netstatus.NewMonitor(false))
	if msg.Err != nil {
		t.Fatalf("unexpected error: %v", msg.Err)
	}
	if msg.Status.Online {
		t.Error("expected offline status")
	}
	if len(msg.Pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(msg.Pending))
	}
	if len(msg.History) != 2 {
		t.Fatalf("history = %d, want 2", len(msg.History))
	}
	if msg.History[0].Action != db.ActionReplaced {
		t.Errorf("history not newest first: %+v", msg.History)
	}
}

func TestUpdate_PanelNavigation(t *testing.T) {
	m := NewModel(nil, netstatus.NewMonitor(true), nil, time.Second)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.ActivePanel != PanelQueue {
		t.Errorf("after tab = %v, want PanelQueue", m.ActivePanel)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m = next.(Model)
	if m.ActivePanel != PanelHistory {
		t.Errorf("after shift+tab twice = %v, want PanelHistory", m.ActivePanel)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = next.(Model)
	if m.ScrollOffset[PanelHistory] != 0 {
		t.Errorf("scroll went negative: %d", m.ScrollOffset[PanelHistory])
	}
}

func TestUpdate_SyncKey(t *testing.T) {
	calls := 0
	sync := func(ctx context.Context) (*events.SyncSummary, error) {
		calls++
		return &events.SyncSummary{Reason: "manual", Outcome: "ok", Replayed: 1}, nil
	}
	m := NewModel(nil, netstatus.NewMonitor(true), sync, time.Second)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = next.(Model)
	if !m.Syncing || cmd == nil {
		t.Fatal("expected sync to start")
	}

	// A second press while syncing is ignored.
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m = next.(Model)
	if cmd != nil {
		t.Error("expected no command while syncing")
	}

	next, _ = m.Update(SyncDoneMsg{Summary: &events.SyncSummary{Outcome: "ok"}})
	m = next.(Model)
	if m.Syncing {
		t.Error("expected syncing to end")
	}
	if m.LastSummary == nil {
		t.Error("expected summary to be kept")
	}
	if calls != 0 {
		t.Errorf("sync ran synchronously %d times", calls)
	}
}

func TestView(t *testing.T) {
	m := NewModel(nil, netstatus.NewMonitor(false), nil, time.Second)
	if got := m.View(); got != "Loading..." {
		t.Errorf("View before size = %q", got)
	}

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	next, _ = m.Update(RefreshDataMsg{
		Pending: []models.PendingOperation{{
			ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
			Kind:      models.OpPlaceBet,
			Payload:   []byte(`{"number":7,"amount":20,"round":2}`),
			CreatedAt: time.Now(),
			Attempts:  2,
		}},
		Lost:      []models.LostWrite{{ID: "x"}},
		Timestamp: time.Now(),
	})
	m = next.(Model)

	view := m.View()
	for _, want := range []string{"OFFLINE", "QUEUE (1)", "07", "2 attempts", "1 LOST", "No sync activity yet"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	next, _ = m.Update(RefreshDataMsg{Err: errors.New("storage unavailable"), Timestamp: time.Now()})
	m = next.(Model)
	if !strings.Contains(m.View(), "storage unavailable") {
		t.Error("expected error in status panel")
	}
}

func TestView_Compact(t *testing.T) {
	m := NewModel(nil, netstatus.NewMonitor(true), nil, time.Second)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 30, Height: 10})
	m = next.(Model)
	if !strings.Contains(m.View(), "resize for full view") {
		t.Error("expected compact view")
	}
}

func TestLostWriteNotice(t *testing.T) {
	bus := events.NewBus()
	var sent []tea.Msg
	unsubscribe := ForwardLostWrites(bus, func(msg tea.Msg) { sent = append(sent, msg) })

	lw := models.LostWrite{
		ID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
		Kind:    models.OpPlaceBet,
		Payload: []byte(`{"number":66,"amount":10,"round":2}`),
		Reason:  "Number is closed",
	}
	bus.Publish(events.Event{Kind: events.KindSyncCompleted})
	bus.Publish(events.Event{Kind: events.KindLostWrite, Lost: &lw})
	unsubscribe()
	bus.Publish(events.Event{Kind: events.KindLostWrite, Lost: &lw})
	if len(sent) != 1 {
		t.Fatalf("forwarded %d messages, want 1", len(sent))
	}

	m := NewModel(nil, netstatus.NewMonitor(true), nil, time.Second)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = next.(Model)
	next, cmd := m.Update(sent[0])
	m = next.(Model)
	if cmd == nil {
		t.Error("expected expiry and refresh commands")
	}
	view := m.View()
	for _, want := range []string{"LOST", "66", "Number is closed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	next, _ = m.Update(noticeExpiredMsg{id: lw.ID})
	m = next.(Model)
	if len(m.Notices) != 0 {
		t.Errorf("notice kept after expiry: %+v", m.Notices)
	}
	if strings.Contains(m.View(), "Number is closed") {
		t.Error("expired notice still rendered")
	}
}

func TestLostWriteNotice_Capped(t *testing.T) {
	m := NewModel(nil, netstatus.NewMonitor(true), nil, time.Second)
	for i := 0; i < maxNotices+2; i++ {
		next, _ := m.Update(LostWriteMsg{Lost: models.LostWrite{ID: fmt.Sprintf("op-%d", i), Kind: models.OpPlaceBet}})
		m = next.(Model)
	}
	if len(m.Notices) != maxNotices {
		t.Fatalf("notices: got %d, want %d", len(m.Notices), maxNotices)
	}
	if m.Notices[0].ID != "op-2" {
		t.Errorf("oldest kept notice = %s, want op-2", m.Notices[0].ID)
	}
}
