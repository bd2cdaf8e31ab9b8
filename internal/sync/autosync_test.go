package sync

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAutosync_ReconnectDrainsQueue(t *testing.T) {
	h := newHarness(t, Options{})
	h.placeOffline(t, 42, 50, models.Round1)

	connectivity, cancelCh := h.bus.Channel(8)
	defer cancelCh()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a := &Autosync{Coordinator: h.coord, Monitor: h.monitor, Bus: h.bus}
	go func() {
		a.Run(ctx)
		close(done)
	}()
	waitFor(t, "monitor subscription", func() bool { return h.monitor.Listeners() == 1 })

	h.monitor.Set(true)
	waitFor(t, "queue drain", func() bool { return h.pending(t) == 0 && h.coord.State() == StateIdle })

	if bets := h.srv.Bets(); len(bets) != 1 || bets[0].Number != 42 {
		t.Errorf("server bets: %+v", bets)
	}

	select {
	case e := <-connectivity:
		if e.Kind != events.KindConnectivity || e.Online == nil || !*e.Online {
			t.Errorf("first event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no connectivity event")
	}

	cancel()
	<-done
	if h.monitor.Listeners() != 0 {
		t.Error("monitor listener leaked")
	}
}

func TestAutosync_StartupSync(t *testing.T) {
	h := newHarness(t, Options{})
	h.placeOffline(t, 7, 10, models.Round2)
	h.monitor.Set(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &Autosync{Coordinator: h.coord, Monitor: h.monitor, Bus: h.bus, OnStart: true}
	go a.Run(ctx)

	waitFor(t, "startup sync", func() bool {
		r := h.coord.LastReport()
		return r != nil && r.Reason == ReasonStartup
	})
	if h.pending(t) != 0 {
		t.Errorf("pending after startup sync: %d", h.pending(t))
	}
}
