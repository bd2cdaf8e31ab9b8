package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/marcus/teer/internal/cache"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/queue"
	"github.com/marcus/teer/internal/syncclient"
	"github.com/marcus/teer/internal/testserver"
	"github.com/marcus/teer/internal/wager"
)

type harness struct {
	store   *db.DB
	queue   *queue.Queue
	srv     *testserver.Server
	client  *syncclient.Client
	monitor *netstatus.Monitor
	bus     *events.Bus
	coord   *Coordinator
	placer  *wager.Placer

	lost []models.LostWrite
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := db.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:   store,
		queue:   queue.New(store),
		srv:     testserver.New(t),
		monitor: netstatus.NewMonitor(false),
		bus:     events.NewBus(),
	}
	h.client = syncclient.New(h.srv.URL, "", time.Second)
	h.placer = wager.NewPlacer(store, h.queue, h.client, h.monitor)
	h.bus.Subscribe(func(e events.Event) {
		if e.Kind == events.KindLostWrite {
			h.lost = append(h.lost, *e.Lost)
		}
	})

	opts.Store = store
	opts.Queue = h.queue
	opts.Monitor = h.monitor
	opts.Bus = h.bus
	opts.MarkLostReported = true
	if opts.Replayers == nil {
		opts.Replayers = map[models.OperationKind]ReplayFunc{
			models.OpPlaceBet: BetReplayer(h.client, store),
		}
	}
	if opts.Resources == nil {
		opts.Resources = cache.ServerResources(h.client, KeepPendingProvisional(h.queue), true)
	}
	h.coord = New(opts)
	return h
}

func (h *harness) placeOffline(t *testing.T, number, amount int, round models.Round) *wager.Outcome {
	t.Helper()
	out, err := h.placer.PlaceBet(context.Background(), models.PlaceBetRequest{Number: number, Amount: amount, Round: round})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if !out.Queued {
		t.Fatalf("bet %d was not queued", number)
	}
	return out
}

func (h *harness) pending(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func (h *harness) cachedBets(t *testing.T) []models.Bet {
	t.Helper()
	bets, err := db.GetAllJSON[models.Bet](context.Background(), h.store, db.CollectionBets)
	if err != nil {
		t.Fatalf("cached bets: %v", err)
	}
	return bets
}

func TestTrigger_ReplaysOfflineBet(t *testing.T) {
	h := newHarness(t, Options{})
	h.placeOffline(t, 42, 50, models.Round1)
	if got := h.pending(t); got != 1 {
		t.Fatalf("pending before sync: got %d, want 1", got)
	}

	h.monitor.Set(true)
	report, err := h.coord.Trigger(context.Background(), ReasonReconnect)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if report.Outcome != OutcomeSuccess || report.Replayed != 1 {
		t.Errorf("report: outcome=%s replayed=%d", report.Outcome, report.Replayed)
	}
	if got := h.pending(t); got != 0 {
		t.Errorf("pending after sync: got %d, want 0", got)
	}

	bets := h.cachedBets(t)
	if len(bets) != 1 {
		t.Fatalf("cached bets: got %+v", bets)
	}
	if bets[0].Provisional() || bets[0].Number != 42 || bets[0].Amount != 50 {
		t.Errorf("cached bet: %+v", bets[0])
	}
	if report.LastSync == nil {
		t.Error("LastSync not set after successful refresh")
	}
	if h.coord.State() != StateIdle {
		t.Errorf("state after sync: %s", h.coord.State())
	}
}

func TestTrigger_ReplaysInCreationOrder(t *testing.T) {
	h := newHarness(t, Options{})
	h.placeOffline(t, 42, 10, models.Round1)
	h.placeOffline(t, 17, 10, models.Round1)
	h.placeOffline(t, 88, 10, models.Round2)

	h.monitor.Set(true)
	if _, err := h.coord.Trigger(context.Background(), ReasonManual); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	calls := h.srv.BetCalls()
	want := []int{42, 17, 88}
	if len(calls) != len(want) {
		t.Fatalf("server saw %d bets, want %d", len(calls), len(want))
	}
	for i, n := range want {
		if calls[i].Number != n {
			t.Errorf("bet %d: got number %d, want %d", i, calls[i].Number, n)
		}
	}
}

func TestTrigger_RejectedOperationIsLostOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.srv.RejectNumber(13, "Number is closed")
	out := h.placeOffline(t, 13, 10, models.Round1)
	h.placeOffline(t, 14, 10, models.Round1)

	h.monitor.Set(true)
	report, err := h.coord.Trigger(context.Background(), ReasonManual)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(report.Lost) != 1 || report.Lost[0].ID != out.OperationID {
		t.Fatalf("lost: %+v", report.Lost)
	}
	if report.Replayed != 1 || !report.Drained() {
		t.Errorf("rejection should not halt the drain: replayed=%d halted=%q", report.Replayed, report.HaltedOn)
	}
	if len(h.lost) != 1 {
		t.Fatalf("lost-write events: got %d, want 1", len(h.lost))
	}
	for _, b := range h.cachedBets(t) {
		if b.Provisional() {
			t.Errorf("provisional bet survived its lost write: %+v", b)
		}
	}

	h.srv.ResetCalls()
	if _, err := h.coord.Trigger(context.Background(), ReasonManual); err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if calls := h.srv.BetCalls(); len(calls) != 0 {
		t.Errorf("rejected operation retried: %+v", calls)
	}
	if len(h.lost) != 1 {
		t.Errorf("lost write reported again: %d events", len(h.lost))
	}

	lost, err := h.store.ListLostWrites(context.Background())
	if err != nil {
		t.Fatalf("ListLostWrites: %v", err)
	}
	if len(lost) != 1 || !lost[0].Reported {
		t.Errorf("stored lost writes: %+v", lost)
	}
}

func TestTrigger_TransientFailureHaltsDrain(t *testing.T) {
	h := newHarness(t, Options{})
	h.placeOffline(t, 1, 10, models.Round1)
	h.placeOffline(t, 2, 10, models.Round1)

	h.monitor.Set(true)
	h.srv.FailNext(1, http.StatusServiceUnavailable)
	report, err := h.coord.Trigger(context.Background(), ReasonManual)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if report.Outcome != OutcomePartialFailure || report.Drained() {
		t.Errorf("report: outcome=%s drained=%v", report.Outcome, report.Drained())
	}
	if report.Replayed != 0 || report.Remaining != 2 {
		t.Errorf("replayed=%d remaining=%d", report.Replayed, report.Remaining)
	}
	if len(h.srv.BetCalls()) != 1 {
		t.Errorf("drain continued past a transient failure")
	}

	ops, _ := h.queue.ListPending(context.Background())
	if ops[0].Attempts != 1 || ops[1].Attempts != 0 {
		t.Errorf("attempts: %d, %d", ops[0].Attempts, ops[1].Attempts)
	}
	if len(h.cachedBets(t)) != 2 {
		t.Errorf("provisional bets should be kept while queued")
	}

	report, err = h.coord.Trigger(context.Background(), ReasonManual)
	if err != nil {
		t.Fatalf("retry Trigger: %v", err)
	}
	if report.Replayed != 2 || h.pending(t) != 0 {
		t.Errorf("retry: replayed=%d pending=%d", report.Replayed, h.pending(t))
	}
}

func TestTrigger_RetryLimitLosesOperation(t *testing.T) {
	h := newHarness(t, Options{MaxAttempts: 2})
	h.placeOffline(t, 5, 10, models.Round1)
	h.monitor.Set(true)

	h.srv.FailNext(1, http.StatusBadGateway)
	if _, err := h.coord.Trigger(context.Background(), ReasonManual); err != nil {
		t.Fatal(err)
	}
	if h.pending(t) != 1 || len(h.lost) != 0 {
		t.Fatalf("first failure: pending=%d lost=%d", h.pending(t), len(h.lost))
	}

	h.srv.FailNext(1, http.StatusBadGateway)
	report, err := h.coord.Trigger(context.Background(), ReasonManual)
	if err != nil {
		t.Fatal(err)
	}
	if h.pending(t) != 0 || len(report.Lost) != 1 || len(h.lost) != 1 {
		t.Fatalf("second failure: pending=%d lost=%d events=%d", h.pending(t), len(report.Lost), len(h.lost))
	}
	if report.Lost[0].Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", report.Lost[0].Attempts)
	}
}

func TestTrigger_CoalescesConcurrentTriggers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, Options{
		Replayers: map[models.OperationKind]ReplayFunc{
			models.OpPlaceBet: func(ctx context.Context, op models.PendingOperation) error {
				close(entered)
				<-release
				return nil
			},
		},
		Resources: []cache.Resource{},
	})
	h.placeOffline(t, 9, 10, models.Round1)
	h.monitor.Set(true)

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.Trigger(context.Background(), ReasonManual)
		done <- err
	}()
	<-entered

	if h.coord.State() != StateSyncing {
		t.Errorf("state during sync: %s", h.coord.State())
	}
	if _, err := h.coord.Trigger(context.Background(), ReasonReconnect); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent trigger: got %v, want ErrSyncInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if h.pending(t) != 0 {
		t.Errorf("pending: %d", h.pending(t))
	}
}

func TestTrigger_OfflineIsRefused(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.coord.Trigger(context.Background(), ReasonManual); !errors.Is(err, ErrOffline) {
		t.Fatalf("got %v, want ErrOffline", err)
	}
}

func TestTrigger_BackgroundOnlyRefreshes(t *testing.T) {
	h := newHarness(t, Options{})
	h.placeOffline(t, 21, 10, models.Round1)
	h.srv.AddResult(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 3, 4)

	h.monitor.Set(true)
	report, err := h.coord.Trigger(context.Background(), ReasonBackground)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.srv.BetCalls()) != 0 || report.Replayed != 0 {
		t.Errorf("background sync drained the queue")
	}
	if h.pending(t) != 1 {
		t.Errorf("pending: %d", h.pending(t))
	}
	if n, _ := h.store.Count(context.Background(), db.CollectionResults); n != 1 {
		t.Errorf("results not refreshed: %d", n)
	}
	if len(h.cachedBets(t)) != 1 {
		t.Errorf("provisional bet dropped by refresh while its operation is queued")
	}
}

func TestTrigger_RefreshFailureIsPartial(t *testing.T) {
	failing := cache.Resource{
		Name:       cache.ResourceResults,
		Collection: db.CollectionResults,
		Fetch: func(ctx context.Context) ([]json.RawMessage, error) {
			return nil, errors.New("boom")
		},
	}
	h := newHarness(t, Options{Resources: []cache.Resource{failing}})
	ctx := context.Background()
	if err := h.store.Put(ctx, db.CollectionResults, json.RawMessage(`{"id":1}`)); err != nil {
		t.Fatal(err)
	}

	h.monitor.Set(true)
	report, err := h.coord.Trigger(ctx, ReasonManual)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome != OutcomePartialFailure {
		t.Errorf("outcome: %s", report.Outcome)
	}
	if names := report.FailedRefreshes(); len(names) != 1 || names[0] != cache.ResourceResults {
		t.Errorf("failed refreshes: %v", names)
	}
	if report.LastSync != nil {
		t.Error("LastSync set without any successful refresh")
	}
	if n, _ := h.store.Count(ctx, db.CollectionResults); n != 1 {
		t.Errorf("cache lost after failed refresh: %d", n)
	}
}

func TestTrigger_EmptyQueueStillRefreshes(t *testing.T) {
	h := newHarness(t, Options{})
	h.srv.AddTransaction(500, models.TransactionDeposit, "top up")
	h.monitor.Set(true)

	report, err := h.coord.Trigger(context.Background(), ReasonStartup)
	if err != nil {
		t.Fatal(err)
	}
	if report.Outcome != OutcomeSuccess || len(report.Refreshed) != 3 {
		t.Errorf("report: outcome=%s refreshed=%v", report.Outcome, report.Refreshed)
	}
	if n, _ := h.store.Count(context.Background(), db.CollectionTransactions); n != 1 {
		t.Errorf("transactions: %d", n)
	}

	history, err := h.store.GetSyncHistoryTail(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Errorf("history entries: got %d, want 3", len(history))
	}
}

func TestTrigger_UnknownKindIsLost(t *testing.T) {
	h := newHarness(t, Options{Resources: []cache.Resource{}})
	if _, err := h.queue.Enqueue(context.Background(), "CANCEL_BET", map[string]int{"id": 1}); err != nil {
		t.Fatal(err)
	}
	h.monitor.Set(true)

	report, err := h.coord.Trigger(context.Background(), ReasonManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Lost) != 1 || h.pending(t) != 0 {
		t.Errorf("lost=%d pending=%d", len(report.Lost), h.pending(t))
	}
}

func TestTrigger_PublishesLifecycleEvents(t *testing.T) {
	h := newHarness(t, Options{Resources: []cache.Resource{}})
	var kinds []events.Kind
	h.bus.Subscribe(func(e events.Event) { kinds = append(kinds, e.Kind) })
	h.monitor.Set(true)

	if _, err := h.coord.Trigger(context.Background(), ReasonManual); err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != events.KindSyncStarted || kinds[1] != events.KindSyncCompleted {
		t.Errorf("events: %v", kinds)
	}
	if last := h.coord.LastReport(); last == nil || last.Reason != ReasonManual {
		t.Errorf("LastReport: %+v", last)
	}
}

func TestTrigger_OneDrainAcrossStoreHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	srv := testserver.New(t)
	client := syncclient.New(srv.URL, "", time.Second)
	monitor := netstatus.NewMonitor(true)

	open := func() *db.DB {
		store, err := db.Open(ctx, dir)
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	}
	agentStore, cliStore := open(), open()

	req := models.PlaceBetRequest{Number: 42, Amount: 50, Round: models.Round1}
	if _, err := queue.New(agentStore).Enqueue(ctx, models.OpPlaceBet, req); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	replay := BetReplayer(client, agentStore)
	agent := New(Options{
		Store:   agentStore,
		Monitor: monitor,
		Replayers: map[models.OperationKind]ReplayFunc{
			models.OpPlaceBet: func(ctx context.Context, op models.PendingOperation) error {
				close(entered)
				<-release
				return replay(ctx, op)
			},
		},
		Resources: []cache.Resource{},
	})
	cli := New(Options{
		Store:   cliStore,
		Monitor: monitor,
		Replayers: map[models.OperationKind]ReplayFunc{
			models.OpPlaceBet: BetReplayer(client, cliStore),
		},
		Resources: []cache.Resource{},
	})

	done := make(chan error, 1)
	go func() {
		_, err := agent.Trigger(ctx, ReasonInterval)
		done <- err
	}()
	<-entered

	if _, err := cli.Trigger(ctx, ReasonManual); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("trigger from second handle: got %v, want ErrSyncInProgress", err)
	}
	if cli.State() != StateIdle {
		t.Errorf("refused coordinator state: %s", cli.State())
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("agent trigger: %v", err)
	}
	if calls := srv.BetCalls(); len(calls) != 1 {
		t.Fatalf("server bet calls: got %d, want 1", len(calls))
	}

	report, err := cli.Trigger(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("trigger after release: %v", err)
	}
	if report.Replayed != 0 {
		t.Errorf("replayed after agent drained: %d", report.Replayed)
	}
	if calls := srv.BetCalls(); len(calls) != 1 {
		t.Errorf("server bet calls after second sync: got %d, want 1", len(calls))
	}
}
