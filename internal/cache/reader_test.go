package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/syncclient"
	"github.com/marcus/teer/internal/testserver"
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

func newReader(t *testing.T, store *db.DB, online bool) (*Reader, *testserver.Server, *netstatus.Monitor) {
	t.Helper()
	srv := testserver.New(t)
	m := netstatus.NewMonitor(online)
	client := syncclient.New(srv.URL, "", time.Second)
	return NewReader(store, m, ServerResources(client, nil, true)), srv, m
}

func TestRead_OnlineWritesThrough(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r, srv, _ := newReader(t, store, true)
	srv.AddResult(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 17, 83)

	res, err := r.Read(ctx, ResourceResults, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Source != SourceLive || res.FromCache() {
		t.Errorf("source: got %s", res.Source)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records: got %d, want 1", len(res.Records))
	}
	if res.LastSync == nil {
		t.Error("live read should stamp last sync")
	}

	cached, err := store.GetAll(ctx, db.CollectionResults)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(cached) != 1 {
		t.Errorf("cache not written through: %d records", len(cached))
	}
	s, _ := store.GetSession(ctx)
	if s.LastSync == nil {
		t.Error("session lastSync not set")
	}
}

func TestRead_OfflineServesCacheWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r, srv, _ := newReader(t, store, false)
	if err := store.Put(ctx, db.CollectionResults, json.RawMessage(`{"id":1,"round1":5,"round2":null}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	res, err := r.Read(ctx, ResourceResults, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Source != SourceCache || res.Stale {
		t.Errorf("got source=%s stale=%v", res.Source, res.Stale)
	}
	if len(res.Records) != 1 {
		t.Errorf("records: got %d", len(res.Records))
	}
	if len(srv.Calls()) != 0 {
		t.Errorf("offline read hit the network")
	}
}

func TestRead_FetchFailureServesStaleCache(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r, srv, _ := newReader(t, store, true)
	if err := store.Put(ctx, db.CollectionBets, json.RawMessage(`{"id":4,"userId":1,"number":9}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	srv.SetDown(true)

	res, err := r.Read(ctx, ResourceBets, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Source != SourceCache || !res.Stale {
		t.Errorf("got source=%s stale=%v", res.Source, res.Stale)
	}
	if !errors.Is(res.FetchErr, syncclient.ErrUnavailable) {
		t.Errorf("FetchErr: got %v", res.FetchErr)
	}
	if len(res.Records) != 1 {
		t.Errorf("records: got %d", len(res.Records))
	}
}

func TestRead_SupersededFetchServesCache(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	m := netstatus.NewMonitor(true)
	if err := store.Put(ctx, db.CollectionResults, json.RawMessage(`{"id":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	res := Resource{
		Name:       ResourceResults,
		Collection: db.CollectionResults,
		Fetch: func(ctx context.Context) ([]json.RawMessage, error) {
			m.Set(false)
			return []json.RawMessage{json.RawMessage(`{"id":2}`), json.RawMessage(`{"id":3}`)}, nil
		},
	}
	r := NewReader(store, m, []Resource{res})

	out, err := r.Read(ctx, ResourceResults, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.Source != SourceCache {
		t.Errorf("source: got %s, want cache", out.Source)
	}
	if len(out.Records) != 1 {
		t.Errorf("superseded fetch was applied: %d records", len(out.Records))
	}
}

func TestRead_ByUser(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r, _, _ := newReader(t, store, false)
	for _, rec := range []string{
		`{"id":1,"userId":1,"number":1}`,
		`{"id":2,"userId":2,"number":2}`,
		`{"id":3,"userId":1,"number":3}`,
		`{"id":4,"number":4}`,
	} {
		if err := store.Put(ctx, db.CollectionBets, json.RawMessage(rec)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	res, err := r.Read(ctx, ResourceBets, ByUser(1))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	bets, err := Decode[models.Bet](res)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(bets) != 2 || bets[0].ID != 1 || bets[1].ID != 3 {
		t.Errorf("filtered bets: %+v", bets)
	}
}

func TestRead_StorageUnavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := db.New(dir)
	t.Cleanup(func() { store.Close() })
	r, _, _ := newReader(t, store, false)

	res, err := r.Read(context.Background(), ResourceResults, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Source != SourceNone {
		t.Errorf("source: got %s, want none", res.Source)
	}
	if !db.IsStorageUnavailable(res.StorageErr) {
		t.Errorf("StorageErr: got %v", res.StorageErr)
	}
	if res.Records == nil || len(res.Records) != 0 {
		t.Errorf("records: got %v, want empty", res.Records)
	}
}

func TestRead_UnknownResource(t *testing.T) {
	r, _, _ := newReader(t, openStore(t), true)
	if _, err := r.Read(context.Background(), "wallets", nil); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
}

func TestRefresh_KeepsSelectedLocalRecords(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	for _, rec := range []string{`{"id":-5,"pendingOpId":"op"}`, `{"id":8}`} {
		if err := store.Put(ctx, db.CollectionBets, json.RawMessage(rec)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	res := Resource{
		Name:       ResourceBets,
		Collection: db.CollectionBets,
		Fetch: func(ctx context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{json.RawMessage(`{"id":1}`)}, nil
		},
		Keep: func(ctx context.Context, local []json.RawMessage) ([]json.RawMessage, error) {
			var kept []json.RawMessage
			for _, rec := range local {
				var b models.Bet
				if json.Unmarshal(rec, &b) == nil && b.Provisional() {
					kept = append(kept, rec)
				}
			}
			return kept, nil
		},
	}

	n, err := res.Refresh(ctx, store)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 {
		t.Errorf("refreshed count: got %d, want 1", n)
	}
	bets, _ := db.GetAllJSON[models.Bet](ctx, store, db.CollectionBets)
	if len(bets) != 2 || bets[0].ID != 1 || bets[1].ID != -5 {
		t.Errorf("bets after refresh: %+v", bets)
	}
}

func TestRefresh_FetchFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.Put(ctx, db.CollectionResults, json.RawMessage(`{"id":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	boom := errors.New("boom")
	res := Resource{
		Name:       ResourceResults,
		Collection: db.CollectionResults,
		Fetch:      func(ctx context.Context) ([]json.RawMessage, error) { return nil, boom },
	}
	if _, err := res.Refresh(ctx, store); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n, _ := store.Count(ctx, db.CollectionResults); n != 1 {
		t.Errorf("cache changed after failed fetch: %d", n)
	}
}

func sameRecords(a, b []json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func TestRead_OfflineIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r, _, _ := newReader(t, store, false)
	for _, rec := range []string{`{"id":1,"userId":1,"number":7}`, `{"id":2,"userId":1,"number":70}`} {
		if err := store.Put(ctx, db.CollectionBets, json.RawMessage(rec)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	first, err := r.Read(ctx, ResourceBets, nil)
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	second, err := r.Read(ctx, ResourceBets, nil)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if len(first.Records) != 2 {
		t.Fatalf("records: got %d, want 2", len(first.Records))
	}
	if !sameRecords(first.Records, second.Records) {
		t.Errorf("offline reads differ:\n%s\n%s", first.Records, second.Records)
	}
}

func TestRead_OnlineThenOfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	r, srv, m := newReader(t, store, true)
	srv.AddResult(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 17, 83)
	srv.AddResult(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 4, 61)

	live, err := r.Read(ctx, ResourceResults, nil)
	if err != nil {
		t.Fatalf("online Read: %v", err)
	}
	if live.Source != SourceLive || len(live.Records) != 2 {
		t.Fatalf("online read: source=%s records=%d", live.Source, len(live.Records))
	}

	m.Set(false)
	cached, err := r.Read(ctx, ResourceResults, nil)
	if err != nil {
		t.Fatalf("offline Read: %v", err)
	}
	if cached.Source != SourceCache {
		t.Errorf("source: got %s, want cache", cached.Source)
	}
	if !sameRecords(live.Records, cached.Records) {
		t.Errorf("cached records differ from fetched:\n%s\n%s", live.Records, cached.Records)
	}
}

func TestUserResource_SetsSessionUser(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	srv := testserver.New(t)
	srv.UserID = 42
	srv.SetBalance(350)
	m := netstatus.NewMonitor(true)
	client := syncclient.New(srv.URL, "", time.Second)
	r := NewReader(store, m, []Resource{UserResource(client)})

	if _, err := r.Read(ctx, ResourceUser, nil); err != nil {
		t.Fatalf("online Read: %v", err)
	}
	s, err := store.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.UserID != 42 {
		t.Errorf("session user: got %d, want 42", s.UserID)
	}

	m.Set(false)
	res, err := r.Read(ctx, ResourceUser, nil)
	if err != nil {
		t.Fatalf("offline Read: %v", err)
	}
	users, err := Decode[models.User](res)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(users) != 1 || users[0].ID != 42 || users[0].Balance != 350 {
		t.Errorf("cached user: %+v", users)
	}
}

func TestUserResource_FetchFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.SetSessionUser(ctx, 7); err != nil {
		t.Fatalf("SetSessionUser: %v", err)
	}
	srv := testserver.New(t)
	srv.APIKey = "secret"
	client := syncclient.New(srv.URL, "wrong", time.Second)

	if _, err := UserResource(client).Refresh(ctx, store); !errors.Is(err, syncclient.ErrUnauthorized) {
		t.Fatalf("Refresh: got %v, want ErrUnauthorized", err)
	}
	s, _ := store.GetSession(ctx)
	if s.UserID != 7 {
		t.Errorf("session user changed on failed fetch: %d", s.UserID)
	}
	if n, _ := store.Count(ctx, db.CollectionUsers); n != 0 {
		t.Errorf("users cached after failed fetch: %d", n)
	}
}
