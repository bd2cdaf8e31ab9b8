package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/netstatus"
)

// ErrUnknownResource is returned for a resource the reader does not serve.
var ErrUnknownResource = errors.New("unknown resource")

// Source says where a read was served from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
	// SourceNone means offline with no usable local store.
	SourceNone Source = "none"
)

// Filter selects records. A nil filter keeps everything.
type Filter func(json.RawMessage) bool

// ByUser keeps records whose userId matches.
func ByUser(userID int64) Filter {
	return func(rec json.RawMessage) bool {
		var v struct {
			UserID *int64 `json:"userId"`
		}
		if json.Unmarshal(rec, &v) != nil || v.UserID == nil {
			return false
		}
		return *v.UserID == userID
	}
}

// Result is the outcome of a read.
type Result struct {
	Resource string
	Records  []json.RawMessage
	Source   Source
	// Stale is set when a live fetch failed and cached data was served instead.
	Stale    bool
	FetchErr error
	// StorageErr is set when the local store could not be used.
	StorageErr error
	LastSync   *time.Time
}

// FromCache reports whether the data did not come from the server.
func (r *Result) FromCache() bool {
	return r.Source != SourceLive
}

// Decode decodes the records of a result.
func Decode[T any](r *Result) ([]T, error) {
	return db.DecodeAll[T](r.Records)
}

// Reader is the cache-aware read path.
type Reader struct {
	store     *db.DB
	monitor   *netstatus.Monitor
	resources map[string]Resource
	now       func() time.Time
}

// NewReader serves the given resources.
func NewReader(store *db.DB, monitor *netstatus.Monitor, resources []Resource) *Reader {
	m := make(map[string]Resource, len(resources))
	for _, r := range resources {
		m[r.Name] = r
	}
	return &Reader{store: store, monitor: monitor, resources: m, now: time.Now}
}

// Read returns a resource. Online it fetches from the server and writes the
// result through to the store; if that fetch fails it serves the cache
// marked stale. Offline it serves the cache without touching the network.
// A fetch that completes after the device went offline is discarded.
func (r *Reader) Read(ctx context.Context, name string, filter Filter) (*Result, error) {
	res, ok := r.resources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}

	var fetchErr error
	if r.monitor.IsOnline() {
		gen := r.monitor.Generation()
		fetched, err := res.Fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fetchErr = err
			slog.Debug("cache: live fetch failed, serving cache", "resource", name, "err", err)
		case r.monitor.Generation() != gen && r.monitor.IsOffline():
			slog.Debug("cache: live fetch superseded by offline transition", "resource", name)
		default:
			return r.writeThrough(ctx, res, fetched, filter), nil
		}
	}

	return r.readCache(ctx, res, filter, fetchErr)
}

func (r *Reader) writeThrough(ctx context.Context, res Resource, fetched []json.RawMessage, filter Filter) *Result {
	out := &Result{Resource: res.Name, Source: SourceLive}

	stored, err := res.Apply(ctx, r.store, fetched)
	if err != nil {
		// Serve live data even when it cannot be cached.
		out.StorageErr = err
		out.Records = apply(fetched, filter)
		slog.Debug("cache: write through failed", "resource", res.Name, "err", err)
		return out
	}
	out.Records = apply(stored, filter)

	t := r.now()
	if err := r.store.SetLastSync(ctx, t); err != nil {
		slog.Debug("cache: stamp last sync", "err", err)
	} else {
		out.LastSync = &t
	}
	return out
}

func (r *Reader) readCache(ctx context.Context, res Resource, filter Filter, fetchErr error) (*Result, error) {
	out := &Result{Resource: res.Name, Source: SourceCache, Stale: fetchErr != nil, FetchErr: fetchErr}

	records, err := r.store.GetAll(ctx, res.Collection)
	if err != nil {
		if db.IsStorageUnavailable(err) {
			out.Source = SourceNone
			out.StorageErr = err
			out.Records = []json.RawMessage{}
			return out, nil
		}
		return nil, err
	}
	out.Records = apply(records, filter)

	if s, err := r.store.GetSession(ctx); err == nil {
		out.LastSync = s.LastSync
	}
	return out, nil
}

func apply(records []json.RawMessage, filter Filter) []json.RawMessage {
	if filter == nil {
		return records
	}
	out := []json.RawMessage{}
	for _, rec := range records {
		if filter(rec) {
			out = append(out, rec)
		}
	}
	return out
}
