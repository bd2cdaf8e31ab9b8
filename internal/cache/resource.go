// Package cache serves reads from the server when online and from the local
// store otherwise, keeping the store current on every live read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
)

// FetchFunc loads the authoritative copy of a resource from the server.
type FetchFunc func(ctx context.Context) ([]json.RawMessage, error)

// KeepFunc selects local records that must survive a refresh, such as
// provisional records whose server write is still pending.
type KeepFunc func(ctx context.Context, local []json.RawMessage) ([]json.RawMessage, error)

// AppliedFunc runs after a refresh has replaced the local collection.
type AppliedFunc func(ctx context.Context, store *db.DB, records []json.RawMessage) error

// Resource is a server collection mirrored into a local collection.
type Resource struct {
	Name       string
	Collection string
	Fetch      FetchFunc
	Keep       KeepFunc
	Applied    AppliedFunc
}

// Apply replaces the local collection with fetched plus any kept local
// records, and returns what was stored.
func (r Resource) Apply(ctx context.Context, store *db.DB, fetched []json.RawMessage) ([]json.RawMessage, error) {
	records := fetched
	if r.Keep != nil {
		local, err := store.GetAll(ctx, r.Collection)
		if err != nil {
			return nil, fmt.Errorf("load local %s: %w", r.Collection, err)
		}
		kept, err := r.Keep(ctx, local)
		if err != nil {
			return nil, fmt.Errorf("select kept %s: %w", r.Collection, err)
		}
		records = append(append([]json.RawMessage{}, fetched...), kept...)
	}
	if err := store.Replace(ctx, r.Collection, records); err != nil {
		return nil, err
	}
	if r.Applied != nil {
		if err := r.Applied(ctx, store, records); err != nil {
			return nil, fmt.Errorf("after refresh of %s: %w", r.Collection, err)
		}
	}
	return records, nil
}

// Refresh fetches the resource and applies it. A failed fetch leaves the
// local collection untouched. Returns the number of server records.
func (r Resource) Refresh(ctx context.Context, store *db.DB) (int, error) {
	fetched, err := r.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", r.Name, err)
	}
	if _, err := r.Apply(ctx, store, fetched); err != nil {
		return 0, err
	}
	return len(fetched), nil
}

// Resource names
const (
	ResourceResults      = "results"
	ResourceBets         = "bets"
	ResourceTransactions = "transactions"
	ResourceUser         = "user"
)

// Server is the read side of the betting API.
type Server interface {
	FetchResults(ctx context.Context) ([]json.RawMessage, error)
	FetchBets(ctx context.Context) ([]json.RawMessage, error)
	FetchTransactions(ctx context.Context) ([]json.RawMessage, error)
}

// ServerResources returns the mirrored resources in refresh order.
// keepBets may be nil. Transactions are mirrored only when withTransactions
// is set, since not every deployment caches the wallet ledger.
func ServerResources(s Server, keepBets KeepFunc, withTransactions bool) []Resource {
	res := []Resource{
		{Name: ResourceResults, Collection: db.CollectionResults, Fetch: s.FetchResults},
		{Name: ResourceBets, Collection: db.CollectionBets, Fetch: s.FetchBets, Keep: keepBets},
	}
	if withTransactions {
		res = append(res, Resource{Name: ResourceTransactions, Collection: db.CollectionTransactions, Fetch: s.FetchTransactions})
	}
	return res
}

// UserServer fetches the logged-in account.
type UserServer interface {
	FetchUser(ctx context.Context) (json.RawMessage, error)
}

// UserResource mirrors the logged-in account into the users collection and
// points the session at it. Only add it for authenticated clients; the
// server answers 401 otherwise.
func UserResource(s UserServer) Resource {
	return Resource{
		Name:       ResourceUser,
		Collection: db.CollectionUsers,
		Fetch: func(ctx context.Context) ([]json.RawMessage, error) {
			user, err := s.FetchUser(ctx)
			if err != nil {
				return nil, err
			}
			return []json.RawMessage{user}, nil
		},
		Applied: setSessionUser,
	}
}

func setSessionUser(ctx context.Context, store *db.DB, records []json.RawMessage) error {
	for _, raw := range records {
		var u models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		if u.ID > 0 {
			return store.SetSessionUser(ctx, u.ID)
		}
	}
	return nil
}
