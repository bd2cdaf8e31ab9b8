package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/marcus/teer/internal/cache"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/queue"
)

// BetPlacer submits bets to the server.
type BetPlacer interface {
	PlaceBet(ctx context.Context, req models.PlaceBetRequest) (json.RawMessage, error)
}

// BetReplayer delivers queued PLACE_BET operations. On success the
// server's bet replaces the provisional one in the bet cache.
func BetReplayer(server BetPlacer, store *db.DB) ReplayFunc {
	return func(ctx context.Context, op models.PendingOperation) error {
		var req models.PlaceBetRequest
		if err := json.Unmarshal(op.Payload, &req); err != nil {
			return &PermanentSyncError{OperationID: op.ID, Err: fmt.Errorf("decode payload: %w", err)}
		}

		created, err := server.PlaceBet(ctx, req)
		if err != nil {
			return err
		}

		if err := store.Put(ctx, db.CollectionBets, created); err != nil {
			slog.Debug("sync: write through bet", "op", op.ID, "err", err)
		}
		if err := removeProvisionalBet(ctx, store, op.ID); err != nil {
			slog.Debug("sync: remove provisional bet", "op", op.ID, "err", err)
		}
		return nil
	}
}

// removeProvisionalBet deletes the provisional bet created for opID, if any.
func removeProvisionalBet(ctx context.Context, store *db.DB, opID string) error {
	bets, err := db.GetAllJSON[models.Bet](ctx, store, db.CollectionBets)
	if err != nil {
		return err
	}
	for _, b := range bets {
		if b.Provisional() && b.PendingOpID == opID {
			return store.Delete(ctx, db.CollectionBets, strconv.FormatInt(b.ID, 10))
		}
	}
	return nil
}

// KeepPendingProvisional keeps provisional bets across a refresh while their
// operation is still queued.
func KeepPendingProvisional(q *queue.Queue) cache.KeepFunc {
	return func(ctx context.Context, local []json.RawMessage) ([]json.RawMessage, error) {
		ops, err := q.ListPending(ctx)
		if err != nil {
			return nil, err
		}
		if len(ops) == 0 {
			return nil, nil
		}
		pending := make(map[string]bool, len(ops))
		for _, op := range ops {
			pending[op.ID] = true
		}

		var kept []json.RawMessage
		for _, rec := range local {
			var b models.Bet
			if err := json.Unmarshal(rec, &b); err != nil {
				continue
			}
			if b.Provisional() && pending[b.PendingOpID] {
				kept = append(kept, rec)
			}
		}
		return kept, nil
	}
}
