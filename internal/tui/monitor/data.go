package monitor

import (
	"context"
	"time"

	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/queue"
)

// historyLimit bounds the activity panel.
const historyLimit = 50

// cachedCollections are counted in the status panel.
var cachedCollections = []string{db.CollectionResults, db.CollectionBets, db.CollectionTransactions}

// FetchData retrieves all data needed for the dashboard. The first storage
// error is reported in Err; whatever could be read is still returned.
func FetchData(ctx context.Context, store *db.DB, network *netstatus.Monitor) RefreshDataMsg {
	msg := RefreshDataMsg{
		Status:    network.Status(),
		Cached:    make(map[string]int, len(cachedCollections)),
		Timestamp: time.Now(),
	}
	keep := func(err error) {
		if err != nil && msg.Err == nil {
			msg.Err = err
		}
	}

	pending, err := queue.New(store).ListPending(ctx)
	keep(err)
	msg.Pending = pending

	lost, err := store.ListLostWrites(ctx)
	keep(err)
	msg.Lost = lost

	history, err := store.GetSyncHistoryTail(ctx, historyLimit)
	keep(err)
	// Newest first for display.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	msg.History = history

	if s, err := store.GetSession(ctx); err == nil {
		msg.LastSync = s.LastSync
	} else {
		keep(err)
	}

	for _, c := range cachedCollections {
		if n, err := store.Count(ctx, c); err == nil {
			msg.Cached[c] = n
		}
	}

	return msg
}
