// Package wager places bets, queueing them for later delivery when the
// server cannot be reached.
package wager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/queue"
	"github.com/marcus/teer/internal/syncclient"
)

// ErrInvalidBet wraps local validation failures.
var ErrInvalidBet = errors.New("invalid bet")

// Server submits bets.
type Server interface {
	PlaceBet(ctx context.Context, req models.PlaceBetRequest) (json.RawMessage, error)
}

// Outcome describes what happened to a bet.
type Outcome struct {
	Bet models.Bet
	// Queued is set when the bet was stored for later delivery; Bet is then
	// provisional.
	Queued      bool
	OperationID string
	// Cause is the transient error that forced queueing while online.
	Cause error
}

// Placer is the bet write path.
type Placer struct {
	store   *db.DB
	queue   *queue.Queue
	server  Server
	monitor *netstatus.Monitor
	now     func() time.Time
	lastID  atomic.Int64
}

// NewPlacer returns a placer.
func NewPlacer(store *db.DB, q *queue.Queue, server Server, monitor *netstatus.Monitor) *Placer {
	return &Placer{store: store, queue: q, server: server, monitor: monitor, now: time.Now}
}

// PlaceBet submits a bet when online. Offline, or when the server is
// unreachable, the bet is queued and a provisional copy is added to the bet
// cache. A bet the server rejects is returned as an error and not queued.
func (p *Placer) PlaceBet(ctx context.Context, req models.PlaceBetRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBet, err)
	}

	var cause error
	if p.monitor.IsOnline() {
		created, err := p.server.PlaceBet(ctx, req)
		if err == nil {
			return p.accepted(ctx, created)
		}
		if syncclient.IsRejected(err) {
			return nil, err
		}
		cause = err
		slog.Debug("wager: server unreachable, queueing bet", "err", err)
	}

	return p.enqueue(ctx, req, cause)
}

func (p *Placer) accepted(ctx context.Context, created json.RawMessage) (*Outcome, error) {
	var bet models.Bet
	if err := json.Unmarshal(created, &bet); err != nil {
		return nil, fmt.Errorf("decode created bet: %w", err)
	}
	if err := p.store.Put(ctx, db.CollectionBets, created); err != nil {
		slog.Debug("wager: write through bet", "err", err)
	}
	return &Outcome{Bet: bet}, nil
}

func (p *Placer) enqueue(ctx context.Context, req models.PlaceBetRequest, cause error) (*Outcome, error) {
	op, err := p.queue.Enqueue(ctx, models.OpPlaceBet, req)
	if err != nil {
		if cause != nil {
			return nil, fmt.Errorf("%w (and could not queue: %v)", cause, err)
		}
		return nil, fmt.Errorf("queue bet: %w", err)
	}

	userID := models.AnonymousUserID
	if s, err := p.store.GetSession(ctx); err == nil {
		userID = s.UserID
	}

	bet := models.Bet{
		ID:          p.tempID(),
		UserID:      userID,
		Number:      req.Number,
		Amount:      req.Amount,
		Round:       req.Round,
		Date:        op.CreatedAt,
		PendingOpID: op.ID,
	}
	if err := db.PutJSON(ctx, p.store, db.CollectionBets, bet); err != nil {
		slog.Debug("wager: store provisional bet", "err", err)
	}

	return &Outcome{Bet: bet, Queued: true, OperationID: op.ID, Cause: cause}, nil
}

// tempID returns a negative id, distinct from every id handed out before.
func (p *Placer) tempID() int64 {
	for {
		id := -p.now().UnixMilli()
		last := p.lastID.Load()
		if last != 0 && id >= last {
			id = last - 1
		}
		if p.lastID.CompareAndSwap(last, id) {
			return id
		}
	}
}
