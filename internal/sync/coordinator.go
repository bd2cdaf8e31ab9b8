// Package sync drains the pending operation queue against the server and
// refreshes the local caches afterwards.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/marcus/teer/internal/cache"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/metrics"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/queue"
)

// DefaultMaxAttempts bounds transient retries of a single operation.
const DefaultMaxAttempts = 5

// ReplayFunc delivers one pending operation to the server. Errors are
// classified with the syncclient sentinels unless already a
// *TransientSyncError or *PermanentSyncError.
type ReplayFunc func(ctx context.Context, op models.PendingOperation) error

// Options configures a Coordinator.
type Options struct {
	Store     *db.DB
	Queue     *queue.Queue
	Replayers map[models.OperationKind]ReplayFunc
	Resources []cache.Resource

	// Monitor, when set, makes triggers fail with ErrOffline while offline.
	Monitor *netstatus.Monitor
	Bus     *events.Bus
	Metrics *metrics.Metrics

	// MaxAttempts discards an operation as lost once it has failed this many
	// times. Zero means DefaultMaxAttempts; negative means unbounded.
	MaxAttempts int

	// MarkLostReported records lost writes as already shown to the user.
	// Set it in processes that display bus events; leave it unset in the
	// background agent so the foreground picks them up later.
	MarkLostReported bool

	Now func() time.Time
}

// Coordinator runs sync sessions. At most one session runs at a time.
type Coordinator struct {
	opts  Options
	state atomic.Int32

	mu   gosync.Mutex
	last *Report
}

// New returns an idle coordinator.
func New(opts Options) *Coordinator {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Queue == nil && opts.Store != nil {
		opts.Queue = queue.New(opts.Store)
	}
	return &Coordinator{opts: opts}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// LastReport returns the report of the most recent session, or nil.
func (c *Coordinator) LastReport() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Trigger runs a sync session. A trigger that arrives while a session is
// running, here or in another process draining the same store, returns
// ErrSyncInProgress without doing anything. Once started, a
// session runs to completion even if ctx is cancelled.
func (c *Coordinator) Trigger(ctx context.Context, reason Reason) (*Report, error) {
	if c.opts.Monitor != nil && c.opts.Monitor.IsOffline() {
		return nil, ErrOffline
	}
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		c.opts.Metrics.SyncCoalesced()
		slog.Debug("sync: trigger coalesced", "reason", reason)
		return nil, ErrSyncInProgress
	}
	defer c.state.Store(int32(StateIdle))

	// The agent and foreground commands each run a Coordinator over the
	// same queue; the on-disk lock keeps them from replaying an operation
	// twice. Refresh-only sessions never touch the queue.
	if reason != ReasonBackground {
		unlock, err := c.opts.Store.LockSync()
		if err != nil {
			if errors.Is(err, db.ErrSyncLocked) {
				c.opts.Metrics.SyncCoalesced()
				slog.Debug("sync: trigger coalesced", "reason", reason, "err", err)
				return nil, ErrSyncInProgress
			}
			return nil, fmt.Errorf("sync lock: %w", err)
		}
		defer unlock()
	}

	ctx = context.WithoutCancel(ctx)
	start := c.opts.Now()
	report := &Report{
		Reason:        reason,
		StartedAt:     start,
		RefreshErrors: make(map[string]error),
	}
	c.opts.Bus.Publish(events.Event{Kind: events.KindSyncStarted, At: start})
	slog.Debug("sync: start", "reason", reason)

	var history []db.SyncHistoryEntry
	if reason != ReasonBackground {
		c.drain(ctx, report, &history)
	}
	c.refresh(ctx, report, &history)

	if len(report.Refreshed) > 0 {
		t := c.opts.Now()
		if err := c.opts.Store.SetLastSync(ctx, t); err != nil {
			slog.Warn("sync: record last sync", "err", err)
		} else {
			report.LastSync = &t
			c.opts.Metrics.SetLastSync(t)
		}
	}

	if n, err := c.opts.Queue.Count(ctx); err == nil {
		report.Remaining = n
		c.opts.Metrics.SetPending(n)
	}

	report.Outcome = OutcomeSuccess
	final := StateSuccess
	if !report.Drained() || len(report.RefreshErrors) > 0 {
		report.Outcome = OutcomePartialFailure
		final = StatePartialFailure
	}
	c.state.Store(int32(final))
	report.Duration = c.opts.Now().Sub(start)

	if err := c.opts.Store.RecordSyncHistory(ctx, history); err != nil {
		slog.Debug("sync: record history", "err", err)
	}
	c.opts.Metrics.SyncFinished(string(reason), string(report.Outcome), report.Duration)

	c.mu.Lock()
	c.last = report
	c.mu.Unlock()

	slog.Info("sync: done", "reason", reason, "outcome", report.Outcome,
		"replayed", report.Replayed, "lost", len(report.Lost), "remaining", report.Remaining)

	c.state.Store(int32(StateIdle))
	c.opts.Bus.Publish(events.Event{Kind: events.KindSyncCompleted, Sync: report.Summary()})
	return report, nil
}

// drain replays pending operations oldest first until the queue is empty or
// an operation fails transiently.
func (c *Coordinator) drain(ctx context.Context, report *Report, history *[]db.SyncHistoryEntry) {
	ops, err := c.opts.Queue.ListPending(ctx)
	if err != nil {
		report.HaltErr = fmt.Errorf("list pending: %w", err)
		slog.Warn("sync: list pending", "err", err)
		return
	}

	for _, op := range ops {
		err := c.replay(ctx, op)

		switch {
		case err == nil:
			if rmErr := c.opts.Queue.Remove(ctx, op.ID); rmErr != nil {
				report.HaltedOn = op.ID
				report.HaltErr = fmt.Errorf("remove delivered operation: %w", rmErr)
				return
			}
			report.Replayed++
			c.opts.Metrics.Replayed(string(op.Kind), metrics.ReplayAccepted)
			*history = append(*history, c.historyEntry(op, db.ActionReplayed, ""))

		case IsPermanent(err):
			if lossErr := c.loseWrite(ctx, op, op.Attempts+1, err.Error(), report, history); lossErr != nil {
				report.HaltedOn = op.ID
				report.HaltErr = lossErr
				return
			}

		default:
			attempts, incErr := c.opts.Queue.IncrementAttempts(ctx, op.ID)
			if incErr != nil {
				slog.Warn("sync: increment attempts", "op", op.ID, "err", incErr)
				attempts = op.Attempts + 1
			}
			if c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts {
				reason := fmt.Sprintf("retry limit exceeded after %d attempts: %v", attempts, errors.Unwrap(err))
				if lossErr := c.loseWrite(ctx, op, attempts, reason, report, history); lossErr != nil {
					err = lossErr
				}
			} else {
				c.opts.Metrics.Replayed(string(op.Kind), metrics.ReplayRetry)
				*history = append(*history, c.historyEntry(op, db.ActionRetry, err.Error()))
			}
			report.HaltedOn = op.ID
			report.HaltErr = err
			slog.Debug("sync: drain halted", "op", op.ID, "attempts", attempts, "err", err)
			return
		}
	}
}

func (c *Coordinator) replay(ctx context.Context, op models.PendingOperation) error {
	fn, ok := c.opts.Replayers[op.Kind]
	if !ok {
		return &PermanentSyncError{OperationID: op.ID, Err: fmt.Errorf("unknown operation kind %q", op.Kind)}
	}
	return classify(op.ID, fn(ctx, op))
}

// loseWrite discards op and reports it once. If op cannot be removed from the
// queue nothing is reported, since the next sync will meet it again.
func (c *Coordinator) loseWrite(ctx context.Context, op models.PendingOperation, attempts int, reason string, report *Report, history *[]db.SyncHistoryEntry) error {
	lw := models.LostWrite{
		ID:        op.ID,
		Kind:      op.Kind,
		Payload:   op.Payload,
		Attempts:  attempts,
		Reason:    reason,
		CreatedAt: op.CreatedAt,
		LostAt:    c.opts.Now().UTC(),
		Reported:  c.opts.MarkLostReported,
	}
	if err := c.opts.Queue.Remove(ctx, op.ID); err != nil {
		slog.Warn("sync: remove lost operation", "op", op.ID, "err", err)
		return fmt.Errorf("remove lost operation: %w", err)
	}
	// The event below still reaches this process's user if the record
	// cannot be stored.
	if err := c.opts.Store.RecordLostWrite(ctx, lw); err != nil {
		slog.Warn("sync: record lost write", "op", op.ID, "err", err)
	}
	if op.Kind == models.OpPlaceBet {
		if err := removeProvisionalBet(ctx, c.opts.Store, op.ID); err != nil {
			slog.Debug("sync: remove provisional bet", "op", op.ID, "err", err)
		}
	}

	report.Lost = append(report.Lost, lw)
	c.opts.Metrics.Replayed(string(op.Kind), metrics.ReplayLost)
	*history = append(*history, c.historyEntry(op, db.ActionLost, reason))
	slog.Warn("sync: write lost", "op", op.ID, "kind", op.Kind, "reason", reason)
	c.opts.Bus.Publish(events.Event{Kind: events.KindLostWrite, Lost: &lw})
	return nil
}

// refresh replaces each cached collection with the server's copy. A failed
// resource keeps its previous cache.
func (c *Coordinator) refresh(ctx context.Context, report *Report, history *[]db.SyncHistoryEntry) {
	for _, res := range c.opts.Resources {
		n, err := res.Refresh(ctx, c.opts.Store)
		c.opts.Metrics.Refreshed(res.Collection, err == nil)
		entry := db.SyncHistoryEntry{
			Direction:  db.DirectionRefresh,
			Collection: res.Collection,
			Timestamp:  c.opts.Now(),
		}
		if err != nil {
			report.RefreshErrors[res.Name] = err
			entry.Action = db.ActionFailed
			entry.Detail = err.Error()
			slog.Debug("sync: refresh failed", "resource", res.Name, "err", err)
		} else {
			report.Refreshed = append(report.Refreshed, res.Name)
			entry.Action = db.ActionReplaced
			entry.Detail = fmt.Sprintf("%d records", n)
		}
		*history = append(*history, entry)
	}
}

func (c *Coordinator) historyEntry(op models.PendingOperation, action, detail string) db.SyncHistoryEntry {
	return db.SyncHistoryEntry{
		Direction:  db.DirectionPush,
		Action:     action,
		Collection: string(op.Kind),
		EntityID:   op.ID,
		Detail:     detail,
		Timestamp:  c.opts.Now(),
	}
}
