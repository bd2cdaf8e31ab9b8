// Package queue persists server writes that could not be delivered yet.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/models"
)

// seq breaks ties between operations created in the same instant.
var seq atomic.Int64

func init() {
	seq.Store(time.Now().UnixNano())
}

// Queue is the pending operation queue, stored in the pending_ops collection.
type Queue struct {
	store *db.DB
	now   func() time.Time
}

// New returns a queue backed by store.
func New(store *db.DB) *Queue {
	return &Queue{store: store, now: time.Now}
}

// Enqueue records an operation for later delivery. It never consults
// connectivity; the only failure is local storage.
func (q *Queue) Enqueue(ctx context.Context, kind models.OperationKind, payload any) (*models.PendingOperation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	op := &models.PendingOperation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: q.now().UTC(),
		Attempts:  0,
		Seq:       seq.Add(1),
	}
	if err := db.PutJSON(ctx, q.store, db.CollectionPendingOps, op); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return op, nil
}

// ListPending returns every pending operation, oldest first.
func (q *Queue) ListPending(ctx context.Context) ([]models.PendingOperation, error) {
	ops, err := db.GetAllJSON[models.PendingOperation](ctx, q.store, db.CollectionPendingOps)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].Seq < ops[j].Seq
	})
	return ops, nil
}

// Remove deletes an operation. Removing an unknown id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.Delete(ctx, db.CollectionPendingOps, id)
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (q *Queue) IncrementAttempts(ctx context.Context, id string) (int, error) {
	raw, err := q.store.Get(ctx, db.CollectionPendingOps, id)
	if err != nil {
		return 0, err
	}
	var op models.PendingOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return 0, fmt.Errorf("decode operation %s: %w", id, err)
	}
	op.Attempts++
	if err := db.PutJSON(ctx, q.store, db.CollectionPendingOps, op); err != nil {
		return 0, err
	}
	return op.Attempts, nil
}

// Count returns the number of pending operations.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return q.store.Count(ctx, db.CollectionPendingOps)
}
