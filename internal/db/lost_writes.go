package db

import (
	"context"
	"sort"

	"github.com/marcus/teer/internal/models"
)

// RecordLostWrite stores a discarded operation so it can be surfaced to the user.
func (db *DB) RecordLostWrite(ctx context.Context, lw models.LostWrite) error {
	return PutJSON(ctx, db, CollectionLostWrites, lw)
}

// ListLostWrites returns every recorded lost write, oldest first.
func (db *DB) ListLostWrites(ctx context.Context) ([]models.LostWrite, error) {
	all, err := GetAllJSON[models.LostWrite](ctx, db, CollectionLostWrites)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LostAt.Before(all[j].LostAt)
	})
	return all, nil
}

// TakeUnreportedLostWrites returns lost writes not yet shown to the user and
// marks them reported, so each one is returned at most once.
func (db *DB) TakeUnreportedLostWrites(ctx context.Context) ([]models.LostWrite, error) {
	all, err := db.ListLostWrites(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.LostWrite
	for _, lw := range all {
		if lw.Reported {
			continue
		}
		lw.Reported = true
		if err := db.RecordLostWrite(ctx, lw); err != nil {
			return out, err
		}
		out = append(out, lw)
	}
	return out, nil
}
