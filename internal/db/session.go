package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/teer/internal/models"
)

// GetSession returns the sync session metadata. A missing record (possible
// only if someone deleted it by hand) reads as a fresh anonymous session.
func (db *DB) GetSession(ctx context.Context) (*models.Session, error) {
	data, err := db.Get(ctx, CollectionSession, models.SessionID)
	if errors.Is(err, ErrNotFound) {
		return &models.Session{ID: models.SessionID, UserID: models.AnonymousUserID}, nil
	}
	if err != nil {
		return nil, err
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// SetLastSync records the time of the last successful refresh.
func (db *DB) SetLastSync(ctx context.Context, t time.Time) error {
	s, err := db.GetSession(ctx)
	if err != nil {
		return err
	}
	t = t.UTC()
	s.LastSync = &t
	return PutJSON(ctx, db, CollectionSession, s)
}

// SetSessionUser records the logged-in user, or models.AnonymousUserID.
func (db *DB) SetSessionUser(ctx context.Context, userID int64) error {
	s, err := db.GetSession(ctx)
	if err != nil {
		return err
	}
	s.UserID = userID
	return PutJSON(ctx, db, CollectionSession, s)
}
