package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/teer/internal/db"
)

// DefaultPollInterval is how often a Mailbox subscriber checks for messages.
const DefaultPollInterval = time.Second

// Mailbox is a Channel backed by the agent_messages table of the shared
// store. Subscribers poll from the newest id seen at subscription time.
// Delivery is by kind only; origin is recorded for diagnostics and never
// filtered on, so a process also receives what it posts itself.
type Mailbox struct {
	store    *db.DB
	origin   string
	interval time.Duration
}

// NewMailbox returns a mailbox. origin names the posting process in rows.
func NewMailbox(store *db.DB, origin string, interval time.Duration) *Mailbox {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Mailbox{store: store, origin: origin, interval: interval}
}

func (m *Mailbox) Post(ctx context.Context, kind Kind) error {
	_, err := m.store.PostAgentMessage(ctx, string(kind), m.origin)
	return err
}

func (m *Mailbox) Subscribe(ctx context.Context, kind Kind, h Handler) (func(), error) {
	cursor, err := m.store.LatestAgentMessageID(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			msgs, err := m.store.GetAgentMessages(ctx, string(kind), cursor, 100)
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("mailbox: poll", "kind", kind, "err", err)
				}
				continue
			}
			for _, row := range msgs {
				cursor = row.ID
				h(Message{Kind: Kind(row.Kind), Origin: row.Origin, SentAt: row.SentAt})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

// Close is a no-op; the store is owned by the caller.
func (m *Mailbox) Close() error { return nil }
