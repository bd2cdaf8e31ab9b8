// Package background connects the foreground CLI with the out-of-process
// sync agent. The protocol has two messages: SYNC_NOW asks the agent to
// sync, SYNC_COMPLETE tells the foreground that a sync finished.
package background

import (
	"context"
	"time"
)

// Kind is a message tag.
type Kind string

const (
	SyncNow      Kind = "SYNC_NOW"
	SyncComplete Kind = "SYNC_COMPLETE"
)

// Message is the whole payload of the protocol: a kind tag plus metadata.
type Message struct {
	Kind   Kind      `json:"type"`
	Origin string    `json:"origin,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

// Handler receives messages.
type Handler func(Message)

// Channel carries messages between processes.
type Channel interface {
	Post(ctx context.Context, kind Kind) error
	// Subscribe delivers messages of kind posted after the call. The
	// returned function stops delivery and waits for in-flight handlers.
	Subscribe(ctx context.Context, kind Kind, h Handler) (unsubscribe func(), err error)
	Close() error
}
