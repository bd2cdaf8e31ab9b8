package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Round identifies one of the two daily draws.
type Round int

const (
	Round1 Round = 1
	Round2 Round = 2
)

// Valid reports whether r is a known round.
func (r Round) Valid() bool {
	return r == Round1 || r == Round2
}

// TransactionType represents the ledger entry type
type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
	TransactionBet      TransactionType = "bet"
	TransactionWin      TransactionType = "win"
)

// Bet is a wager as reported by the server. Provisional bets placed while
// offline carry a negative ID until the server assigns a real one.
type Bet struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Number    int       `json:"number"`
	Amount    int       `json:"amount"`
	Round     Round     `json:"round"`
	Date      time.Time `json:"date"`
	IsWin     *bool     `json:"isWin"`
	WinAmount *int      `json:"winAmount"`

	// PendingOpID links a provisional bet to the queued operation that will
	// replace it. Never sent by the server.
	PendingOpID string `json:"pendingOpId,omitempty"`
}

// Provisional reports whether the bet has not been accepted by the server yet.
func (b Bet) Provisional() bool {
	return b.ID < 0
}

// Result holds the winning numbers of a day; a round is nil until drawn.
type Result struct {
	ID     int64     `json:"id"`
	Date   time.Time `json:"date"`
	Round1 *int      `json:"round1"`
	Round2 *int      `json:"round2"`
}

// Transaction is a wallet ledger entry
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	Amount      int             `json:"amount"`
	Type        TransactionType `json:"type"`
	Date        time.Time       `json:"date"`
	Description *string         `json:"description"`
}

// User is the logged-in account as reported by the server. The password
// never leaves the server.
type User struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	Balance  int     `json:"balance"`
}

// PlaceBetRequest is the body of a bet placement
type PlaceBetRequest struct {
	Number int   `json:"number"`
	Amount int   `json:"amount"`
	Round  Round `json:"round"`
}

// OperationKind names a deferred server write
type OperationKind string

const (
	OpPlaceBet OperationKind = "PLACE_BET"
)

// PendingOperation is a server write recorded while it could not be delivered.
type PendingOperation struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	Attempts  int             `json:"attempts"`
	Seq       int64           `json:"seq"`
}

// LostWrite records a pending operation that was discarded without being
// accepted by the server.
type LostWrite struct {
	ID        string          `json:"id"`
	Kind      OperationKind   `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"createdAt"`
	LostAt    time.Time       `json:"lostAt"`
	Reported  bool            `json:"reported"`
}

// SessionID is the key of the singleton session record.
const SessionID = "main-session"

// AnonymousUserID marks a session without a logged-in user.
const AnonymousUserID int64 = -1

// Session is the singleton sync session metadata record.
type Session struct {
	ID       string     `json:"id"`
	UserID   int64      `json:"userId"`
	LastSync *time.Time `json:"lastSync"`
}

// Bet limits enforced by the server.
const (
	MinBetNumber = 0
	MaxBetNumber = 99
	MinBetAmount = 5
)

// Validate checks the request against the server's bet rules.
func (r PlaceBetRequest) Validate() error {
	switch {
	case r.Number < MinBetNumber || r.Number > MaxBetNumber:
		return fmt.Errorf("number must be between %d and %d", MinBetNumber, MaxBetNumber)
	case r.Amount < MinBetAmount:
		return fmt.Errorf("amount must be at least %d", MinBetAmount)
	case !r.Round.Valid():
		return fmt.Errorf("round must be 1 or 2")
	}
	return nil
}
