// Package testserver runs an in-process betting server for tests. State lives
// in an in-memory SQLite database; faults can be injected per request.
package testserver

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/marcus/teer/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    round1 INTEGER,
    round2 INTEGER
);
CREATE TABLE bets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    number INTEGER NOT NULL,
    amount INTEGER NOT NULL,
    round INTEGER NOT NULL,
    date TEXT NOT NULL,
    is_win INTEGER DEFAULT 0,
    win_amount INTEGER DEFAULT 0
);
CREATE TABLE transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    amount INTEGER NOT NULL,
    type TEXT NOT NULL,
    date TEXT NOT NULL,
    description TEXT
);
`

// Call is one request the server received.
type Call struct {
	Method string
	Path   string
	Body   string
}

// Server is a fake betting server.
type Server struct {
	*httptest.Server

	// UserID is the user every authenticated request acts as.
	UserID int64
	// APIKey, when set, must be presented as a bearer token.
	APIKey string

	db *sql.DB

	mu         sync.Mutex
	calls      []Call
	failNext   int
	failStatus int
	down       bool
	rejects    map[int]string
	balance    int
}

// New starts a server and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("testserver: open db: %v", err)
	}
	// One connection keeps the in-memory database shared.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		t.Fatalf("testserver: create schema: %v", err)
	}

	s := &Server{
		UserID:  1,
		db:      conn,
		rejects: make(map[int]string),
		balance: 1000,
	}

	r := chi.NewRouter()
	r.Use(s.record, s.faults, s.auth)
	r.Get("/api/results", s.listResults)
	r.Get("/api/bets", s.listBets)
	r.Post("/api/bets", s.placeBet)
	r.Get("/api/transactions", s.listTransactions)
	r.Get("/api/user", s.getUser)

	s.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		s.Server.Close()
		conn.Close()
	})
	return s
}

// FailNext makes the next n requests answer with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failStatus = status
}

// SetDown drops every connection without a response while down is true.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// RejectNumber makes bets on number fail validation with message.
func (s *Server) RejectNumber(number int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[number] = message
}

// SetBalance sets the wallet balance bets are checked against.
func (s *Server) SetBalance(balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
}

// Calls returns every request received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// BetCalls returns the bodies of received POST /api/bets requests, in order.
func (s *Server) BetCalls() []models.PlaceBetRequest {
	var out []models.PlaceBetRequest
	for _, c := range s.Calls() {
		if c.Method != http.MethodPost || c.Path != "/api/bets" {
			continue
		}
		var req models.PlaceBetRequest
		if json.Unmarshal([]byte(c.Body), &req) == nil {
			out = append(out, req)
		}
	}
	return out
}

// ResetCalls forgets the recorded requests.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// AddResult stores a draw result. A negative round value means not drawn yet.
func (s *Server) AddResult(date time.Time, round1, round2 int) int64 {
	res, err := s.db.Exec(`INSERT INTO results (date, round1, round2) VALUES (?, ?, ?)`,
		date.UTC().Format(time.RFC3339), nullInt(round1), nullInt(round2))
	if err != nil {
		panic(fmt.Sprintf("testserver: add result: %v", err))
	}
	id, _ := res.LastInsertId()
	return id
}

// AddTransaction stores a ledger entry for the server's user.
func (s *Server) AddTransaction(amount int, typ models.TransactionType, description string) int64 {
	res, err := s.db.Exec(`INSERT INTO transactions (user_id, amount, type, date, description) VALUES (?, ?, ?, ?, ?)`,
		s.UserID, amount, string(typ), time.Now().UTC().Format(time.RFC3339), description)
	if err != nil {
		panic(fmt.Sprintf("testserver: add transaction: %v", err))
	}
	id, _ := res.LastInsertId()
	return id
}

// Bets returns the bets the server has accepted.
func (s *Server) Bets() []models.Bet {
	bets, err := s.queryBets()
	if err != nil {
		panic(fmt.Sprintf("testserver: list bets: %v", err))
	}
	return bets
}

func nullInt(v int) any {
	if v < 0 {
		return nil
	}
	return v
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down := s.down
		status := 0
		if !down && s.failNext > 0 {
			s.failNext--
			status = s.failStatus
		}
		s.mu.Unlock()

		if down {
			hj, ok := w.(http.Hijacker)
			if !ok {
				http.Error(w, "down", http.StatusServiceUnavailable)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, models.User{
		ID:       s.UserID,
		Username: fmt.Sprintf("player%d", s.UserID),
		Balance:  balance,
	})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT id, date, round1, round2 FROM results ORDER BY date DESC, id DESC`)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	defer rows.Close()

	results := []models.Result{}
	for rows.Next() {
		var res models.Result
		var date string
		var r1, r2 sql.NullInt64
		if err := rows.Scan(&res.ID, &date, &r1, &r2); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
			return
		}
		res.Date, _ = time.Parse(time.RFC3339, date)
		res.Round1 = intPtr(r1)
		res.Round2 = intPtr(r2)
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.queryBets()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (s *Server) queryBets() ([]models.Bet, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, number, amount, round, date, is_win, win_amount
		FROM bets WHERE user_id = ? ORDER BY id`, s.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets := []models.Bet{}
	for rows.Next() {
		var b models.Bet
		var date string
		var isWin bool
		var winAmount int
		if err := rows.Scan(&b.ID, &b.UserID, &b.Number, &b.Amount, &b.Round, &date, &isWin, &winAmount); err != nil {
			return nil, err
		}
		b.Date, _ = time.Parse(time.RFC3339, date)
		b.IsWin = &isWin
		b.WinAmount = &winAmount
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req models.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid bet data"})
		return
	}
	if req.Number < 0 || req.Number > 99 || req.Amount < 5 || !req.Round.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid bet data"})
		return
	}

	s.mu.Lock()
	msg, rejected := s.rejects[req.Number]
	funds := s.balance >= req.Amount
	if !rejected && funds {
		s.balance -= req.Amount
	}
	s.mu.Unlock()

	if rejected {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": msg})
		return
	}
	if !funds {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Insufficient funds"})
		return
	}

	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(r.Context(),
		`INSERT INTO bets (user_id, number, amount, round, date) VALUES (?, ?, ?, ?, ?)`,
		s.UserID, req.Number, req.Amount, int(req.Round), now.Format(time.RFC3339))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	id, _ := res.LastInsertId()

	desc := fmt.Sprintf("Bet on number %d for round %d", req.Number, req.Round)
	s.db.ExecContext(r.Context(),
		`INSERT INTO transactions (user_id, amount, type, date, description) VALUES (?, ?, ?, ?, ?)`,
		s.UserID, -req.Amount, string(models.TransactionBet), now.Format(time.RFC3339), desc)

	isWin, winAmount := false, 0
	writeJSON(w, http.StatusCreated, models.Bet{
		ID: id, UserID: s.UserID, Number: req.Number, Amount: req.Amount, Round: req.Round,
		Date: now, IsWin: &isWin, WinAmount: &winAmount,
	})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, user_id, amount, type, date, description
		FROM transactions WHERE user_id = ? ORDER BY id DESC`, s.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		var date string
		var desc sql.NullString
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Type, &date, &desc); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
			return
		}
		tx.Date, _ = time.Parse(time.RFC3339, date)
		if desc.Valid {
			tx.Description = &desc.String
		}
		txs = append(txs, tx)
	}
	writeJSON(w, http.StatusOK, txs)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
