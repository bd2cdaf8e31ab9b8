package syncclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/syncclient"
	"github.com/marcus/teer/internal/testserver"
)

func TestClient_FetchResults(t *testing.T) {
	srv := testserver.New(t)
	srv.AddResult(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 42, -1)

	c := syncclient.New(srv.URL, "", time.Second)
	recs, err := c.FetchResults(context.Background())
	if err != nil {
		t.Fatalf("FetchResults: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d results, want 1", len(recs))
	}
	var r models.Result
	if err := json.Unmarshal(recs[0], &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Round1 == nil || *r.Round1 != 42 {
		t.Errorf("round1: got %v, want 42", r.Round1)
	}
	if r.Round2 != nil {
		t.Errorf("round2: got %v, want nil", *r.Round2)
	}
}

func TestClient_FetchUser(t *testing.T) {
	srv := testserver.New(t)
	srv.UserID = 9
	srv.SetBalance(640)

	c := syncclient.New(srv.URL, "", time.Second)
	raw, err := c.FetchUser(context.Background())
	if err != nil {
		t.Fatalf("FetchUser: %v", err)
	}
	var u models.User
	if err := json.Unmarshal(raw, &u); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if u.ID != 9 || u.Balance != 640 || u.Username == "" {
		t.Errorf("unexpected user %+v", u)
	}
}

func TestClient_PlaceBetSendsAuth(t *testing.T) {
	srv := testserver.New(t)
	srv.APIKey = "secret"

	c := syncclient.New(srv.URL, "secret", time.Second)
	raw, err := c.PlaceBet(context.Background(), models.PlaceBetRequest{Number: 7, Amount: 10, Round: models.Round1})
	if err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	var b models.Bet
	if err := json.Unmarshal(raw, &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ID <= 0 || b.Number != 7 {
		t.Errorf("unexpected bet %+v", b)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		sentinel  error
	}{
		{"bad request", http.StatusBadRequest, false, syncclient.ErrRejected},
		{"conflict", http.StatusConflict, false, syncclient.ErrRejected},
		{"unauthorized", http.StatusUnauthorized, true, syncclient.ErrUnauthorized},
		{"timeout", http.StatusRequestTimeout, true, syncclient.ErrUnavailable},
		{"rate limited", http.StatusTooManyRequests, true, syncclient.ErrUnavailable},
		{"server error", http.StatusInternalServerError, true, syncclient.ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, true, syncclient.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testserver.New(t)
			srv.FailNext(1, tt.status)

			c := syncclient.New(srv.URL, "", time.Second)
			_, err := c.FetchBets(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if got := syncclient.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient: got %v, want %v", got, tt.transient)
			}
			var se *syncclient.StatusError
			if !errors.As(err, &se) || se.StatusCode != tt.status {
				t.Errorf("StatusError: got %v", se)
			}
		})
	}
}

func TestClient_RejectionCarriesServerMessage(t *testing.T) {
	srv := testserver.New(t)
	srv.SetBalance(0)

	c := syncclient.New(srv.URL, "", time.Second)
	_, err := c.PlaceBet(context.Background(), models.PlaceBetRequest{Number: 1, Amount: 5, Round: models.Round2})
	if !syncclient.IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	var se *syncclient.StatusError
	if !errors.As(err, &se) || se.Message != "Insufficient funds" {
		t.Errorf("message: got %+v", se)
	}
}

func TestClient_NetworkFailureIsTransient(t *testing.T) {
	srv := testserver.New(t)
	srv.SetDown(true)

	c := syncclient.New(srv.URL, "", time.Second)
	_, err := c.FetchResults(context.Background())
	if !errors.Is(err, syncclient.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !syncclient.IsTransient(err) {
		t.Error("network failure should be transient")
	}
}

func TestClient_UndecodableBodyIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>captive portal</html>"))
	}))
	defer srv.Close()

	c := syncclient.New(srv.URL, "", time.Second)
	_, err := c.FetchResults(context.Background())
	if !errors.Is(err, syncclient.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_NoBaseURL(t *testing.T) {
	c := syncclient.New("", "", 0)
	if _, err := c.FetchBets(context.Background()); !errors.Is(err, syncclient.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
