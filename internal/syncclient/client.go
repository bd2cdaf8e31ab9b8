// Package syncclient talks to the betting server's REST API.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marcus/teer/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	// ErrUnauthorized means the session is missing or expired. Writes are
	// retried once the user logs in again.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRejected means the server understood the request and refused it.
	// Retrying the same request cannot succeed.
	ErrRejected = errors.New("rejected by server")
	// ErrUnavailable covers transport failures, timeouts and server-side errors.
	ErrUnavailable = errors.New("server unavailable")
)

// API paths
const (
	PathResults      = "/api/results"
	PathBets         = "/api/bets"
	PathTransactions = "/api/transactions"
	PathUser         = "/api/user"
)

// Client is an HTTP client for the betting server.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a new client. timeout bounds every request; zero means 30s.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return e.kind }

// apiError is the error body the server sends.
type apiError struct {
	Message string `json:"message"`
}

// classifyStatus maps an HTTP status to one of the sentinel errors.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return ErrUnavailable
	case code >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// IsTransient reports whether a later retry of the same request may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRejected)
}

// IsRejected reports whether the server refused the request for good.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// FetchResults returns the draw results as raw server records.
func (c *Client) FetchResults(ctx context.Context) ([]json.RawMessage, error) {
	return c.fetchList(ctx, PathResults)
}

// FetchBets returns the logged-in user's bets as raw server records.
func (c *Client) FetchBets(ctx context.Context) ([]json.RawMessage, error) {
	return c.fetchList(ctx, PathBets)
}

// FetchTransactions returns the logged-in user's wallet ledger.
func (c *Client) FetchTransactions(ctx context.Context) ([]json.RawMessage, error) {
	return c.fetchList(ctx, PathTransactions)
}

// FetchUser returns the logged-in user's account record.
func (c *Client) FetchUser(ctx context.Context) (json.RawMessage, error) {
	var user json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, PathUser, nil, &user); err != nil {
		return nil, err
	}
	if len(user) == 0 || string(user) == "null" {
		return nil, fmt.Errorf("fetch user: %w: empty response", ErrUnavailable)
	}
	return user, nil
}

// PlaceBet submits a bet and returns the created bet record.
func (c *Client) PlaceBet(ctx context.Context, req models.PlaceBetRequest) (json.RawMessage, error) {
	var created json.RawMessage
	if err := c.doRequest(ctx, http.MethodPost, PathBets, req, &created); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("place bet: %w: empty response", ErrUnavailable)
	}
	return created, nil
}

func (c *Client) fetchList(ctx context.Context, path string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []json.RawMessage{}
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: no server URL configured", ErrUnavailable)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w: read response: %v", method, path, ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		se := &StatusError{StatusCode: resp.StatusCode, kind: classifyStatus(resp.StatusCode)}
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			se.Message = apiErr.Message
		} else {
			se.Message = strings.TrimSpace(string(respBody))
		}
		return fmt.Errorf("%s %s: %w", method, path, se)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s %s: %w: decode response: %v", method, path, ErrUnavailable, err)
		}
	}
	return nil
}
