package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/models"
)

// Payload is the top-level webhook POST body.
type Payload struct {
	Source    string         `json:"source"`
	Timestamp string         `json:"timestamp"`
	Events    []EventPayload `json:"events"`
}

// EventPayload is one sync notification within a webhook payload.
type EventPayload struct {
	Kind      string              `json:"kind"`
	Timestamp string              `json:"timestamp"`
	Sync      *events.SyncSummary `json:"sync,omitempty"`
	Lost      *models.LostWrite   `json:"lost,omitempty"`
}

// BuildPayload converts bus events into a webhook payload.
func BuildPayload(source string, evs []events.Event) Payload {
	p := Payload{
		Source:    source,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Events:    make([]EventPayload, len(evs)),
	}
	for i, e := range evs {
		p.Events[i] = EventPayload{
			Kind:      string(e.Kind),
			Timestamp: e.At.UTC().Format(time.RFC3339),
			Sync:      e.Sync,
			Lost:      e.Lost,
		}
	}
	return p
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "teer-webhook/1")

	unixTS := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Teer-Timestamp", unixTS)

	if secret != "" {
		req.Header.Set("X-Teer-Signature", "sha256="+Sign(secret, unixTS, body))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sink forwards sync_completed and lost_write events from a bus to the
// webhook, one POST per event, off the publishing goroutine. Events that
// arrive while the buffer is full are dropped.
type Sink struct {
	url    string
	secret string
	source string

	queue chan events.Event
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	unsub func()
}

// NewSink starts a sink subscribed to bus. Call Close to detach and flush.
func NewSink(bus *events.Bus, url, secret, source string) *Sink {
	s := &Sink{
		url:    url,
		secret: secret,
		source: source,
		queue:  make(chan events.Event, 64),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	s.unsub = bus.Subscribe(s.handle)
	return s
}

func (s *Sink) handle(e events.Event) {
	if e.Kind != events.KindSyncCompleted && e.Kind != events.KindLostWrite {
		return
	}
	select {
	case <-s.done:
	case s.queue <- e:
	default:
		slog.Warn("webhook: queue full, event dropped", "kind", e.Kind)
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.queue:
			s.send(e)
		case <-s.done:
			for {
				select {
				case e := <-s.queue:
					s.send(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) send(e events.Event) {
	payload := BuildPayload(s.source, []events.Event{e})
	if err := Dispatch(context.Background(), s.url, s.secret, payload); err != nil {
		slog.Warn("webhook: dispatch failed", "kind", e.Kind, "err", err)
	}
}

// Close unsubscribes from the bus and waits for queued events to be sent.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.unsub()
		close(s.done)
		s.wg.Wait()
	})
}
