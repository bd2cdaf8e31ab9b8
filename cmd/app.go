package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/marcus/teer/internal/background"
	"github.com/marcus/teer/internal/cache"
	"github.com/marcus/teer/internal/db"
	"github.com/marcus/teer/internal/events"
	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/metrics"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/netstatus"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/queue"
	teersync "github.com/marcus/teer/internal/sync"
	"github.com/marcus/teer/internal/syncclient"
	"github.com/marcus/teer/internal/syncconfig"
	"github.com/marcus/teer/internal/wager"
	"github.com/marcus/teer/internal/webhook"
)

// app holds the components one process needs, opened on the shared store.
type app struct {
	store       *db.DB
	queue       *queue.Queue
	client      *syncclient.Client
	source      netstatus.Source
	monitor     *netstatus.Monitor
	bus         *events.Bus
	metrics     *metrics.Metrics
	coordinator *teersync.Coordinator
	reader      *cache.Reader
	placer      *wager.Placer

	closers []func()
}

type appOptions struct {
	// agent opens the background agent's side: lost writes stay unreported
	// for the foreground to pick up.
	agent   bool
	metrics *metrics.Metrics
	// quiet suppresses printing lost writes to stdout, for full-screen UIs.
	quiet bool
}

// openApp opens the store and wires the sync stack. The returned app must be
// closed.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	dir, err := syncconfig.DataDir()
	if err != nil {
		return nil, err
	}
	// An unusable store is not fatal: live reads still work and every
	// storage call retries the open.
	store := db.New(dir)
	if err := store.Open(ctx); err != nil && !db.IsStorageUnavailable(err) {
		return nil, err
	}

	a := &app{
		store:   store,
		queue:   queue.New(store),
		client:  syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), syncconfig.GetServerTimeout()),
		source:  netstatus.SourceForMode(syncconfig.GetNetworkMode()),
		bus:     events.NewBus(),
		metrics: opts.metrics,
	}
	a.monitor = netstatus.NewMonitor(a.source.Online())

	resources := cache.ServerResources(a.client,
		teersync.KeepPendingProvisional(a.queue),
		features.IsEnabled(features.TransactionsCache.Name))
	if syncconfig.IsAuthenticated() {
		resources = append([]cache.Resource{cache.UserResource(a.client)}, resources...)
	}

	a.coordinator = teersync.New(teersync.Options{
		Store: store,
		Queue: a.queue,
		Replayers: map[models.OperationKind]teersync.ReplayFunc{
			models.OpPlaceBet: teersync.BetReplayer(a.client, store),
		},
		Resources:        resources,
		Monitor:          a.monitor,
		Bus:              a.bus,
		Metrics:          a.metrics,
		MaxAttempts:      maxAttempts(),
		MarkLostReported: !opts.agent,
	})
	a.reader = cache.NewReader(store, a.monitor, resources)
	a.placer = wager.NewPlacer(store, a.queue, a.client, a.monitor)

	if !opts.agent && !opts.quiet {
		a.closers = append(a.closers, a.bus.Subscribe(printLostWrite))
	}
	if stop := a.startWebhook(); stop != nil {
		a.closers = append(a.closers, stop)
	}

	return a, nil
}

// Close releases the store and every subscription made by the app.
func (a *app) Close() error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	return a.store.Close()
}

// watchNetwork keeps the monitor current until ctx is done. One-shot
// commands use the state sampled at open instead.
func (a *app) watchNetwork(ctx context.Context) {
	go netstatus.Watch(ctx, a.monitor, a.source, syncconfig.GetNetworkPoll())
}

// surfaceLostWrites publishes lost writes recorded by another process that
// nobody has been shown yet.
func (a *app) surfaceLostWrites(ctx context.Context) {
	lost, err := a.store.TakeUnreportedLostWrites(ctx)
	if err != nil {
		slog.Debug("lost writes: take unreported", "err", err)
		return
	}
	for i := range lost {
		lw := lost[i]
		a.bus.Publish(events.Event{Kind: events.KindLostWrite, At: lw.LostAt, Lost: &lw})
	}
}

// openChannel connects to the agent transport selected in config.
func (a *app) openChannel(ctx context.Context, origin string) (background.Channel, error) {
	switch ch := syncconfig.GetAgentChannel(); ch {
	case syncconfig.ChannelRedis:
		return background.NewRedisChannel(ctx, syncconfig.GetAgentRedisURL(), background.DefaultRedisChannel, origin)
	case syncconfig.ChannelMailbox, "":
		return background.NewMailbox(a.store, origin, background.DefaultPollInterval), nil
	default:
		return nil, fmt.Errorf("unknown agent channel %q", ch)
	}
}

// bridge returns the foreground end of the agent protocol over ch.
func (a *app) bridge(ch background.Channel) *background.Bridge {
	return &background.Bridge{Channel: ch, Coordinator: a.coordinator, Store: a.store, Bus: a.bus}
}

func (a *app) startWebhook() func() {
	if !webhook.IsEnabled() {
		return nil
	}
	host, _ := os.Hostname()
	sink := webhook.NewSink(a.bus, webhook.GetURL(), webhook.GetSecret(), "teer@"+host)
	return sink.Close
}

// maxAttempts maps the configured limit onto the coordinator's convention,
// where zero selects the default and a negative value disables the limit.
func maxAttempts() int {
	n := syncconfig.GetMaxAttempts()
	if n <= 0 {
		return -1
	}
	return n
}

func printLostWrite(e events.Event) {
	if e.Kind != events.KindLostWrite || e.Lost == nil {
		return
	}
	output.Warning("lost write %s: %s (%s)", shortID(e.Lost.ID), describeLost(*e.Lost), e.Lost.Reason)
}

func describeLost(lw models.LostWrite) string {
	if lw.Kind == models.OpPlaceBet {
		var req models.PlaceBetRequest
		if err := json.Unmarshal(lw.Payload, &req); err == nil {
			return fmt.Sprintf("bet of %s on %s, %s", output.FormatAmount(req.Amount, false),
				output.FormatNumber(req.Number), output.FormatRound(req.Round))
		}
	}
	return string(lw.Kind)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
