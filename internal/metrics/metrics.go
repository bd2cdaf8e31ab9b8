// Package metrics exposes sync activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Replay results
const (
	ReplayAccepted = "accepted"
	ReplayRetry    = "retry"
	ReplayLost     = "lost"
)

// Metrics collects sync metrics. All methods are safe on a nil receiver so
// callers that run without metrics pass nil.
type Metrics struct {
	registry     *prometheus.Registry
	startTime    time.Time
	syncRuns     *prometheus.CounterVec
	syncDuration prometheus.Histogram
	replays      *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	coalesced    prometheus.Counter
	pending      prometheus.Gauge
	online       prometheus.Gauge
	lastSync     prometheus.Gauge
}

// New creates metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teer_sync_runs_total",
			Help: "Sync sessions by outcome.",
		}, []string{"reason", "outcome"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teer_sync_duration_seconds",
			Help:    "Wall time of sync sessions.",
			Buckets: prometheus.DefBuckets,
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teer_pending_replays_total",
			Help: "Pending operation replays by result.",
		}, []string{"kind", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teer_cache_refreshes_total",
			Help: "Cache refreshes by collection and result.",
		}, []string{"collection", "result"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teer_sync_triggers_coalesced_total",
			Help: "Sync triggers ignored because a sync was running.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teer_pending_operations",
			Help: "Operations waiting in the pending queue.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teer_online",
			Help: "1 when the device believes it is online.",
		}),
		lastSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teer_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful refresh.",
		}),
	}
	m.registry.MustRegister(
		m.syncRuns, m.syncDuration, m.replays, m.refreshes, m.coalesced,
		m.pending, m.online, m.lastSync,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Uptime returns the time since the metrics were created.
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// SyncFinished records a completed sync session.
func (m *Metrics) SyncFinished(reason, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(reason, outcome).Inc()
	m.syncDuration.Observe(d.Seconds())
}

// SyncCoalesced records a trigger that arrived during a running sync.
func (m *Metrics) SyncCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// Replayed records one pending operation replay.
func (m *Metrics) Replayed(kind, result string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(kind, result).Inc()
}

// Refreshed records one collection refresh.
func (m *Metrics) Refreshed(collection string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshes.WithLabelValues(collection, result).Inc()
}

// SetPending sets the pending queue depth.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// SetOnline records connectivity.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}

// SetLastSync records the last successful refresh time.
func (m *Metrics) SetLastSync(t time.Time) {
	if m == nil {
		return
	}
	m.lastSync.Set(float64(t.Unix()))
}
