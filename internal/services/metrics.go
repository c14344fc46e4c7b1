package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mockpit/internal/cache"
	"mockpit/internal/models"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge

	// Sync engine metrics
	SyncRuns     *prometheus.CounterVec
	SyncLatency  prometheus.Histogram
	SnapshotPush *prometheus.CounterVec
	Mutations    *prometheus.CounterVec
	SweptOps     prometheus.Counter
	ChangeEvents *prometheus.CounterVec

	connManager *ConnectionManager
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics. Gauges for live engine
// state (mapping count, pending ops, guard size) read straight from the
// engine so they never drift from the served values.
func InitMetrics(connManager *ConnectionManager, engine *cache.Engine) *Metrics {
	metrics := &Metrics{
		connManager: connManager,

		// WebSocket active connections (gauge - can go up and down)
		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mockpit_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),

		// Reconcile/rebuild runs by trigger and outcome
		SyncRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpit_sync_runs_total",
			Help: "Total number of sync runs by trigger and outcome",
		}, []string{"trigger", "outcome"}),

		SyncLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mockpit_sync_duration_seconds",
			Help:    "Authoritative fetch + reconcile latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		SnapshotPush: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpit_snapshot_pushes_total",
			Help: "Total number of carrier snapshot pushes by outcome",
		}, []string{"outcome"}),

		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpit_mutations_total",
			Help: "Total number of applied mutations by kind and outcome",
		}, []string{"kind", "outcome"}),

		SweptOps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mockpit_swept_operations_total",
			Help: "Total number of optimistic operations removed by TTL sweep",
		}),

		ChangeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpit_change_events_total",
			Help: "Total number of broadcast cache change events by kind",
		}, []string{"kind"}),
	}

	// Live gauges read from the engine and connection manager on scrape
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mockpit_websocket_connections_current",
			Help: "Current number of active WebSocket connections (from connection manager)",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))
	if engine != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "mockpit_cached_mappings",
				Help: "Number of mappings currently held by the cache",
			},
			func() float64 { return float64(engine.Status().Count) },
		))
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "mockpit_pending_operations",
				Help: "Number of outstanding optimistic operations",
			},
			func() float64 { return float64(engine.Status().PendingOps) },
		))
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "mockpit_pending_deletions",
				Help: "Number of identifiers inside the deletion guard window",
			},
			func() float64 { return float64(engine.Status().PendingDeletes) },
		))
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "mockpit_remote_healthy",
				Help: "Whether the last mock server contact succeeded (1) or failed (0)",
			},
			func() float64 {
				if engine.Status().RemoteHealthy {
					return 1
				}
				return 0
			},
		))
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordSync implements cache.Recorder.
func (m *Metrics) RecordSync(trigger string, duration time.Duration, err error) {
	m.SyncRuns.WithLabelValues(trigger, outcome(err)).Inc()
	if err == nil {
		m.SyncLatency.Observe(duration.Seconds())
	}
}

// RecordSnapshotPush implements cache.Recorder.
func (m *Metrics) RecordSnapshotPush(err error) {
	m.SnapshotPush.WithLabelValues(outcome(err)).Inc()
}

// RecordMutation implements cache.Recorder.
func (m *Metrics) RecordMutation(kind models.MutationKind, err error) {
	m.Mutations.WithLabelValues(string(kind), outcome(err)).Inc()
}

// RecordSweep implements cache.Recorder.
func (m *Metrics) RecordSweep(removed int) {
	m.SweptOps.Add(float64(removed))
}

// RecordChangeEvent counts a broadcast change event.
func (m *Metrics) RecordChangeEvent(kind string) {
	m.ChangeEvents.WithLabelValues(kind).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
