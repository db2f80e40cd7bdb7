// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Swipe engine metrics
	SwipesTotal       *prometheus.CounterVec
	SwipeOutcomes     *prometheus.CounterVec
	UndosTotal        prometheus.Counter
	CompensatorErrors prometheus.Counter

	// Feed metrics
	PageLoads          *prometheus.CounterVec
	LoadMoreSuppressed prometheus.Counter
	CandidatesInDeck   prometheus.Gauge
	PageLoadLatency    prometheus.Histogram

	// Counter feed metrics
	CounterRefreshes     *prometheus.CounterVec
	CounterStaleDiscards prometheus.Counter

	// Side effect metrics
	SideEffects *prometheus.CounterVec

	// Transport metrics
	RPCCallLatency *prometheus.HistogramVec
	WSReconnects   prometheus.Counter

	// Backend metrics
	BackendRequests     *prometheus.CounterVec
	BackendLatency      *prometheus.HistogramVec
	ActiveSubscriptions prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "discover"
	}

	return &Metrics{
		SwipesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swipe",
			Name:      "swipes_total",
			Help:      "Total number of swipes applied by decision",
		}, []string{"decision"}),
		SwipeOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swipe",
			Name:      "outcomes_total",
			Help:      "Total number of resolved swipe submissions by status",
		}, []string{"status"}),
		UndosTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swipe",
			Name:      "undos_total",
			Help:      "Total number of swipes undone",
		}),
		CompensatorErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swipe",
			Name:      "compensator_errors_total",
			Help:      "Total number of failed compensating undo calls",
		}),

		PageLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "page_loads_total",
			Help:      "Total number of candidate page loads by status",
		}, []string{"status"}),
		LoadMoreSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "load_more_suppressed_total",
			Help:      "Total number of load-more triggers ignored while loading or exhausted",
		}),
		CandidatesInDeck: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "candidates_in_deck",
			Help:      "Current number of candidates held by the feed",
		}),
		PageLoadLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "page_load_latency_seconds",
			Help:      "Candidate page load latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		CounterRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "refreshes_total",
			Help:      "Total number of engagement counter pulls by status",
		}, []string{"status"}),
		CounterStaleDiscards: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "counter",
			Name:      "stale_discards_total",
			Help:      "Total number of counter responses discarded as out of order",
		}),

		SideEffects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engagement",
			Name:      "side_effects_total",
			Help:      "Total number of engagement side effects by activity and status",
		}, []string{"activity", "status"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "rpc_call_latency_seconds",
			Help:      "Remote RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "ws_reconnects_total",
			Help:      "Total number of successful WebSocket reconnects",
		}),

		BackendRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total number of RPC requests served by method and status",
		}, []string{"method", "status"}),
		BackendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_latency_seconds",
			Help:      "RPC request handling latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "active_subscriptions",
			Help:      "Number of live engagement subscriptions",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSwipe increments the swipe counter for a decision.
func RecordSwipe(decision string) {
	DefaultMetrics.SwipesTotal.WithLabelValues(decision).Inc()
}

// RecordSwipeOutcome records how a swipe submission resolved.
func RecordSwipeOutcome(status string) {
	DefaultMetrics.SwipeOutcomes.WithLabelValues(status).Inc()
}

// RecordUndo increments the undo counter.
func RecordUndo() {
	DefaultMetrics.UndosTotal.Inc()
}

// RecordCompensatorError increments the compensator error counter.
func RecordCompensatorError() {
	DefaultMetrics.CompensatorErrors.Inc()
}

// RecordPageLoad records a page load and its latency.
func RecordPageLoad(status string, seconds float64) {
	DefaultMetrics.PageLoads.WithLabelValues(status).Inc()
	DefaultMetrics.PageLoadLatency.Observe(seconds)
}

// RecordLoadMoreSuppressed increments the suppressed load-more counter.
func RecordLoadMoreSuppressed() {
	DefaultMetrics.LoadMoreSuppressed.Inc()
}

// UpdateDeckSize updates the deck size gauge.
func UpdateDeckSize(n int) {
	DefaultMetrics.CandidatesInDeck.Set(float64(n))
}

// RecordCounterRefresh records an engagement counter pull.
func RecordCounterRefresh(status string) {
	DefaultMetrics.CounterRefreshes.WithLabelValues(status).Inc()
}

// RecordCounterStale increments the stale counter response counter.
func RecordCounterStale() {
	DefaultMetrics.CounterStaleDiscards.Inc()
}

// RecordSideEffect records a side effect outcome (ok, error, dropped).
func RecordSideEffect(activity, status string) {
	DefaultMetrics.SideEffects.WithLabelValues(activity, status).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordWSReconnect increments the reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordBackendRequest records a served RPC request.
func RecordBackendRequest(method, status string, seconds float64) {
	DefaultMetrics.BackendRequests.WithLabelValues(method, status).Inc()
	DefaultMetrics.BackendLatency.WithLabelValues(method).Observe(seconds)
}

// AddActiveSubscriptions adjusts the live subscription gauge by delta.
func AddActiveSubscriptions(delta int) {
	DefaultMetrics.ActiveSubscriptions.Add(float64(delta))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
