package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyager_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voyager_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyager_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"mode", "status"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voyager_turn_duration_seconds",
			Help:    "Conversation turn duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	streamFragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voyager_stream_fragments_total",
			Help: "Total number of response fragments streamed to clients",
		},
	)

	// Checkpoint metrics
	checkpointOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voyager_checkpoint_ops_total",
			Help: "Total number of checkpoint store operations",
		},
		[]string{"op", "status"},
	)

	checkpointOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voyager_checkpoint_op_duration_seconds",
			Help:    "Checkpoint store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Session cache metrics
	cachedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voyager_cached_sessions",
			Help: "Number of sessions currently held in the in-memory cache",
		},
	)

	cacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voyager_cache_evictions_total",
			Help: "Total number of sessions evicted from the cache",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			turnsTotal,
			turnDuration,
			streamFragmentsTotal,
			checkpointOpsTotal,
			checkpointOpDuration,
			cachedSessions,
			cacheEvictionsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn records one conversation turn. Mode is "blocking" or
// "streaming"; status is "ok" or "error".
func RecordTurn(mode, status string, duration time.Duration) {
	turnsTotal.WithLabelValues(mode, status).Inc()
	turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStreamFragment counts a fragment delivered to a client.
func RecordStreamFragment() {
	streamFragmentsTotal.Inc()
}

// RecordCheckpointOp records a checkpoint store operation
func RecordCheckpointOp(op, status string, duration time.Duration) {
	checkpointOpsTotal.WithLabelValues(op, status).Inc()
	checkpointOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetCachedSessions sets the cached sessions gauge
func SetCachedSessions(count int) {
	cachedSessions.Set(float64(count))
}

// RecordCacheEvictions counts sessions removed by a cache sweep
func RecordCacheEvictions(count int) {
	cacheEvictionsTotal.Add(float64(count))
}
