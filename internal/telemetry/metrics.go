// Package telemetry owns the process-wide Prometheus collectors and HTTP
// logging middleware.
package telemetry

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge

	// EventsApplied counts inbound events by event name and outcome.
	EventsApplied *prometheus.CounterVec

	FlushDuration *prometheus.HistogramVec

	// FlushedRows counts rows written by the flush, by table.
	FlushedRows *prometheus.CounterVec

	// PendingPatches tracks mutations waiting for their message row to exist.
	PendingPatches prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_mirror_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_mirror_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_mirror_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_mirror_cache_hits_total",
		Help: "Total message cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_mirror_cache_misses_total",
		Help: "Total message cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_mirror_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_mirror_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	EventsApplied = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_mirror_events_applied_total",
			Help: "Inbound transport events by name and outcome",
		},
		[]string{"event", "outcome"},
	)

	FlushDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_mirror_flush_duration_seconds",
			Help:    "Duration of batched durable flushes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	FlushedRows = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_mirror_flushed_rows_total",
			Help: "Rows written by the flush scheduler",
		},
		[]string{"table"},
	)

	PendingPatches = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_mirror_pending_patches",
		Help: "Mutations queued for messages that are not yet durable",
	})
}

// ObserveEvent counts one applied event. No-op before InitMetrics.
func ObserveEvent(event, outcome string) {
	if EventsApplied != nil {
		EventsApplied.WithLabelValues(event, outcome).Inc()
	}
}

// ObserveFlush records one flush run. No-op before InitMetrics.
func ObserveFlush(start time.Time, err error) {
	if FlushDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	FlushDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// AddFlushedRows counts rows written to table. No-op before InitMetrics.
func AddFlushedRows(table string, n int) {
	if FlushedRows != nil && n > 0 {
		FlushedRows.WithLabelValues(table).Add(float64(n))
	}
}

// SetPendingPatches publishes the pending patch count. No-op before InitMetrics.
func SetPendingPatches(n int) {
	if PendingPatches != nil {
		PendingPatches.Set(float64(n))
	}
}

// CacheHit and CacheMiss count message cache lookups. No-op before InitMetrics.
func CacheHit() {
	if CacheHitsTotal != nil {
		CacheHitsTotal.Inc()
	}
}

func CacheMiss() {
	if CacheMissesTotal != nil {
		CacheMissesTotal.Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
