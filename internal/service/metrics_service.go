package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Workflow step outcomes.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// MetricsSnapshot is a point in time summary served alongside /metrics.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	CacheHits                uint64    `json:"cacheHits"`
	CacheMisses              uint64    `json:"cacheMisses"`
	CacheHitRatio            float64   `json:"cacheHitRatio"`
	ActiveSubscriptions      int64     `json:"activeSubscriptions"`
	PartialWorkflows         uint64    `json:"partialWorkflows"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	workflowSteps   *prometheus.CounterVec
	liveActive      prometheus.Gauge
	liveSnapshots   *prometheus.CounterVec
	liveErrors      *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	activeSubscriptions  int64
	partialWorkflows     uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	workflowSteps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attach_workflow_steps_total",
		Help: "Create-then-attach workflow steps by outcome",
	}, []string{"workflow", "step", "outcome"})

	liveActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "live_subscriptions_active",
		Help: "Open live collection subscriptions",
	})

	liveSnapshots := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "live_snapshots_total",
		Help: "Snapshots delivered to live collection views",
	}, []string{"collection"})

	liveErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "live_subscription_errors_total",
		Help: "Terminal live subscription errors",
	}, []string{"collection"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHitRatio, cacheHits, cacheMisses,
		workflowSteps, liveActive, liveSnapshots, liveErrors, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		workflowSteps:   workflowSteps,
		liveActive:      liveActive,
		liveSnapshots:   liveSnapshots,
		liveErrors:      liveErrors,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordWorkflowStep counts one workflow step. A failure after the record
// write marks the run as partial.
func (m *MetricsService) RecordWorkflowStep(workflow string, step WorkflowStep, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeFailed
		if step.afterRecordWrite() {
			atomic.AddUint64(&m.partialWorkflows, 1)
		}
	}
	m.workflowSteps.WithLabelValues(workflow, string(step), outcome).Inc()
}

// SubscriptionOpened and SubscriptionClosed track open live views.
func (m *MetricsService) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.liveActive.Inc()
	atomic.AddInt64(&m.activeSubscriptions, 1)
}

func (m *MetricsService) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.liveActive.Dec()
	atomic.AddInt64(&m.activeSubscriptions, -1)
}

// RecordSnapshot counts a delivered snapshot.
func (m *MetricsService) RecordSnapshot(collection string) {
	if m == nil {
		return
	}
	m.liveSnapshots.WithLabelValues(collectionLabel(collection)).Inc()
}

// RecordSubscriptionError counts a terminal subscription error.
func (m *MetricsService) RecordSubscriptionError(collection string) {
	if m == nil {
		return
	}
	m.liveErrors.WithLabelValues(collectionLabel(collection)).Inc()
}

// Snapshot returns aggregated metrics suitable for the status endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		ActiveSubscriptions:      atomic.LoadInt64(&m.activeSubscriptions),
		PartialWorkflows:         atomic.LoadUint64(&m.partialWorkflows),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

// collectionLabel keeps label cardinality bounded by dropping document ids
// from nested paths: "Schools/s1/Classes" becomes "Schools/*/Classes".
func collectionLabel(path string) string {
	out := make([]byte, 0, len(path))
	segment := 0
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '/' {
			continue
		}
		if segment > 0 {
			out = append(out, '/')
		}
		if segment%2 == 1 {
			out = append(out, '*')
		} else {
			out = append(out, path[start:i]...)
		}
		segment++
		start = i + 1
	}
	return string(out)
}
