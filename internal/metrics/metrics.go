// Package metrics exports build and dev server metrics through a Prometheus
// registry and keeps a running summary for the stats endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Build outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Reporter records metrics.
type Reporter interface {
	RecordBuild(outcome string, duration time.Duration, artifactBytes int64)
	RecordCache(hits, misses int64)
	Snapshot() BuildMetrics

	HTTPHandler() http.Handler
}

// BuildMetrics summarizes the builds recorded so far.
type BuildMetrics struct {
	TotalBuilds      int64         `json:"total_builds"`
	SuccessfulBuilds int64         `json:"successful_builds"`
	FailedBuilds     int64         `json:"failed_builds"`
	CacheHits        int64         `json:"cache_hits"`
	CacheMisses      int64         `json:"cache_misses"`
	LastDuration     time.Duration `json:"last_duration"`
	AverageDuration  time.Duration `json:"average_duration"`
	TotalDuration    time.Duration `json:"total_duration"`
}

// CacheHitRate returns the share of transform cache lookups that hit, as a
// percentage.
func (m BuildMetrics) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total) * 100
}

type reporter struct {
	registry          *prometheus.Registry
	builds            *prometheus.CounterVec
	buildDuration     prometheus.Histogram
	artifactBytes     prometheus.Gauge
	cacheLookups      *prometheus.CounterVec
	httpResponseTime  *prometheus.HistogramVec
	liveReloadClients prometheus.Gauge

	mu      sync.RWMutex
	summary BuildMetrics
}

// NewReporter creates a reporter with its own registry.
func NewReporter() Reporter {
	reg := prometheus.NewRegistry()

	builds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bundlekit",
		Name:      "builds_total",
		Help:      "Total number of builds by outcome.",
	}, []string{"outcome"})

	buildDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bundlekit",
		Name:      "build_duration_seconds",
		Help:      "Histogram of build durations in seconds.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	artifactBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bundlekit",
		Name:      "artifact_bytes",
		Help:      "Total size of the artifacts of the last successful build.",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bundlekit",
		Name:      "transform_cache_lookups_total",
		Help:      "Total number of transform cache lookups by result.",
	}, []string{"result"})

	httpRespTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bundlekit",
		Name:      "http_request_duration_seconds",
		Help:      "Histogram of dev server response time in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})

	clients := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bundlekit",
		Name:      "live_reload_clients",
		Help:      "Number of connected live reload clients.",
	})

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		builds,
		buildDuration,
		artifactBytes,
		cacheLookups,
		httpRespTime,
		clients,
	)

	return &reporter{
		registry:          reg,
		builds:            builds,
		buildDuration:     buildDuration,
		artifactBytes:     artifactBytes,
		cacheLookups:      cacheLookups,
		httpResponseTime:  httpRespTime,
		liveReloadClients: clients,
	}
}

func (r *reporter) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *reporter) RecordBuild(outcome string, duration time.Duration, artifactBytes int64) {
	r.builds.WithLabelValues(outcome).Inc()
	r.buildDuration.Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		r.artifactBytes.Set(float64(artifactBytes))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.TotalBuilds++
	r.summary.TotalDuration += duration
	r.summary.LastDuration = duration
	if outcome == OutcomeSuccess {
		r.summary.SuccessfulBuilds++
	} else {
		r.summary.FailedBuilds++
	}
	r.summary.AverageDuration = r.summary.TotalDuration / time.Duration(r.summary.TotalBuilds)
}

func (r *reporter) RecordCache(hits, misses int64) {
	r.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	r.cacheLookups.WithLabelValues("miss").Add(float64(misses))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.CacheHits += hits
	r.summary.CacheMisses += misses
}

func (r *reporter) Snapshot() BuildMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary
}

type statusRecorder struct {
	http.ResponseWriter

	statusCode int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.statusCode = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Measure records the response time of next.
func Measure(metricsReporter Reporter, next http.Handler) http.Handler {
	r, ok := metricsReporter.(*reporter)
	if !ok {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, req)

		r.httpResponseTime.WithLabelValues(req.Method, strconv.Itoa(rec.statusCode)).Observe(time.Since(start).Seconds())
	})
}

// SetLiveReloadClients records the number of connected live reload clients.
func SetLiveReloadClients(metricsReporter Reporter, n int) {
	if r, ok := metricsReporter.(*reporter); ok {
		r.liveReloadClients.Set(float64(n))
	}
}
