// Package metrics exports pipeline counters to Prometheus.
//
// All methods are safe to call on a nil *Metrics, so stages can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantmind-br/docbundle/internal/domain"
)

const namespace = "docbundle"

// Metrics holds the collectors of one registry
type Metrics struct {
	registry         *prometheus.Registry
	buildsTotal      *prometheus.CounterVec
	buildDuration    prometheus.Histogram
	cacheTotal       *prometheus.CounterVec
	upstreamAttempts *prometheus.CounterVec
}

// New creates collectors registered on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Bundle builds by terminal code (ok for Done)",
		}, []string{"code"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of bundle builds",
			Buckets:   prometheus.DefBuckets,
		}),
		cacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_cache_total",
			Help:      "Content cache lookups by result",
		}, []string{"result"}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "Calls to the hosting provider by operation and outcome",
		}, []string{"op", "outcome"}),
	}

	m.registry.MustRegister(m.buildsTotal, m.buildDuration, m.cacheTotal, m.upstreamAttempts)
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveBuild records a terminal bundle
func (m *Metrics) ObserveBuild(b *domain.Bundle, elapsed time.Duration) {
	if m == nil || b == nil {
		return
	}
	code := "ok"
	if b.Error != nil {
		code = string(b.Error.Code)
	}
	m.buildsTotal.WithLabelValues(code).Inc()
	m.buildDuration.Observe(elapsed.Seconds())
}

// ObserveCache records a content cache lookup
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(result).Inc()
}

// ObserveAttempt records one upstream call; it matches fetcher.AttemptFunc
func (m *Metrics) ObserveAttempt(op string, _ int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case domain.IsRateLimited(err):
		outcome = "rate_limited"
	case domain.IsRetryable(err):
		outcome = "transient"
	default:
		outcome = "error"
	}
	m.upstreamAttempts.WithLabelValues(op, outcome).Inc()
}
