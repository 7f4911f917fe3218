package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/quantmind-br/docbundle/internal/domain"
)

func TestObserveBuild(t *testing.T) {
	m := New()

	m.ObserveBuild(&domain.Bundle{Data: &domain.ParsedDocument{}}, 20*time.Millisecond)
	m.ObserveBuild(domain.NewErroredBundle(domain.BundleRequest{}, domain.ResolvedRef{}, domain.ErrContentNotFound), time.Millisecond)
	m.ObserveBuild(nil, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildsTotal.WithLabelValues(string(domain.CodeContentNotFound))))
	assert.Equal(t, 1, testutil.CollectAndCount(m.buildDuration))
}

func TestObserveCache(t *testing.T) {
	m := New()
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheTotal.WithLabelValues("miss")))
}

func TestObserveAttempt(t *testing.T) {
	m := New()
	m.ObserveAttempt("get_content", 1, nil)
	m.ObserveAttempt("get_content", 1, domain.NewRateLimitError(errors.New("429"), time.Second))
	m.ObserveAttempt("get_content", 2, domain.NewTransientError(errors.New("503")))
	m.ObserveAttempt("get_content", 3, domain.ErrNotFound)

	for outcome, want := range map[string]float64{"ok": 1, "rate_limited": 1, "transient": 1, "error": 1} {
		assert.Equal(t, want, testutil.ToFloat64(m.upstreamAttempts.WithLabelValues("get_content", outcome)), outcome)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBuild(&domain.Bundle{}, time.Second)
		m.ObserveCache(true)
		m.ObserveAttempt("op", 1, nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveCache(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docbundle_content_cache_total{result="hit"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
