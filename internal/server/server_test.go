package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/metrics"
)

// fakeBuilder records requests and answers with a canned result
type fakeBuilder struct {
	mu       sync.Mutex
	requests []domain.BundleRequest
	result   func(domain.BundleRequest) *domain.Bundle
}

func (f *fakeBuilder) Build(_ context.Context, req domain.BundleRequest) *domain.Bundle {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.result(req)
}

func done(req domain.BundleRequest) *domain.Bundle {
	return domain.NewDoneBundle(req, domain.ResolvedRef{CommitSHA: strings.Repeat("a", 40), DefaultBranch: "main"},
		"docs/"+req.Path+".mdx", &domain.ParsedDocument{Frontmatter: map[string]any{"title": "T"}})
}

func errored(err error) func(domain.BundleRequest) *domain.Bundle {
	return func(req domain.BundleRequest) *domain.Bundle {
		return domain.NewErroredBundle(req, domain.ResolvedRef{}, err)
	}
}

func newTestServer(b BundleBuilder, domains ...Domain) *Server {
	return New(Options{Builder: b, Domains: NewDomains(domains), Metrics: metrics.New()})
}

func get(t *testing.T, h http.Handler, target string, host string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if host != "" {
		req.Host = host
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleBundle_Defaults(t *testing.T) {
	fb := &fakeBuilder{result: done}
	rec := get(t, newTestServer(fb).Handler(), "/api/bundle?owner=acme&repository=docs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Len(t, fb.requests, 1)
	assert.Equal(t, domain.BundleRequest{
		Owner: "acme", Repository: "docs", Path: "index", Ref: "HEAD", HeaderDepth: 3,
	}, fb.requests[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["error"])
	assert.NotNil(t, body["data"])
	assert.Equal(t, "docs/index.mdx", body["source"])
}

func TestHandleBundle_QueryParameters(t *testing.T) {
	fb := &fakeBuilder{result: done}
	h := newTestServer(fb).Handler()

	rec := get(t, h, "/api/bundle?owner=acme&repository=docs&path=guide/setup&ref=v1.0.0&headerDepth=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.BundleRequest{
		Owner: "acme", Repository: "docs", Path: "guide/setup", Ref: "v1.0.0", HeaderDepth: 5,
	}, fb.requests[0])
}

func TestHandleBundle_BadRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "missing owner", query: "repository=docs"},
		{name: "missing repository", query: "owner=acme"},
		{name: "missing both", query: ""},
		{name: "non-numeric header depth", query: "owner=acme&repository=docs&headerDepth=deep"},
		{name: "zero header depth", query: "owner=acme&repository=docs&headerDepth=0"},
		{name: "negative header depth", query: "owner=acme&repository=docs&headerDepth=-2"},
		{name: "path traversal", query: "owner=acme&repository=docs&path=../secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeBuilder{result: done}
			rec := get(t, newTestServer(fb).Handler(), "/api/bundle?"+tt.query, "")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, fb.requests, "the pipeline must not run")

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, domain.CodeBadRequest, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHandleBundle_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrRefNotFound, want: http.StatusNotFound},
		{err: domain.ErrContentNotFound, want: http.StatusNotFound},
		{err: domain.NewRateLimitError(fmt.Errorf("slow down"), time.Second), want: http.StatusTooManyRequests},
		{err: domain.NewTransientError(fmt.Errorf("boom")), want: http.StatusBadGateway},
		{err: domain.ErrMalformedContent, want: http.StatusUnprocessableEntity},
		{err: domain.ErrMalformedFrontmatter, want: http.StatusUnprocessableEntity},
		{err: context.Canceled, want: StatusClientClosedRequest},
	}

	for _, tt := range tests {
		t.Run(string(domain.CodeOf(tt.err)), func(t *testing.T) {
			fb := &fakeBuilder{result: errored(tt.err)}
			rec := get(t, newTestServer(fb).Handler(), "/api/bundle?owner=acme&repository=docs", "")

			assert.Equal(t, tt.want, rec.Code)

			var b domain.Bundle
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
			assert.Nil(t, b.Data)
			require.NotNil(t, b.Error)
			assert.Equal(t, domain.CodeOf(tt.err), b.Error.Code)
		})
	}
}

func TestHandleBundle_UnencodableBundle(t *testing.T) {
	fb := &fakeBuilder{result: func(req domain.BundleRequest) *domain.Bundle {
		b := done(req)
		b.Data.Frontmatter["weight"] = math.NaN()
		return b
	}}
	rec := get(t, newTestServer(fb).Handler(), "/api/bundle?owner=acme&repository=docs", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.ErrorCode("INTERNAL"), body.Code)
	assert.Contains(t, body.Error, "NaN")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(nil))
	assert.Equal(t, http.StatusOK, StatusFor(&domain.Bundle{Data: &domain.ParsedDocument{}}))
	assert.Equal(t, http.StatusBadRequest, StatusForCode(domain.CodeBadRequest))
	assert.Equal(t, http.StatusBadGateway, StatusForCode(domain.CodeUpstreamUnavailable))
}

func TestHandleBundle_CustomDomain(t *testing.T) {
	fb := &fakeBuilder{result: done}
	h := newTestServer(fb, Domain{Hostname: "docs.acme.dev", Path: "acme/handbook"}).Handler()

	rec := get(t, h, "/api/bundle?path=guide", "Docs.Acme.dev:443")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", fb.requests[0].Owner)
	assert.Equal(t, "handbook", fb.requests[0].Repository)
	assert.Equal(t, "guide", fb.requests[0].Path)

	// explicit parameters win over the domain table
	rec = get(t, h, "/api/bundle?owner=other&repository=repo", "docs.acme.dev")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other", fb.requests[1].Owner)

	// unknown hosts still need both parameters
	rec = get(t, h, "/api/bundle", "unknown.example.com")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRepository_Redirect(t *testing.T) {
	h := newTestServer(&fakeBuilder{result: done}, Domain{Hostname: "docs.acme.dev", Path: "acme/handbook"}).Handler()

	rec := get(t, h, "/acme/handbook", "docs.page")
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://docs.acme.dev/acme/handbook", rec.Header().Get("Location"))

	rec = get(t, h, "/acme/handbook", "docs.acme.dev")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, "/acme/unknown", "docs.page")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomains(t *testing.T) {
	d := NewDomains([]Domain{
		{Hostname: "Docs.Acme.dev", Path: "/acme/handbook/"},
		{Hostname: "", Path: "skipped/entry"},
	})

	assert.Equal(t, 1, d.Len())

	path, ok := d.PathFor("docs.acme.dev:8080")
	assert.True(t, ok)
	assert.Equal(t, "acme/handbook", path)

	host, ok := d.HostFor("acme/handbook")
	assert.True(t, ok)
	assert.Equal(t, "docs.acme.dev", host)

	_, ok = d.HostFor("skipped/entry")
	assert.False(t, ok)

	var empty *Domains
	_, ok = empty.PathFor("docs.acme.dev")
	assert.False(t, ok)
	assert.Equal(t, 0, empty.Len())
}

func TestMiddleware_RequestID(t *testing.T) {
	h := newTestServer(&fakeBuilder{result: done}).Handler()

	rec := get(t, h, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get(HeaderRequestID))
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	fb := &fakeBuilder{result: func(domain.BundleRequest) *domain.Bundle { panic("boom") }}
	rec := get(t, newTestServer(fb).Handler(), "/api/bundle?owner=acme&repository=docs", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveCache(true)
	h := New(Options{Builder: &fakeBuilder{result: done}, Metrics: m}).Handler()

	rec := get(t, h, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docbundle_content_cache_total{result="hit"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, newTestServer(&fakeBuilder{result: done}).Handler(), "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newTestServer(&fakeBuilder{result: done})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
