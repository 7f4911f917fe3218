package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/pkg/version"
)

const (
	commitSHA = "0123456789abcdef0123456789abcdef01234567"
	tagSHA    = "fedcba9876543210fedcba9876543210fedcba98"
	blobSHA   = "1111111111111111111111111111111111111111"
)

func newTestProvider(t *testing.T, token string, routes map[string]http.HandlerFunc) *Provider {
	t.Helper()

	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(http.StripPrefix("/api/v3", mux))
	t.Cleanup(srv.Close)

	p, err := New(Options{
		Token:      token,
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, `{"message":"Not Found"}`)
}

func TestProvider_DefaultBranch(t *testing.T) {
	var auth, agent string
	p := newTestProvider(t, "secret", map[string]http.HandlerFunc{
		"GET /repos/invertase/docs.page": func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			agent = r.Header.Get("User-Agent")
			writeJSON(w, http.StatusOK, `{"name":"docs.page","default_branch":"main"}`)
		},
	})

	branch, err := p.DefaultBranch(context.Background(), "invertase", "docs.page")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, version.UserAgent(), agent)
	assert.Equal(t, Name, p.Name())
}

func TestProvider_DefaultBranch_MissingRepository(t *testing.T) {
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/missing": notFound,
	})

	_, err := p.DefaultBranch(context.Background(), "o", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, domain.IsRetryable(err))
}

func TestProvider_ResolveBranch(t *testing.T) {
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/r/git/ref/heads/main": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"ref":"refs/heads/main","object":{"type":"commit","sha":"`+commitSHA+`"}}`)
		},
		"GET /repos/o/r/git/ref/heads/nope": notFound,
	})

	sha, err := p.ResolveBranch(context.Background(), "o", "r", "main")
	require.NoError(t, err)
	assert.Equal(t, commitSHA, sha)

	_, err = p.ResolveBranch(context.Background(), "o", "r", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProvider_ResolveTag(t *testing.T) {
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/r/git/ref/tags/v1.0.0": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"ref":"refs/tags/v1.0.0","object":{"type":"commit","sha":"`+commitSHA+`"}}`)
		},
		"GET /repos/o/r/git/ref/tags/v2.0.0": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"ref":"refs/tags/v2.0.0","object":{"type":"tag","sha":"`+tagSHA+`"}}`)
		},
		"GET /repos/o/r/git/tags/" + tagSHA: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"sha":"`+tagSHA+`","tag":"v2.0.0","object":{"type":"commit","sha":"`+commitSHA+`"}}`)
		},
	})

	t.Run("lightweight", func(t *testing.T) {
		sha, err := p.ResolveTag(context.Background(), "o", "r", "v1.0.0")
		require.NoError(t, err)
		assert.Equal(t, commitSHA, sha)
	})

	t.Run("annotated is peeled", func(t *testing.T) {
		sha, err := p.ResolveTag(context.Background(), "o", "r", "v2.0.0")
		require.NoError(t, err)
		assert.Equal(t, commitSHA, sha)
	})
}

func TestProvider_ResolveCommit(t *testing.T) {
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/r/commits/0123456": func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, commitSHA)
		},
		"GET /repos/o/r/commits/abcdef0": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, `{"message":"No commit found for SHA: abcdef0"}`)
		},
	})

	tests := []struct {
		name    string
		rev     string
		want    string
		wantErr error
	}{
		{name: "abbreviated", rev: "0123456", want: commitSHA},
		{name: "unknown commit", rev: "abcdef0", wantErr: domain.ErrNotFound},
		{name: "not hex", rev: "feature/x", wantErr: domain.ErrNotFound},
		{name: "too short", rev: "abc", wantErr: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sha, err := p.ResolveCommit(context.Background(), "o", "r", tt.rev)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, sha)
		})
	}
}

func TestProvider_GetContent(t *testing.T) {
	body := "---\ntitle: Hi\n---\n# Hello\n"
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/r/contents/docs/index.mdx": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, commitSHA, r.URL.Query().Get("ref"))
			w.Header().Set("ETag", `"abc"`)
			writeJSON(w, http.StatusOK, `{"type":"file","name":"index.mdx","encoding":"base64","sha":"`+blobSHA+`","content":"`+base64.StdEncoding.EncodeToString([]byte(body))+`"}`)
		},
		"GET /repos/o/r/contents/docs/guide": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `[{"type":"file","name":"setup.mdx"},{"type":"file","name":"index.mdx"}]`)
		},
		"GET /repos/o/r/contents/docs/big.mdx": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"type":"file","name":"big.mdx","encoding":"none","sha":"`+blobSHA+`","content":""}`)
		},
		"GET /repos/o/r/git/blobs/" + blobSHA: func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprint(w, "# Big\n")
		},
		"GET /repos/o/r/contents/docs/missing.mdx": notFound,
	})
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		content, err := p.GetContent(ctx, "o", "r", commitSHA, "docs/index.mdx")
		require.NoError(t, err)
		assert.Equal(t, domain.ContentFile, content.Type())
		assert.Equal(t, body, string(content.Bytes()))
		assert.Equal(t, `"abc"`, content.ETag())
	})

	t.Run("directory entries are sorted", func(t *testing.T) {
		content, err := p.GetContent(ctx, "o", "r", commitSHA, "docs/guide")
		require.NoError(t, err)
		assert.Equal(t, domain.ContentDirectory, content.Type())
		assert.Equal(t, []string{"index.mdx", "setup.mdx"}, content.Entries())
	})

	t.Run("large file falls back to raw blob", func(t *testing.T) {
		content, err := p.GetContent(ctx, "o", "r", commitSHA, "docs/big.mdx")
		require.NoError(t, err)
		assert.Equal(t, "# Big\n", string(content.Bytes()))
		assert.Equal(t, blobSHA, content.ETag())
	})

	t.Run("missing", func(t *testing.T) {
		_, err := p.GetContent(ctx, "o", "r", commitSHA, "docs/missing.mdx")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestProvider_ErrorClassification(t *testing.T) {
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/throttled": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderRetryAfter, "7")
			writeJSON(w, http.StatusTooManyRequests, `{"message":"Too Many Requests"}`)
		},
		"GET /repos/o/broken": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, `{"message":"unavailable"}`)
		},
		"GET /repos/o/private": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Bad credentials"}`)
		},
	})
	ctx := context.Background()

	t.Run("429 with Retry-After", func(t *testing.T) {
		_, err := p.DefaultBranch(ctx, "o", "throttled")
		require.Error(t, err)
		assert.True(t, domain.IsRateLimited(err))
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, 7*time.Second, domain.RetryAfter(err))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		_, err := p.DefaultBranch(ctx, "o", "broken")
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
		assert.False(t, domain.IsRateLimited(err))
		assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	})

	t.Run("401 is permanent", func(t *testing.T) {
		_, err := p.DefaultBranch(ctx, "o", "private")
		require.Error(t, err)
		assert.False(t, domain.IsRetryable(err))
		assert.Equal(t, domain.CodeUpstreamUnavailable, domain.CodeOf(err))
	})
}

// An exhausted quota also makes the client refuse later calls until reset,
// so it gets its own server.
func TestProvider_ExhaustedQuota(t *testing.T) {
	reset := strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10)
	p := newTestProvider(t, "", map[string]http.HandlerFunc{
		"GET /repos/o/exhausted": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderRateLimit, "60")
			w.Header().Set(HeaderRateRemaining, "0")
			w.Header().Set(HeaderRateReset, reset)
			writeJSON(w, http.StatusForbidden, `{"message":"API rate limit exceeded"}`)
		},
	})

	for i := 0; i < 2; i++ {
		_, err := p.DefaultBranch(context.Background(), "o", "exhausted")
		require.Error(t, err)
		assert.True(t, domain.IsRateLimited(err))
		assert.True(t, domain.IsRetryable(err))
		assert.Greater(t, domain.RetryAfter(err), time.Duration(0))
		assert.LessOrEqual(t, domain.RetryAfter(err), time.Minute)
	}

	quota, known := p.Quota()
	assert.True(t, known)
	assert.Equal(t, 0, quota.Remaining)
	assert.Equal(t, 60, quota.Limit)
}

func TestProvider_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	_, err = p.DefaultBranch(context.Background(), "o", "r")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

// headers builds canonicalized headers from key/value pairs
func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		header http.Header
		want   time.Duration
	}{
		{name: "none", header: headers(), want: 0},
		{name: "seconds", header: headers(HeaderRetryAfter, "30"), want: 30 * time.Second},
		{name: "http date", header: headers(HeaderRetryAfter, now.Add(time.Minute).UTC().Format(http.TimeFormat)), want: time.Minute},
		{name: "reset header", header: headers(HeaderRateReset, strconv.FormatInt(now.Add(90*time.Second).Unix(), 10)), want: 90 * time.Second},
		{name: "reset in the past", header: headers(HeaderRateReset, strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryAfter(&http.Response{Header: tt.header}, now))
		})
	}
}

func TestRateLimiter_UpdateFromResponse(t *testing.T) {
	r := NewRateLimiter(0)
	_, known := r.Quota()
	assert.False(t, known)

	r.UpdateFromResponse(&http.Response{Header: headers(
		HeaderRateLimit, "5000",
		HeaderRateRemaining, "4999",
		HeaderRateReset, "1700000000",
	)})

	quota, known := r.Quota()
	assert.True(t, known)
	assert.Equal(t, Quota{Limit: 5000, Remaining: 4999, Reset: time.Unix(1700000000, 0)}, quota)
	assert.NoError(t, r.Wait(context.Background()))
}

func TestRateLimiter_WaitWhileExhausted(t *testing.T) {
	r := NewRateLimiter(0)
	r.UpdateFromResponse(&http.Response{Header: headers(
		HeaderRateRemaining, "0",
		HeaderRateReset, strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	)})

	err := r.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRateLimited(err))
	assert.Greater(t, domain.RetryAfter(err), 59*time.Minute)

	// A reset in the past lifts the hold
	r.UpdateFromResponse(&http.Response{Header: headers(
		HeaderRateReset, strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10),
	)})
	assert.NoError(t, r.Wait(context.Background()))
	_, known := r.Quota()
	assert.False(t, known)
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, IsRateLimited(nil))
	assert.True(t, IsRateLimited(&http.Response{StatusCode: http.StatusTooManyRequests, Header: headers()}))
	assert.True(t, IsRateLimited(&http.Response{StatusCode: http.StatusForbidden, Header: headers(HeaderRateRemaining, "0")}))
	assert.False(t, IsRateLimited(&http.Response{StatusCode: http.StatusForbidden, Header: headers(HeaderRateRemaining, "12")}))
}
