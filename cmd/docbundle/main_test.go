package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quantmind-br/docbundle/internal/app"
	"github.com/quantmind-br/docbundle/internal/cache"
	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/manifest"
	"github.com/quantmind-br/docbundle/internal/mocks"
	"github.com/quantmind-br/docbundle/internal/output"
	"github.com/quantmind-br/docbundle/internal/provider/github"
	"github.com/quantmind-br/docbundle/internal/utils"
	"github.com/quantmind-br/docbundle/pkg/version"
)

const sha = "0123456789abcdef0123456789abcdef01234567"

// isolate runs the test in an empty directory with no user config
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("DOCBUNDLE_CACHE_BACKEND", "memory")
	return dir
}

// withProvider makes every service built by the CLI use p
func withProvider(t *testing.T, p domain.Provider) {
	t.Helper()
	if m, ok := p.(*mocks.MockProvider); ok {
		m.EXPECT().Name().Return("mock").AnyTimes()
	}
	orig := newService
	newService = func(opts app.ServiceOptions) (*app.Service, error) {
		opts.Provider = p
		opts.Logger = utils.NewNopLogger()
		return app.NewService(opts)
	}
	t.Cleanup(func() { newService = orig })
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "docbundle", cmd.Use)

	for _, name := range []string{"config", "verbose", "no-cache", "provider", "token", "timeout", "log-format"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"build", "serve", "doctor", "cache", "version"})
}

func TestVersionCmd(t *testing.T) {
	orig := version.Version
	defer func() { version.Version = orig }()
	version.Version = "9.9.9"

	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docbundle 9.9.9")
}

func TestBuildCmd_SingleBundle(t *testing.T) {
	isolate(t)
	ctrl := gomock.NewController(t)
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil)
	p.EXPECT().ResolveBranch(gomock.Any(), "acme", "docs", "v1").Return(sha, nil)
	p.EXPECT().GetContent(gomock.Any(), "acme", "docs", sha, "docs/guide.mdx").
		Return(domain.NewFileContent([]byte("---\ntitle: Guide\n---\n# Guide\n"), ""), nil)
	withProvider(t, p)

	out, err := execute(t, context.Background(), "build", "acme/docs@v1", "guide")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "docs/guide.mdx", body["source"])
	assert.Nil(t, body["error"])
	data := body["data"].(map[string]any)
	assert.Equal(t, map[string]any{"title": "Guide"}, data["frontmatter"])
}

func TestBuildCmd_URLAndRefFlag(t *testing.T) {
	isolate(t)
	ctrl := gomock.NewController(t)
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil)
	p.EXPECT().ResolveBranch(gomock.Any(), "acme", "docs", "next").Return(sha, nil)
	p.EXPECT().GetContent(gomock.Any(), "acme", "docs", sha, "docs/guide/setup.mdx").
		Return(domain.NewFileContent([]byte("# Setup\n"), ""), nil)
	withProvider(t, p)

	out, err := execute(t, context.Background(),
		"build", "https://github.com/acme/docs/blob/main/docs/guide/setup.mdx", "--ref", "next", "--no-cache")
	require.NoError(t, err)
	assert.Contains(t, out, `"source":"docs/guide/setup.mdx"`)
}

func TestBuildCmd_ReportsFailures(t *testing.T) {
	isolate(t)
	ctrl := gomock.NewController(t)
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil).AnyTimes()
	p.EXPECT().ResolveBranch(gomock.Any(), "acme", "docs", "main").Return(sha, nil).AnyTimes()
	p.EXPECT().GetContent(gomock.Any(), "acme", "docs", sha, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, _, path string) (*domain.FetchedContent, error) {
			if path == "docs/a.mdx" {
				return domain.NewFileContent([]byte("# A\n"), ""), nil
			}
			return nil, domain.NewUpstreamError("get_content", 404, domain.ErrNotFound)
		}).AnyTimes()
	withProvider(t, p)

	out, err := execute(t, context.Background(), "build", "acme/docs", "a", "missing", "--pretty")
	require.Error(t, err)
	assert.Equal(t, "1 of 2 bundles failed", err.Error())

	var bundles []domain.Bundle
	require.NoError(t, json.Unmarshal([]byte(out), &bundles))
	require.Len(t, bundles, 2)
	assert.NotNil(t, bundles[0].Data)
	require.NotNil(t, bundles[1].Error)
	assert.Equal(t, domain.CodeContentNotFound, bundles[1].Error.Code)
}

func TestBuildCmd_InvalidTarget(t *testing.T) {
	isolate(t)
	withProvider(t, mocks.NewMockProvider(gomock.NewController(t)))

	_, err := execute(t, context.Background(), "build", "not-a-repo")
	assert.Error(t, err)

	_, err = execute(t, context.Background(), "build")
	assert.Error(t, err)
}

func TestBuildCmd_ConfigFile(t *testing.T) {
	dir := isolate(t)
	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("content:\n  root: site\n  extension: .md\n"), 0644))

	ctrl := gomock.NewController(t)
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil)
	p.EXPECT().ResolveBranch(gomock.Any(), "acme", "docs", "main").Return(sha, nil)
	p.EXPECT().GetContent(gomock.Any(), "acme", "docs", sha, "site/index.md").
		Return(domain.NewFileContent([]byte("# Home\n"), ""), nil)
	withProvider(t, p)

	out, err := execute(t, context.Background(), "--config", file, "build", "acme/docs")
	require.NoError(t, err)
	assert.Contains(t, out, `"source":"site/index.md"`)
}

func TestBuildCmd_ManifestWritesOutput(t *testing.T) {
	dir := isolate(t)
	manifestFile := filepath.Join(dir, "bundles.yaml")
	require.NoError(t, os.WriteFile(manifestFile, []byte(`
bundles:
  - repository: acme/docs
    paths: [a, missing]
options:
  continue_on_error: true
  output: out
`), 0644))

	ctrl := gomock.NewController(t)
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil).AnyTimes()
	p.EXPECT().ResolveBranch(gomock.Any(), "acme", "docs", "main").Return(sha, nil).AnyTimes()
	p.EXPECT().GetContent(gomock.Any(), "acme", "docs", sha, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, _, path string) (*domain.FetchedContent, error) {
			if path == "docs/a.mdx" {
				return domain.NewFileContent([]byte("# A\n"), ""), nil
			}
			return nil, domain.NewUpstreamError("get_content", 404, domain.ErrNotFound)
		}).AnyTimes()
	withProvider(t, p)

	out, err := execute(t, context.Background(), "build", "--manifest", manifestFile)
	require.NoError(t, err, "continue_on_error tolerates the missing page")
	assert.Empty(t, out)

	assert.FileExists(t, filepath.Join(dir, "out", "acme", "docs", "a.json"))
	assert.FileExists(t, filepath.Join(dir, "out", "acme", "docs", "missing.json"))

	data, err := os.ReadFile(filepath.Join(dir, "out", output.DefaultIndexFilename))
	require.NoError(t, err)
	var index output.Index
	require.NoError(t, json.Unmarshal(data, &index))
	assert.Equal(t, 2, index.Total)
	assert.Equal(t, 1, index.Failed)
}

func TestBuildCmd_OutputFlag(t *testing.T) {
	dir := isolate(t)
	ctrl := gomock.NewController(t)
	p := mocks.NewMockProvider(ctrl)
	p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil)
	p.EXPECT().ResolveBranch(gomock.Any(), "acme", "docs", "main").Return(sha, nil)
	p.EXPECT().GetContent(gomock.Any(), "acme", "docs", sha, "docs/index.mdx").
		Return(domain.NewFileContent([]byte("# Home\n"), ""), nil)
	withProvider(t, p)

	_, err := execute(t, context.Background(), "build", "acme/docs", "-o", "saved")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "saved", "acme", "docs", "index.json"))
}

func TestBuildCmd_ManifestArgumentErrors(t *testing.T) {
	isolate(t)
	withProvider(t, mocks.NewMockProvider(gomock.NewController(t)))

	_, err := execute(t, context.Background(), "build", "--manifest", "bundles.yaml", "acme/docs")
	assert.ErrorContains(t, err, "cannot be combined")

	_, err = execute(t, context.Background(), "build", "--manifest", "missing.yaml")
	assert.ErrorIs(t, err, manifest.ErrFileNotFound)
}

func TestDoctorCmd(t *testing.T) {
	t.Run("upstream reachable", func(t *testing.T) {
		isolate(t)
		ctrl := gomock.NewController(t)
		p := mocks.NewMockProvider(ctrl)
		p.EXPECT().DefaultBranch(gomock.Any(), "acme", "docs").Return("main", nil)
		withProvider(t, p)

		out, err := execute(t, context.Background(), "doctor", "--repo", "acme/docs")
		require.NoError(t, err)
		assert.Contains(t, out, "Config: OK (defaults)")
		assert.Contains(t, out, "Cache directory: SKIPPED (memory backend)")
		assert.Contains(t, out, "Upstream token: NOT SET")
		assert.Contains(t, out, "Upstream: OK (github, default branch main)")
		assert.Contains(t, out, "All critical checks passed!")
	})

	t.Run("upstream failure", func(t *testing.T) {
		isolate(t)
		t.Setenv("DOCBUNDLE_CACHE_BACKEND", "badger")
		t.Setenv("GITHUB_TOKEN", "secret")
		ctrl := gomock.NewController(t)
		p := mocks.NewMockProvider(ctrl)
		p.EXPECT().DefaultBranch(gomock.Any(), "acme", "gone").
			Return("", domain.NewUpstreamError("default_branch", 404, domain.ErrNotFound))
		withProvider(t, p)

		out, err := execute(t, context.Background(), "doctor", "--repo", "acme/gone")
		require.NoError(t, err)
		assert.Contains(t, out, "Cache directory: OK")
		assert.Contains(t, out, "Upstream token: OK")
		assert.Contains(t, out, "Upstream: FAILED")
		assert.Contains(t, out, "Some checks failed.")
	})

	t.Run("github quota", func(t *testing.T) {
		isolate(t)
		reset := time.Now().Add(30 * time.Minute)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v3/repos/acme/docs" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set(github.HeaderRateLimit, "5000")
			w.Header().Set(github.HeaderRateRemaining, "4321")
			w.Header().Set(github.HeaderRateReset, strconv.FormatInt(reset.Unix(), 10))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"docs","default_branch":"trunk"}`))
		}))
		t.Cleanup(srv.Close)

		p, err := github.New(github.Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
		require.NoError(t, err)
		withProvider(t, p)

		out, err := execute(t, context.Background(), "doctor", "--repo", "acme/docs")
		require.NoError(t, err)
		assert.Contains(t, out, "Upstream: OK (github, default branch trunk)")
		assert.Contains(t, out, "Rate limit: 4321 of 5000 remaining, resets at "+time.Unix(reset.Unix(), 0).Local().Format(time.Kitchen))
		assert.Contains(t, out, "All critical checks passed!")
	})

	t.Run("no repository", func(t *testing.T) {
		isolate(t)
		out, err := execute(t, context.Background(), "doctor")
		require.NoError(t, err)
		assert.Contains(t, out, "Upstream: SKIPPED")
	})

	t.Run("invalid config", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("upstream:\n  provider: svn\n"), 0644))

		out, err := execute(t, context.Background(), "doctor")
		require.NoError(t, err)
		assert.Contains(t, out, "Config: FAILED")
	})
}

func TestServeCmd_StopsOnCancel(t *testing.T) {
	isolate(t)
	withProvider(t, mocks.NewMockProvider(gomock.NewController(t)))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "serve", "--addr", addr)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCacheCmd(t *testing.T) {
	dir := isolate(t)
	cacheDir := filepath.Join(dir, "cache")
	t.Setenv("DOCBUNDLE_CACHE_BACKEND", "badger")
	t.Setenv("DOCBUNDLE_CACHE_DIRECTORY", cacheDir)

	store, err := cache.NewBadgerCache(cache.Options{Directory: cacheDir})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "a", []byte("one"), 0))
	require.NoError(t, store.Set(ctx, "b", []byte("two"), 0))
	require.NoError(t, store.Close())

	out, err := execute(t, ctx, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Directory: "+cacheDir)
	assert.Contains(t, out, "Entries:   2")

	out, err = execute(t, ctx, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 entries")

	out, err = execute(t, ctx, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Entries:   0")
}

func TestCacheCmd_MemoryBackend(t *testing.T) {
	isolate(t)
	_, err := execute(t, context.Background(), "cache", "stats")
	assert.ErrorContains(t, err, "keeps nothing on disk")
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, checkWritable(filepath.Join(dir, "nested", "cache")))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.False(t, checkWritable(filepath.Join(file, "cache")))
}
