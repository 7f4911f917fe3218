// Package github implements domain.Provider on the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/utils"
	"github.com/quantmind-br/docbundle/pkg/version"
)

const (
	// Name identifies this provider in config and logs.
	Name = "github"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// maxTagDepth bounds how many annotated tags are peeled.
	maxTagDepth = 8
)

var _ domain.Provider = (*Provider)(nil)

// Options configures a Provider
type Options struct {
	Token             string // empty means unauthenticated
	BaseURL           string // GitHub Enterprise API URL; empty means github.com
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client // base transport, mainly for tests
	Logger            *utils.Logger
}

// Provider wraps the go-github client
type Provider struct {
	client  *gh.Client
	limiter *RateLimiter
	logger  *utils.Logger
}

// New creates a GitHub provider
func New(opts Options) (*Provider, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}

	httpClient := &http.Client{Transport: base.Transport, Timeout: opts.Timeout}
	if opts.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = opts.Timeout
	}

	client := gh.NewClient(httpClient)
	client.UserAgent = version.UserAgent()
	if opts.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
		}
	}

	return &Provider{
		client:  client,
		limiter: NewRateLimiter(opts.RequestsPerSecond),
		logger:  opts.Logger.OrNop().WithComponent("github"),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Quota returns the API quota reported by the most recent response
func (p *Provider) Quota() (Quota, bool) {
	return p.limiter.Quota()
}

// DefaultBranch returns the repository's default branch
func (p *Provider) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	repository, err := call(ctx, p, "get repository", func() (*gh.Repository, *gh.Response, error) {
		return p.client.Repositories.Get(ctx, owner, repo)
	})
	if err != nil {
		return "", err
	}
	branch := repository.GetDefaultBranch()
	if branch == "" {
		return "", fmt.Errorf("repository %s/%s has no default branch: %w", owner, repo, domain.ErrNotFound)
	}
	return branch, nil
}

// ResolveBranch returns the tip commit of a branch
func (p *Provider) ResolveBranch(ctx context.Context, owner, repo, branch string) (string, error) {
	ref, err := call(ctx, p, "get branch ref", func() (*gh.Reference, *gh.Response, error) {
		return p.client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	})
	if err != nil {
		return "", err
	}
	return commitOf(ref.GetObject(), "branch "+branch)
}

// ResolveTag returns the commit a tag points to, peeling annotated tags
func (p *Provider) ResolveTag(ctx context.Context, owner, repo, tag string) (string, error) {
	ref, err := call(ctx, p, "get tag ref", func() (*gh.Reference, *gh.Response, error) {
		return p.client.Git.GetRef(ctx, owner, repo, "tags/"+tag)
	})
	if err != nil {
		return "", err
	}

	obj := ref.GetObject()
	for i := 0; obj.GetType() == "tag" && i < maxTagDepth; i++ {
		annotated, err := call(ctx, p, "get tag", func() (*gh.Tag, *gh.Response, error) {
			return p.client.Git.GetTag(ctx, owner, repo, obj.GetSHA())
		})
		if err != nil {
			return "", err
		}
		obj = annotated.GetObject()
	}
	return commitOf(obj, "tag "+tag)
}

// ResolveCommit expands a full or abbreviated commit id
func (p *Provider) ResolveCommit(ctx context.Context, owner, repo, rev string) (string, error) {
	rev = strings.ToLower(rev)
	if !domain.IsCommitPrefix(rev) {
		return "", fmt.Errorf("%q is not a commit id: %w", rev, domain.ErrNotFound)
	}

	sha, err := call(ctx, p, "get commit", func() (string, *gh.Response, error) {
		return p.client.Repositories.GetCommitSHA1(ctx, owner, repo, rev, "")
	})
	if err != nil {
		// GitHub answers 422 for ids that name no commit
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusUnprocessableEntity {
			return "", fmt.Errorf("commit %s: %w", rev, domain.ErrNotFound)
		}
		return "", err
	}

	sha = strings.ToLower(strings.TrimSpace(sha))
	if !domain.IsCommitSHA(sha) || !strings.HasPrefix(sha, rev) {
		return "", fmt.Errorf("commit %s: %w", rev, domain.ErrNotFound)
	}
	return sha, nil
}

// GetContent returns the file or directory at path in commit sha
func (p *Provider) GetContent(ctx context.Context, owner, repo, sha, path string) (*domain.FetchedContent, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	p.logger.Debug().Str("owner", owner).Str("repo", repo).Str("path", path).Msg("Fetching contents")

	opts := &gh.RepositoryContentGetOptions{Ref: sha}
	file, dir, resp, err := p.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	p.observe(resp)
	if err != nil {
		return nil, p.wrapError("get contents", err)
	}

	etag := ""
	if resp != nil {
		etag = resp.Header.Get("ETag")
	}

	if file == nil {
		names := make([]string, 0, len(dir))
		for _, entry := range dir {
			names = append(names, entry.GetName())
		}
		sort.Strings(names)
		return domain.NewDirectoryContent(names, etag), nil
	}

	if file.GetType() != "file" {
		return nil, fmt.Errorf("%s is a %s: %w", path, file.GetType(), domain.ErrNotFound)
	}
	if etag == "" {
		etag = file.GetSHA()
	}

	// Files over 1MB come back without inline content
	if file.GetEncoding() == "none" {
		data, err := call(ctx, p, "get blob", func() ([]byte, *gh.Response, error) {
			return p.client.Git.GetBlobRaw(ctx, owner, repo, file.GetSHA())
		})
		if err != nil {
			return nil, err
		}
		return domain.NewFileContent(data, etag), nil
	}

	text, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return domain.NewFileContent([]byte(text), etag), nil
}

// call waits for the limiter, runs fn and classifies its error
func call[T any](ctx context.Context, p *Provider, op string, fn func() (T, *gh.Response, error)) (T, error) {
	var zero T
	if err := p.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	v, resp, err := fn()
	p.observe(resp)
	if err != nil {
		return zero, p.wrapError(op, err)
	}
	return v, nil
}

func (p *Provider) observe(resp *gh.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	p.limiter.UpdateFromResponse(resp.Response)
}

// wrapError converts go-github errors to the domain error taxonomy
func (p *Provider) wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time)
		if wait < 0 {
			wait = 0
		}
		return domain.NewRateLimitError(domain.NewUpstreamError(op, statusOf(rateErr.Response), err), wait)
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return domain.NewRateLimitError(domain.NewUpstreamError(op, statusOf(abuseErr.Response), err), abuseErr.GetRetryAfter())
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		resp := respErr.Response
		switch {
		case IsRateLimited(resp):
			return domain.NewRateLimitError(domain.NewUpstreamError(op, resp.StatusCode, err), RetryAfter(resp, time.Now()))
		case resp.StatusCode == http.StatusNotFound:
			return domain.NewUpstreamError(op, resp.StatusCode, fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.Message))
		case resp.StatusCode >= 500:
			return domain.NewTransientError(domain.NewUpstreamError(op, resp.StatusCode, err))
		default:
			return domain.NewUpstreamError(op, resp.StatusCode, err)
		}
	}

	p.logger.Debug().Err(err).Str("op", op).Msg("Transport error")
	return domain.NewTransientError(fmt.Errorf("%s: %w", op, err))
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func commitOf(obj *gh.GitObject, what string) (string, error) {
	if obj.GetType() != "commit" {
		return "", fmt.Errorf("%s does not point to a commit: %w", what, domain.ErrNotFound)
	}
	return strings.ToLower(obj.GetSHA()), nil
}
