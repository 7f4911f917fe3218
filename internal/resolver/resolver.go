package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/fetcher"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// Ensure Resolver implements domain.RefResolver
var _ domain.RefResolver = (*Resolver)(nil)

// Resolver turns a requested ref into a commit.
//
// "HEAD" resolves to the tip of the default branch. Any other ref is tried
// as a branch, then a tag, then a full or abbreviated commit id; the first
// match wins. Only a not-found answer moves on to the next kind, any other
// failure ends resolution.
type Resolver struct {
	provider domain.Provider
	retrier  *fetcher.Retrier
	logger   *utils.Logger
}

// Options contains options for creating a Resolver
type Options struct {
	Provider domain.Provider
	Retrier  *fetcher.Retrier
	Logger   *utils.Logger
}

// New creates a new Resolver
func New(opts Options) *Resolver {
	if opts.Retrier == nil {
		opts.Retrier = fetcher.NewRetrier(fetcher.DefaultRetrierOptions())
	}
	return &Resolver{
		provider: opts.Provider,
		retrier:  opts.Retrier,
		logger:   opts.Logger.OrNop().WithComponent("resolver"),
	}
}

type lookup struct {
	kind string
	fn   func(ctx context.Context, owner, repo, name string) (string, error)
}

// Resolve returns the commit and default branch for ref
func (r *Resolver) Resolve(ctx context.Context, owner, repo, ref string) (domain.ResolvedRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = domain.HeadRef
	}

	defaultBranch, err := fetcher.RetryWithValue(ctx, r.retrier, "default_branch", func(ctx context.Context) (string, error) {
		return r.provider.DefaultBranch(ctx, owner, repo)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ResolvedRef{}, fmt.Errorf("%w: repository %s/%s", domain.ErrRefNotFound, owner, repo)
		}
		return domain.ResolvedRef{}, err
	}

	lookups := []lookup{
		{kind: "branch", fn: r.provider.ResolveBranch},
		{kind: "tag", fn: r.provider.ResolveTag},
		{kind: "commit", fn: r.provider.ResolveCommit},
	}
	name := ref
	if ref == domain.HeadRef {
		lookups = lookups[:1]
		name = defaultBranch
	}

	for _, l := range lookups {
		sha, err := fetcher.RetryWithValue(ctx, r.retrier, "resolve_"+l.kind, func(ctx context.Context) (string, error) {
			return l.fn(ctx, owner, repo, name)
		})
		if err == nil {
			sha = strings.ToLower(sha)
			if !domain.IsCommitSHA(sha) {
				return domain.ResolvedRef{}, fmt.Errorf("%s %q resolved to invalid commit id %q: %w", l.kind, name, sha, domain.ErrUpstreamUnavailable)
			}
			r.logger.Debug().
				Str("ref", ref).
				Str("kind", l.kind).
				Str("sha", sha).
				Msg("Resolved ref")
			return domain.ResolvedRef{CommitSHA: sha, DefaultBranch: defaultBranch}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.ResolvedRef{}, err
		}
	}

	return domain.ResolvedRef{}, fmt.Errorf("%w: %s", domain.ErrRefNotFound, ref)
}
