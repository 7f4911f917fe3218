package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantmind-br/docbundle/internal/cache"
	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/metrics"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// Ensure Fetcher implements domain.ContentFetcher
var _ domain.ContentFetcher = (*Fetcher)(nil)

// Fetcher retrieves content addressed by (owner, repository, commit, path).
// Entries never expire: a commit SHA names immutable content, so a hit is
// always valid. Concurrent misses on the same key may both reach upstream;
// the later write stores an identical value.
type Fetcher struct {
	provider domain.Provider
	cache    domain.Cache
	retrier  *Retrier
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// Options contains options for creating a Fetcher
type Options struct {
	Provider domain.Provider
	Cache    domain.Cache // nil disables caching
	Retrier  *Retrier
	Logger   *utils.Logger
	Metrics  *metrics.Metrics
}

// New creates a new Fetcher
func New(opts Options) *Fetcher {
	if opts.Retrier == nil {
		opts.Retrier = NewRetrier(DefaultRetrierOptions())
	}
	return &Fetcher{
		provider: opts.Provider,
		cache:    opts.Cache,
		retrier:  opts.Retrier,
		logger:   opts.Logger.OrNop().WithComponent("fetcher"),
		metrics:  opts.Metrics,
	}
}

// Fetch returns the content at path in commit sha. A missing path fails
// with domain.ErrContentNotFound; directories are returned as content of
// type domain.ContentDirectory.
func (f *Fetcher) Fetch(ctx context.Context, owner, repo, sha, path string) (*domain.FetchedContent, error) {
	cacheable := f.cache != nil && domain.IsCommitSHA(strings.ToLower(sha))
	key := cache.ContentKey(owner, repo, sha, path)

	if cacheable {
		if content, ok := f.fromCache(ctx, key); ok {
			f.metrics.ObserveCache(true)
			f.logger.Debug().Str("path", path).Str("sha", sha).Msg("Content cache hit")
			return result(content, path)
		}
		f.metrics.ObserveCache(false)
	}

	content, err := RetryWithValue(ctx, f.retrier, "get_content", func(ctx context.Context) (*domain.FetchedContent, error) {
		return f.provider.GetContent(ctx, owner, repo, sha, path)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		content = domain.NewNotFoundContent()
	}

	if cacheable {
		f.store(ctx, key, content)
	}

	return result(content, path)
}

func result(content *domain.FetchedContent, path string) (*domain.FetchedContent, error) {
	if content.Type() == domain.ContentNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrContentNotFound, path)
	}
	return content, nil
}

func (f *Fetcher) fromCache(ctx context.Context, key string) (*domain.FetchedContent, bool) {
	data, err := f.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			f.logger.Warn().Err(err).Msg("Content cache read failed")
		}
		return nil, false
	}

	content, err := cache.DecodeContent(data)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Dropping undecodable cache entry")
		_ = f.cache.Delete(ctx, key)
		return nil, false
	}
	return content.WithFromCache(true), true
}

// store writes content without expiry. Write failures only cost a future miss.
func (f *Fetcher) store(ctx context.Context, key string, content *domain.FetchedContent) {
	data, err := cache.EncodeContent(content)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Content cache encode failed")
		return
	}
	if err := f.cache.Set(ctx, key, data, 0); err != nil {
		f.logger.Warn().Err(err).Msg("Content cache write failed")
	}
}
