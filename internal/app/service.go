// Package app wires configuration into a ready-to-use bundle pipeline.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantmind-br/docbundle/internal/bundle"
	"github.com/quantmind-br/docbundle/internal/cache"
	"github.com/quantmind-br/docbundle/internal/config"
	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/fetcher"
	"github.com/quantmind-br/docbundle/internal/metrics"
	"github.com/quantmind-br/docbundle/internal/parser"
	"github.com/quantmind-br/docbundle/internal/provider/github"
	"github.com/quantmind-br/docbundle/internal/provider/gitremote"
	"github.com/quantmind-br/docbundle/internal/resolver"
	"github.com/quantmind-br/docbundle/internal/server"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// Service owns the pipeline stages and their shared resources
type Service struct {
	config   *config.Config
	cache    domain.Cache
	provider domain.Provider
	locator  bundle.Locator
	builder  *bundle.Builder
	metrics  *metrics.Metrics
	logger   *utils.Logger
}

// ServiceOptions contains options for creating a Service
type ServiceOptions struct {
	Config  *config.Config
	Verbose bool
	Logger  *utils.Logger

	// Provider and Cache replace the configured ones, mainly for tests
	Provider domain.Provider
	Cache    domain.Cache
	Metrics  *metrics.Metrics
}

// NewService creates the cache, provider and stages described by the config
func NewService(opts ServiceOptions) (*Service, error) {
	cfg := opts.Config

	// Validate config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger(utils.LoggerOptions{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			Verbose: opts.Verbose,
		})
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	store := opts.Cache
	if store == nil && cfg.Cache.Enabled {
		var err error
		store, err = cache.New(cache.Options{
			Backend:       cfg.Cache.Backend,
			Directory:     utils.ExpandPath(cfg.Cache.Directory),
			MemoryEntries: cfg.Cache.MemoryEntries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
	}

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = newProvider(cfg, logger)
		if err != nil {
			if store != nil && opts.Cache == nil {
				_ = store.Close()
			}
			return nil, err
		}
	}

	retrier := fetcher.NewRetrier(fetcher.RetrierOptions{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
		OnAttempt:       m.ObserveAttempt,
	})

	locator := bundle.Locator{
		Root:      cfg.Content.Root,
		Extension: cfg.Content.Extension,
		IndexName: cfg.Content.IndexName,
		Fallback:  cfg.Content.Fallback,
	}

	builder := bundle.New(bundle.Options{
		Resolver: resolver.New(resolver.Options{Provider: provider, Retrier: retrier, Logger: logger}),
		Fetcher: fetcher.New(fetcher.Options{
			Provider: provider,
			Cache:    store,
			Retrier:  retrier,
			Logger:   logger,
			Metrics:  m,
		}),
		Parser:  parser.New(parser.Options{Logger: logger}),
		Locator: locator,
		Timeout: cfg.Bundle.Timeout,
		Logger:  logger,
		Metrics: m,
	})

	logger.Debug().
		Str("provider", provider.Name()).
		Bool("cache", store != nil).
		Str("cache_backend", cfg.Cache.Backend).
		Int("max_attempts", retrier.MaxAttempts()).
		Msg("Bundle service ready")

	return &Service{
		config:   cfg,
		cache:    store,
		provider: provider,
		locator:  locator,
		builder:  builder,
		metrics:  m,
		logger:   logger,
	}, nil
}

// newProvider creates the upstream named by upstream.provider
func newProvider(cfg *config.Config, logger *utils.Logger) (domain.Provider, error) {
	switch cfg.Upstream.Provider {
	case config.ProviderGit:
		p, err := gitremote.New(gitremote.Options{
			URLTemplate: cfg.Upstream.GitURL,
			Token:       cfg.Upstream.Token,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create git provider: %w", err)
		}
		return p, nil
	case config.ProviderGitHub, "":
		p, err := github.New(github.Options{
			Token:             cfg.Upstream.Token,
			BaseURL:           cfg.Upstream.BaseURL,
			Timeout:           cfg.Upstream.Timeout,
			RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create github provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown upstream provider %q", cfg.Upstream.Provider)
	}
}

// Build runs one bundle build
func (s *Service) Build(ctx context.Context, req domain.BundleRequest) *domain.Bundle {
	if req.HeaderDepth <= 0 {
		req.HeaderDepth = s.config.Bundle.HeaderDepth
	}
	return s.builder.Build(ctx, req)
}

// BuildMany builds requests concurrently with at most workers builds in
// flight. Bundles are returned in request order; requests not started
// before ctx is done come back as Cancelled bundles.
func (s *Service) BuildMany(ctx context.Context, reqs []domain.BundleRequest, workers int) []*domain.Bundle {
	pool := utils.NewPool(workers, func(ctx context.Context, req domain.BundleRequest) (*domain.Bundle, error) {
		return s.Build(ctx, req), nil
	})

	tasks := pool.Process(ctx, reqs)
	bundles := make([]*domain.Bundle, len(tasks))
	for i, task := range tasks {
		switch {
		case task.Result != nil:
			bundles[i] = task.Result
		case task.Err != nil:
			bundles[i] = domain.NewErroredBundle(task.Data.WithDefaults(), domain.ResolvedRef{}, task.Err)
		default:
			bundles[i] = domain.NewErroredBundle(task.Data.WithDefaults(), domain.ResolvedRef{}, errors.New("build was not run"))
		}
	}
	return bundles
}

// NewServer creates the HTTP server for this service
func (s *Service) NewServer() *server.Server {
	domains := make([]server.Domain, 0, len(s.config.Domains))
	for _, d := range s.config.Domains {
		domains = append(domains, server.Domain{Hostname: d.Hostname, Path: d.Path})
	}

	return server.New(server.Options{
		Builder:      s,
		Domains:      server.NewDomains(domains),
		Metrics:      s.metrics,
		Logger:       s.logger,
		Address:      s.config.Server.Address,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		HeaderDepth:  s.config.Bundle.HeaderDepth,
	})
}

// Provider returns the upstream provider
func (s *Service) Provider() domain.Provider {
	return s.provider
}

// Locator returns the repository file layout
func (s *Service) Locator() bundle.Locator {
	return s.locator
}

// Metrics returns the service metrics
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Logger returns the service logger
func (s *Service) Logger() *utils.Logger {
	return s.logger
}

// Close releases the cache
func (s *Service) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}
