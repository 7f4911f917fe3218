// Package bundle assembles a Bundle from the resolver, fetcher and parser.
//
// A build is a small state machine: Resolving, Fetching, Parsing and Done,
// with Errored reachable from each of the first three. Build always returns
// a fully formed Bundle; stage failures and panics end in Errored.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/metrics"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// State is a step of a build
type State string

const (
	StateResolving State = "resolving"
	StateFetching  State = "fetching"
	StateParsing   State = "parsing"
	StateDone      State = "done"
	StateErrored   State = "errored"
)

// Builder runs bundle builds. It holds no per-build state and is safe for
// concurrent use.
type Builder struct {
	resolver domain.RefResolver
	fetcher  domain.ContentFetcher
	parser   domain.DocumentParser
	locator  Locator
	timeout  time.Duration
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// Options contains options for creating a Builder
type Options struct {
	Resolver domain.RefResolver
	Fetcher  domain.ContentFetcher
	Parser   domain.DocumentParser
	Locator  Locator       // zero value means DefaultLocator()
	Timeout  time.Duration // per build; zero disables
	Logger   *utils.Logger
	Metrics  *metrics.Metrics
}

// New creates a new Builder
func New(opts Options) *Builder {
	if opts.Locator == (Locator{}) {
		opts.Locator = DefaultLocator()
	}
	return &Builder{
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		parser:   opts.Parser,
		locator:  opts.Locator,
		timeout:  opts.Timeout,
		logger:   opts.Logger.OrNop().WithComponent("builder"),
		metrics:  opts.Metrics,
	}
}

// run carries one build through the state machine
type run struct {
	req    domain.BundleRequest
	state  State
	ref    domain.ResolvedRef
	source string
	data   []byte
	doc    *domain.ParsedDocument
	err    error
}

// Build runs the pipeline for req. It never panics and never returns nil:
// the result has exactly one of Data and Error set.
func (b *Builder) Build(ctx context.Context, req domain.BundleRequest) (bundle *domain.Bundle) {
	start := time.Now()
	r := &run{req: req.WithDefaults(), state: StateResolving}
	logger := b.logger.WithRequest(r.req.Owner, r.req.Repository, r.req.Ref, r.req.Path)

	defer func() {
		if p := recover(); p != nil {
			r.fail(fmt.Errorf("%w: panic while %s: %v", panicCause(r.state), r.state, p))
			bundle = r.bundle()
		}
		b.observe(logger, r, bundle, time.Since(start))
	}()

	if err := r.req.Validate(); err != nil {
		r.fail(err)
		return r.bundle()
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	for r.state != StateDone && r.state != StateErrored {
		if err := ctx.Err(); err != nil {
			r.fail(err)
			break
		}
		logger.Debug().Str("state", string(r.state)).Msg("Entering build state")

		switch r.state {
		case StateResolving:
			b.resolve(ctx, r)
		case StateFetching:
			b.fetch(ctx, r)
		case StateParsing:
			b.parse(r)
		}
	}

	return r.bundle()
}

func (b *Builder) resolve(ctx context.Context, r *run) {
	ref, err := b.resolver.Resolve(ctx, r.req.Owner, r.req.Repository, r.req.Ref)
	if err != nil {
		r.fail(err)
		return
	}
	r.ref = ref
	r.state = StateFetching
}

// fetch reads the primary file and, when it is missing or a directory,
// the index fallback once
func (b *Builder) fetch(ctx context.Context, r *run) {
	source := b.locator.Primary(r.req.Path)
	content, err := b.fetcher.Fetch(ctx, r.req.Owner, r.req.Repository, r.ref.CommitSHA, source)

	missing := errors.Is(err, domain.ErrContentNotFound) ||
		(err == nil && content.Type() == domain.ContentDirectory)
	if fallback, ok := b.locator.FallbackFor(r.req.Path); missing && ok {
		b.logger.Debug().Str("from", source).Str("to", fallback).Msg("Trying index fallback")
		source = fallback
		content, err = b.fetcher.Fetch(ctx, r.req.Owner, r.req.Repository, r.ref.CommitSHA, source)
	}

	if err != nil {
		r.fail(err)
		return
	}
	if content.Type() != domain.ContentFile {
		r.fail(fmt.Errorf("%w: %s is a %s", domain.ErrContentNotFound, source, content.Type()))
		return
	}

	r.source = source
	r.data = content.Bytes()
	r.state = StateParsing
}

func (b *Builder) parse(r *run) {
	doc, err := b.parser.Parse(r.data, r.req.HeaderDepth)
	if err != nil {
		r.fail(err)
		return
	}
	r.doc = doc
	r.state = StateDone
}

func (b *Builder) observe(logger *utils.Logger, r *run, bundle *domain.Bundle, elapsed time.Duration) {
	b.metrics.ObserveBuild(bundle, elapsed)

	if bundle.OK() {
		logger.Info().
			Str("commit", r.ref.CommitSHA).
			Str("source", r.source).
			Int("headings", len(r.doc.Headings)).
			Dur("duration", elapsed).
			Msg("Bundle built")
		return
	}

	logger.Warn().
		Err(r.err).
		Str("code", string(bundle.Error.Code)).
		Str("commit", r.ref.CommitSHA).
		Dur("duration", elapsed).
		Msg("Bundle build failed")
}

func (r *run) fail(err error) {
	r.err = err
	r.state = StateErrored
}

func (r *run) bundle() *domain.Bundle {
	if r.state == StateDone && r.doc != nil {
		return domain.NewDoneBundle(r.req, r.ref, r.source, r.doc)
	}
	err := r.err
	if err == nil {
		err = fmt.Errorf("%w: build stopped while %s", domain.ErrUpstreamUnavailable, r.state)
	}
	return domain.NewErroredBundle(r.req, r.ref, err)
}

// panicCause picks the error code reported for a panic in a stage
func panicCause(state State) error {
	if state == StateParsing {
		return domain.ErrMalformedContent
	}
	return domain.ErrUpstreamUnavailable
}
