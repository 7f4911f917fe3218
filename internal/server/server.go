// Package server exposes bundle builds over HTTP.
//
// It parses and validates query parameters, rejects bad input with
// BAD_REQUEST before any build runs, maps bundle error codes to HTTP
// statuses and routes custom hostnames to their repositories.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/metrics"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// BundleBuilder builds one bundle. *bundle.Builder satisfies it.
type BundleBuilder interface {
	Build(ctx context.Context, req domain.BundleRequest) *domain.Bundle
}

// Default server settings
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Server serves the bundle API
type Server struct {
	builder      BundleBuilder
	domains      *Domains
	metrics      *metrics.Metrics
	logger       *utils.Logger
	headerDepth  int
	redirectBase string
	http         *http.Server
}

// Options contains options for creating a Server
type Options struct {
	Builder      BundleBuilder
	Domains      *Domains
	Metrics      *metrics.Metrics
	Logger       *utils.Logger
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// HeaderDepth is used when the query has no headerDepth
	HeaderDepth int
	// RedirectScheme is the scheme of custom-domain redirects (default https)
	RedirectScheme string
}

// New creates a new Server
func New(opts Options) *Server {
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.HeaderDepth <= 0 {
		opts.HeaderDepth = domain.DefaultHeaderDepth
	}
	if opts.RedirectScheme == "" {
		opts.RedirectScheme = "https"
	}
	if opts.Domains == nil {
		opts.Domains = NewDomains(nil)
	}

	s := &Server{
		builder:      opts.Builder,
		domains:      opts.Domains,
		metrics:      opts.Metrics,
		logger:       opts.Logger.OrNop().WithComponent("server"),
		headerDepth:  opts.HeaderDepth,
		redirectBase: opts.RedirectScheme + "://",
	}
	s.http = &http.Server{
		Addr:              opts.Address,
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/bundle", s.handleBundle)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /{owner}/{repository}", s.handleRepository)
	mux.HandleFunc("/", s.handleNotFound)
	return chain(s.logger, mux)
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.http.Addr
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", ln.Addr().String()).Msg("Serving bundle API")
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("Shutting down bundle API")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// errorResponse is the body of requests rejected before a build
type errorResponse struct {
	Code  domain.ErrorCode `json:"code"`
	Error string           `json:"error"`
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: domain.CodeBadRequest, Error: err.Error()})
		return
	}

	b := s.builder.Build(r.Context(), req)
	writeJSON(w, StatusFor(b), b)
}

// parseRequest reads the bundle query. On a custom domain, owner and
// repository default to the domain's repository.
func (s *Server) parseRequest(r *http.Request) (domain.BundleRequest, error) {
	q := r.URL.Query()
	req := domain.BundleRequest{
		Owner:       q.Get("owner"),
		Repository:  q.Get("repository"),
		Path:        q.Get("path"),
		Ref:         q.Get("ref"),
		HeaderDepth: s.headerDepth,
	}

	if req.Owner == "" && req.Repository == "" {
		if owner, repo, ok := s.domains.RepositoryFor(r.Host); ok {
			req.Owner, req.Repository = owner, repo
		}
	}

	if raw := q.Get("headerDepth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth <= 0 {
			return req, domain.NewValidationError("headerDepth", "headerDepth must be a positive integer")
		}
		req.HeaderDepth = depth
	}

	req = req.WithDefaults()
	if req.Owner == "" || req.Repository == "" {
		return req, domain.NewValidationError("owner", "Missing owner or repository parameters.")
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// handleRepository redirects /{owner}/{repository} to its custom domain
func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("owner") + "/" + r.PathValue("repository")
	host, ok := s.domains.HostFor(path)
	if !ok || normalizeHost(r.Host) == host {
		s.handleNotFound(w, r)
		return
	}
	http.Redirect(w, r, s.redirectBase+host+"/"+path, http.StatusPermanentRedirect)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Error: "no route for " + r.URL.Path})
}

// writeJSON encodes v before committing the status, so an unencodable
// value becomes a 500 instead of an empty success
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorResponse{Code: "INTERNAL", Error: "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
