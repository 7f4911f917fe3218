package domain

import (
	"context"
	"time"
)

// Provider is the read-only capability set of a hosting provider.
// Missing objects are reported with an error matching ErrNotFound.
type Provider interface {
	// Name returns the provider name
	Name() string
	// DefaultBranch returns the repository's default branch name
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	// ResolveBranch returns the tip commit of a branch
	ResolveBranch(ctx context.Context, owner, repo, branch string) (string, error)
	// ResolveTag returns the commit a tag points to, peeling annotated tags
	ResolveTag(ctx context.Context, owner, repo, tag string) (string, error)
	// ResolveCommit expands a full or abbreviated commit id
	ResolveCommit(ctx context.Context, owner, repo, rev string) (string, error)
	// GetContent returns the file or directory at path in the given commit
	GetContent(ctx context.Context, owner, repo, sha, path string) (*FetchedContent, error)
}

// Cache defines the interface for content caching
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value in cache; a zero ttl never expires
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Has checks if a key exists in cache
	Has(ctx context.Context, key string) bool
	// Delete removes a key from cache
	Delete(ctx context.Context, key string) error
	// Close releases cache resources
	Close() error
}

// RefResolver turns a requested ref into a commit
type RefResolver interface {
	Resolve(ctx context.Context, owner, repo, ref string) (ResolvedRef, error)
}

// ContentFetcher retrieves content addressed by commit
type ContentFetcher interface {
	Fetch(ctx context.Context, owner, repo, sha, path string) (*FetchedContent, error)
}

// DocumentParser turns raw bytes into a ParsedDocument
type DocumentParser interface {
	Parse(data []byte, headerDepth int) (*ParsedDocument, error)
}
