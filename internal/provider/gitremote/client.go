package gitremote

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Client defines the git operations the provider needs
type Client interface {
	// ListRefs advertises the remote's references, like git ls-remote
	ListRefs(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error)
	// Clone makes a bare in-memory clone with all tags
	Clone(ctx context.Context, url string, auth transport.AuthMethod) (*git.Repository, error)
	// Fetch updates a clone; git.NoErrAlreadyUpToDate is not a failure
	Fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error
}

// RealClient implements Client using go-git
type RealClient struct{}

// NewClient creates a new RealClient
func NewClient() *RealClient {
	return &RealClient{}
}

// ListRefs lists remote references without a local repository
func (c *RealClient) ListRefs(ctx context.Context, url string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{url},
	})
	return remote.ListContext(ctx, &git.ListOptions{Auth: auth})
}

// Clone calls git.CloneContext on memory storage without a worktree
func (c *RealClient) Clone(ctx context.Context, url string, auth transport.AuthMethod) (*git.Repository, error) {
	return git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:  url,
		Auth: auth,
		Tags: git.AllTags,
	})
}

// Fetch calls Repository.FetchContext on the origin remote
func (c *RealClient) Fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	return repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       auth,
		Tags:       git.AllTags,
		Force:      true,
	})
}
