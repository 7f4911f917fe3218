// Package gitremote implements domain.Provider on the plain git protocol.
//
// References are resolved against the remote on every call (ls-remote),
// so moving refs are always current. Objects are read from in-memory clones
// kept in an LRU; a clone that lacks a requested commit is fetched once
// before the commit is reported missing.
package gitremote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/utils"
)

const (
	// Name identifies this provider in config and logs.
	Name = "git"

	// DefaultURLTemplate builds clone URLs from owner and repository.
	DefaultURLTemplate = "https://github.com/%s/%s.git"

	// DefaultRepositories is how many clones are kept in memory.
	DefaultRepositories = 16

	peeledSuffix = "^{}"
)

var _ domain.Provider = (*Provider)(nil)

// Options configures a Provider
type Options struct {
	URLTemplate  string
	Token        string
	Client       Client
	Repositories int
	Logger       *utils.Logger
}

// Provider resolves refs and reads content over git
type Provider struct {
	urlTemplate string
	auth        transport.AuthMethod
	client      Client
	logger      *utils.Logger

	mu    sync.Mutex
	repos *lru.Cache[string, *clone]
}

// clone serializes access to one in-memory repository
type clone struct {
	mu   sync.Mutex
	repo *git.Repository
}

// New creates a git provider
func New(opts Options) (*Provider, error) {
	if opts.URLTemplate == "" {
		opts.URLTemplate = DefaultURLTemplate
	}
	if strings.Count(opts.URLTemplate, "%s") != 2 {
		return nil, fmt.Errorf("url template %q must contain two %%s verbs", opts.URLTemplate)
	}
	if opts.Client == nil {
		opts.Client = NewClient()
	}
	if opts.Repositories <= 0 {
		opts.Repositories = DefaultRepositories
	}

	repos, err := lru.New[string, *clone](opts.Repositories)
	if err != nil {
		return nil, fmt.Errorf("failed to create clone cache: %w", err)
	}

	p := &Provider{
		urlTemplate: opts.URLTemplate,
		client:      opts.Client,
		logger:      opts.Logger.OrNop().WithComponent("gitremote"),
		repos:       repos,
	}
	if opts.Token != "" {
		p.auth = &githttp.BasicAuth{
			Username: "token",
			Password: opts.Token,
		}
	}
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// URL returns the clone URL of a repository
func (p *Provider) URL(owner, repo string) string {
	return fmt.Sprintf(p.urlTemplate, owner, repo)
}

// DefaultBranch returns the branch HEAD points to on the remote
func (p *Provider) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	refs, err := p.listRefs(ctx, owner, repo)
	if err != nil {
		return "", err
	}

	var head *plumbing.Reference
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			head = ref
			break
		}
	}
	if head == nil {
		return "", fmt.Errorf("%s/%s advertises no HEAD: %w", owner, repo, domain.ErrNotFound)
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short(), nil
	}

	// Servers without the symref capability only give HEAD's hash
	var candidates []string
	for _, ref := range refs {
		if ref.Name().IsBranch() && ref.Hash() == head.Hash() {
			candidates = append(candidates, ref.Name().Short())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%s/%s HEAD matches no branch: %w", owner, repo, domain.ErrNotFound)
	}
	sort.Strings(candidates)
	for _, preferred := range []string{"main", "master"} {
		for _, c := range candidates {
			if c == preferred {
				return c, nil
			}
		}
	}
	return candidates[0], nil
}

// ResolveBranch returns the tip commit of a branch
func (p *Provider) ResolveBranch(ctx context.Context, owner, repo, branch string) (string, error) {
	refs, err := p.listRefs(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	name := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == name {
			return ref.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("branch %s: %w", branch, domain.ErrNotFound)
}

// ResolveTag returns the commit a tag points to, peeling annotated tags
func (p *Provider) ResolveTag(ctx context.Context, owner, repo, tag string) (string, error) {
	refs, err := p.listRefs(ctx, owner, repo)
	if err != nil {
		return "", err
	}

	name := plumbing.NewTagReferenceName(tag)
	var target *plumbing.Reference
	for _, ref := range refs {
		switch ref.Name() {
		case name + peeledSuffix:
			return ref.Hash().String(), nil
		case name:
			target = ref
		}
	}
	if target == nil {
		return "", fmt.Errorf("tag %s: %w", tag, domain.ErrNotFound)
	}

	// No peeled entry: the hash is a commit or an annotated tag we must read
	c, err := p.open(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	defer c.mu.Unlock()

	hash := target.Hash()
	if _, err := p.object(ctx, c, hash); err != nil {
		return "", err
	}
	annotated, err := c.repo.TagObject(hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return hash.String(), nil
	}
	if err != nil {
		return "", fmt.Errorf("read tag %s: %w", tag, err)
	}
	commit, err := annotated.Commit()
	if err != nil {
		return "", fmt.Errorf("tag %s does not point to a commit: %w", tag, domain.ErrNotFound)
	}
	return commit.Hash.String(), nil
}

// ResolveCommit expands a full or abbreviated commit id.
// An ambiguous prefix is treated as not found.
func (p *Provider) ResolveCommit(ctx context.Context, owner, repo, rev string) (string, error) {
	rev = strings.ToLower(rev)
	if !domain.IsCommitPrefix(rev) {
		return "", fmt.Errorf("%q is not a commit id: %w", rev, domain.ErrNotFound)
	}

	c, err := p.open(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	defer c.mu.Unlock()

	if domain.IsCommitSHA(rev) {
		commit, err := p.commit(ctx, c, plumbing.NewHash(rev))
		if err != nil {
			return "", err
		}
		return commit.Hash.String(), nil
	}

	matches, err := commitsWithPrefix(c.repo, rev)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		if err := p.fetch(ctx, c); err != nil {
			return "", err
		}
		if matches, err = commitsWithPrefix(c.repo, rev); err != nil {
			return "", err
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("commit %s: %w", rev, domain.ErrNotFound)
	case 1:
		return matches[0].String(), nil
	default:
		return "", fmt.Errorf("commit prefix %s is ambiguous (%d matches): %w", rev, len(matches), domain.ErrNotFound)
	}
}

// GetContent returns the file or directory at path in commit sha
func (p *Provider) GetContent(ctx context.Context, owner, repo, sha, path string) (*domain.FetchedContent, error) {
	c, err := p.open(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	commit, err := p.commit(ctx, c, plumbing.NewHash(strings.ToLower(sha)))
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", sha, err)
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return directory(tree), nil
	}

	entry, err := tree.FindEntry(path)
	if err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("find %s: %w", path, err)
	}

	switch entry.Mode {
	case filemode.Dir:
		sub, err := c.repo.TreeObject(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("read tree %s: %w", path, err)
		}
		return directory(sub), nil
	case filemode.Submodule:
		return nil, fmt.Errorf("%s is a submodule: %w", path, domain.ErrNotFound)
	}

	blob, err := c.repo.BlobObject(entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	return domain.NewFileContent(data, entry.Hash.String()), nil
}

func (p *Provider) listRefs(ctx context.Context, owner, repo string) ([]*plumbing.Reference, error) {
	url := p.URL(owner, repo)
	p.logger.Debug().Str("url", url).Msg("Listing remote refs")

	refs, err := p.client.ListRefs(ctx, url, p.auth)
	if err != nil {
		return nil, wrapError("ls-remote", err)
	}
	return refs, nil
}

// open returns the clone of a repository with its lock held
func (p *Provider) open(ctx context.Context, owner, repo string) (*clone, error) {
	url := p.URL(owner, repo)

	p.mu.Lock()
	c, ok := p.repos.Get(url)
	if !ok {
		c = &clone{}
		p.repos.Add(url, c)
	}
	p.mu.Unlock()

	c.mu.Lock()
	if c.repo == nil {
		p.logger.Info().Str("url", url).Msg("Cloning repository")
		r, err := p.client.Clone(ctx, url, p.auth)
		if err != nil {
			c.mu.Unlock()
			return nil, wrapError("clone", err)
		}
		c.repo = r
	}
	return c, nil
}

func (p *Provider) fetch(ctx context.Context, c *clone) error {
	err := p.client.Fetch(ctx, c.repo, p.auth)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return wrapError("fetch", err)
	}
	return nil
}

// object checks that hash exists in the clone, fetching once if missing
func (p *Provider) object(ctx context.Context, c *clone, hash plumbing.Hash) (plumbing.ObjectType, error) {
	obj, err := c.repo.Object(plumbing.AnyObject, hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		if err := p.fetch(ctx, c); err != nil {
			return plumbing.InvalidObject, err
		}
		obj, err = c.repo.Object(plumbing.AnyObject, hash)
	}
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return plumbing.InvalidObject, fmt.Errorf("object %s: %w", hash, domain.ErrNotFound)
	}
	if err != nil {
		return plumbing.InvalidObject, fmt.Errorf("read object %s: %w", hash, err)
	}
	return obj.Type(), nil
}

func (p *Provider) commit(ctx context.Context, c *clone, hash plumbing.Hash) (*object.Commit, error) {
	kind, err := p.object(ctx, c, hash)
	if err != nil {
		return nil, err
	}
	if kind != plumbing.CommitObject {
		return nil, fmt.Errorf("%s is a %s, not a commit: %w", hash, kind, domain.ErrNotFound)
	}
	return c.repo.CommitObject(hash)
}

func commitsWithPrefix(repo *git.Repository, prefix string) ([]plumbing.Hash, error) {
	iter, err := repo.CommitObjects()
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer iter.Close()

	var matches []plumbing.Hash
	err = iter.ForEach(func(c *object.Commit) error {
		if strings.HasPrefix(c.Hash.String(), prefix) {
			matches = append(matches, c.Hash)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	return matches, nil
}

func directory(tree *object.Tree) *domain.FetchedContent {
	names := make([]string, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return domain.NewDirectoryContent(names, tree.Hash.String())
}

// wrapError converts go-git transport errors to the domain error taxonomy
func wrapError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, transport.ErrRepositoryNotFound), errors.Is(err, transport.ErrEmptyRemoteRepository):
		return domain.NewUpstreamError(op, 404, fmt.Errorf("%w: %w", domain.ErrNotFound, err))
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return domain.NewUpstreamError(op, 401, err)
	default:
		return domain.NewTransientError(fmt.Errorf("%s: %w", op, err))
	}
}
