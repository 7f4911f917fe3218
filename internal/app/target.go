package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/quantmind-br/docbundle/internal/bundle"
	"github.com/quantmind-br/docbundle/internal/utils"
)

// Target is a repository named on the command line, with an optional ref
// and document path
type Target struct {
	Owner      string
	Repository string
	Ref        string
	Path       string
}

// ParseTarget understands the ways people paste a repository:
//
//	owner/repo
//	owner/repo@ref
//	https://github.com/owner/repo(.git)
//	https://github.com/owner/repo/tree/<ref>/<path>
//	https://github.com/owner/repo/blob/<ref>/<path>
//	git@github.com:owner/repo.git
//
// Refs containing "/" cannot be expressed in tree or blob URLs; pass them
// with @ or --ref instead. File paths in URLs are mapped back to request
// paths through loc.
func ParseTarget(s string, loc bundle.Locator) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("empty repository")
	}

	switch {
	case strings.HasPrefix(s, "git@"):
		if idx := strings.Index(s, ":"); idx >= 0 {
			return parseSegments(s[idx+1:], loc)
		}
		return Target{}, fmt.Errorf("invalid ssh url %q", s)

	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return Target{}, fmt.Errorf("invalid url %q: %w", s, err)
		}
		return parseSegments(u.Path, loc)

	default:
		repo, ref, hasRef := strings.Cut(s, "@")
		t, err := parseSegments(repo, loc)
		if err != nil {
			return Target{}, err
		}
		if hasRef {
			if ref == "" {
				return Target{}, fmt.Errorf("empty ref in %q", s)
			}
			t.Ref = ref
		}
		return t, nil
	}
}

// parseSegments reads owner/repo[/tree|blob/<ref>/<path>]
func parseSegments(p string, loc bundle.Locator) (Target, error) {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	if len(segments) < 2 {
		return Target{}, fmt.Errorf("invalid repository %q: want owner/repository", p)
	}

	owner, repo, err := utils.SplitRepository(segments[0] + "/" + segments[1])
	if err != nil {
		return Target{}, err
	}
	t := Target{Owner: owner, Repository: repo}

	rest := segments[2:]
	if len(rest) == 0 {
		return t, nil
	}
	if (rest[0] != "tree" && rest[0] != "blob") || len(rest) < 2 {
		return Target{}, fmt.Errorf("unsupported repository url path %q", p)
	}

	t.Ref = rest[1]
	t.Path = loc.RequestPath(strings.Join(rest[2:], "/"))
	return t, nil
}
