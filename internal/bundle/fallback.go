package bundle

import (
	"path"
	"strings"
)

// Default file layout of a documentation repository
const (
	DefaultRoot      = "docs"
	DefaultExtension = ".mdx"
	DefaultIndexName = "index"
)

// Locator maps request paths to repository files
type Locator struct {
	Root      string
	Extension string
	IndexName string
	Fallback  bool
}

// DefaultLocator returns the docs/<path>.mdx layout with index fallback
func DefaultLocator() Locator {
	return Locator{
		Root:      DefaultRoot,
		Extension: DefaultExtension,
		IndexName: DefaultIndexName,
		Fallback:  true,
	}
}

// Primary returns the file read first for a request path
func (l Locator) Primary(p string) string {
	return l.file(p)
}

// FallbackFor returns the index file tried when the primary file is missing
// or is a directory. Paths that already name an index have none.
func (l Locator) FallbackFor(p string) (string, bool) {
	if !l.Fallback || l.indexName() == "" {
		return "", false
	}
	p = strings.Trim(p, "/")
	if p == "" || path.Base(p) == l.indexName() {
		return "", false
	}
	return l.file(path.Join(p, l.indexName())), true
}

// RequestPath is the inverse of Primary: it maps a repository file back to
// the request path that reads it. Index files map to their directory.
func (l Locator) RequestPath(file string) string {
	p := strings.Trim(file, "/")
	if root := strings.Trim(l.Root, "/"); root != "" {
		if p == root {
			return ""
		}
		p = strings.TrimPrefix(p, root+"/")
	}
	p = strings.TrimSuffix(p, l.Extension)
	if l.indexName() != "" && (p == l.indexName() || strings.HasSuffix(p, "/"+l.indexName())) {
		p = strings.TrimSuffix(strings.TrimSuffix(p, l.indexName()), "/")
	}
	return p
}

func (l Locator) file(p string) string {
	return path.Join(l.Root, strings.Trim(p, "/")) + l.Extension
}

func (l Locator) indexName() string {
	return strings.Trim(l.IndexName, "/")
}
