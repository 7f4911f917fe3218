package domain

import (
	"regexp"
	"strings"
)

// Request defaults
const (
	HeadRef            = "HEAD"
	DefaultPath        = "index"
	DefaultHeaderDepth = 3
	MaxHeaderDepth     = 6
)

var (
	commitSHAPattern    = regexp.MustCompile(`^[0-9a-f]{40}$`)
	commitPrefixPattern = regexp.MustCompile(`^[0-9a-f]{4,40}$`)
)

// IsCommitSHA reports whether s is a full 40-character hex commit id
func IsCommitSHA(s string) bool {
	return commitSHAPattern.MatchString(s)
}

// IsCommitPrefix reports whether s could be an abbreviated commit id
// (4 to 40 lower-case hex characters, as git accepts)
func IsCommitPrefix(s string) bool {
	return commitPrefixPattern.MatchString(s)
}

// BundleRequest identifies the document to build
type BundleRequest struct {
	Owner       string `json:"owner"`
	Repository  string `json:"repository"`
	Path        string `json:"path"`
	Ref         string `json:"ref"`
	HeaderDepth int    `json:"headerDepth"`
}

// NewBundleRequest creates a request with defaults applied
func NewBundleRequest(owner, repository, path, ref string, headerDepth int) BundleRequest {
	return BundleRequest{
		Owner:       owner,
		Repository:  repository,
		Path:        path,
		Ref:         ref,
		HeaderDepth: headerDepth,
	}.WithDefaults()
}

// WithDefaults returns a copy with empty fields replaced by their defaults
func (r BundleRequest) WithDefaults() BundleRequest {
	r.Owner = strings.TrimSpace(r.Owner)
	r.Repository = strings.TrimSpace(r.Repository)
	r.Path = strings.Trim(strings.TrimSpace(r.Path), "/")
	if r.Path == "" {
		r.Path = DefaultPath
	}
	if strings.TrimSpace(r.Ref) == "" {
		r.Ref = HeadRef
	}
	if r.HeaderDepth <= 0 {
		r.HeaderDepth = DefaultHeaderDepth
	}
	if r.HeaderDepth > MaxHeaderDepth {
		r.HeaderDepth = MaxHeaderDepth
	}
	return r
}

// Validate checks the fields that have no default
func (r BundleRequest) Validate() error {
	if r.Owner == "" {
		return NewValidationError("owner", "missing owner parameter")
	}
	if r.Repository == "" {
		return NewValidationError("repository", "missing repository parameter")
	}
	if hasParentSegment(r.Path) {
		return NewValidationError("path", "path must not contain a '..' segment")
	}
	return nil
}

func hasParentSegment(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(c rune) bool { return c == '/' || c == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ResolvedRef is the immutable result of reference resolution
type ResolvedRef struct {
	CommitSHA     string `json:"commitSha"`
	DefaultBranch string `json:"defaultBranch"`
}

// ContentType classifies fetched content
type ContentType string

const (
	ContentFile      ContentType = "file"
	ContentDirectory ContentType = "directory"
	ContentNotFound  ContentType = "notFound"
)

// FetchedContent is raw content retrieved at a commit. It is never mutated
// after creation; Bytes and Entries return copies.
type FetchedContent struct {
	data      []byte
	entries   []string
	etag      string
	kind      ContentType
	fromCache bool
}

// NewFileContent creates file content, copying data
func NewFileContent(data []byte, etag string) *FetchedContent {
	return &FetchedContent{data: clone(data), etag: etag, kind: ContentFile}
}

// NewDirectoryContent creates a directory listing, copying entries
func NewDirectoryContent(entries []string, etag string) *FetchedContent {
	return &FetchedContent{entries: append([]string(nil), entries...), etag: etag, kind: ContentDirectory}
}

// NewNotFoundContent marks a path as absent at a commit
func NewNotFoundContent() *FetchedContent {
	return &FetchedContent{kind: ContentNotFound}
}

// Bytes returns a copy of the raw content
func (c *FetchedContent) Bytes() []byte { return clone(c.data) }

// Entries returns a copy of the directory entry names
func (c *FetchedContent) Entries() []string { return append([]string(nil), c.entries...) }

// ETag returns the cache-validation token reported upstream
func (c *FetchedContent) ETag() string { return c.etag }

// Type returns the content classification
func (c *FetchedContent) Type() ContentType { return c.kind }

// FromCache reports whether the content was served from the cache
func (c *FetchedContent) FromCache() bool { return c.fromCache }

// Size returns the raw content length
func (c *FetchedContent) Size() int { return len(c.data) }

// WithFromCache returns a copy flagged as served from cache
func (c *FetchedContent) WithFromCache(v bool) *FetchedContent {
	cp := *c
	cp.fromCache = v
	return &cp
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Heading is a table-of-contents entry
type Heading struct {
	Depth int    `json:"depth"`
	Text  string `json:"text"`
	Slug  string `json:"slug"`
}

// CodeBlock is a fenced code block
type CodeBlock struct {
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Callout is an alert blockquote such as "> [!NOTE]"
type Callout struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// ParsedDocument is the structural parse of a document
type ParsedDocument struct {
	Frontmatter map[string]any `json:"frontmatter"`
	Headings    []Heading      `json:"headings"`
	Body        string         `json:"body"`
	CodeBlocks  []CodeBlock    `json:"codeBlocks"`
	Callouts    []Callout      `json:"callouts"`
}

// BundleError is the serialized failure of a build
type BundleError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *BundleError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Bundle is the output of a build. Exactly one of Data and Error is set;
// use NewDoneBundle or NewErroredBundle to construct one.
type Bundle struct {
	Data       *ParsedDocument `json:"data"`
	Error      *BundleError    `json:"error"`
	Ref        ResolvedRef     `json:"ref"`
	Owner      string          `json:"owner"`
	Repository string          `json:"repository"`
	Path       string          `json:"path"`
	Source     string          `json:"source,omitempty"`
}

// NewDoneBundle creates a successful bundle
func NewDoneBundle(req BundleRequest, ref ResolvedRef, source string, doc *ParsedDocument) *Bundle {
	return &Bundle{
		Data:       doc,
		Ref:        ref,
		Owner:      req.Owner,
		Repository: req.Repository,
		Path:       req.Path,
		Source:     source,
	}
}

// NewErroredBundle creates a failed bundle from err
func NewErroredBundle(req BundleRequest, ref ResolvedRef, err error) *Bundle {
	return &Bundle{
		Error: &BundleError{
			Code:    CodeOf(err),
			Message: err.Error(),
		},
		Ref:        ref,
		Owner:      req.Owner,
		Repository: req.Repository,
		Path:       req.Path,
	}
}

// OK reports whether the bundle carries data
func (b *Bundle) OK() bool {
	return b.Error == nil && b.Data != nil
}
