package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBundleRequest_WithDefaults tests request defaults
func TestBundleRequest_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   BundleRequest
		want BundleRequest
	}{
		{
			name: "all defaults",
			in:   BundleRequest{Owner: "invertase", Repository: "docs.page"},
			want: BundleRequest{Owner: "invertase", Repository: "docs.page", Path: "index", Ref: "HEAD", HeaderDepth: 3},
		},
		{
			name: "trims slashes from path",
			in:   BundleRequest{Owner: "o", Repository: "r", Path: "/guide/", Ref: "main", HeaderDepth: 2},
			want: BundleRequest{Owner: "o", Repository: "r", Path: "guide", Ref: "main", HeaderDepth: 2},
		},
		{
			name: "clamps header depth",
			in:   BundleRequest{Owner: "o", Repository: "r", HeaderDepth: 9},
			want: BundleRequest{Owner: "o", Repository: "r", Path: "index", Ref: "HEAD", HeaderDepth: 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.WithDefaults())
		})
	}
}

// TestBundleRequest_Validate tests required fields
func TestBundleRequest_Validate(t *testing.T) {
	assert.NoError(t, NewBundleRequest("o", "r", "", "", 0).Validate())

	err := NewBundleRequest("", "r", "", "", 0).Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, CodeBadRequest, CodeOf(err))

	assert.Error(t, NewBundleRequest("o", "", "", "", 0).Validate())
	assert.Error(t, NewBundleRequest("o", "r", "../secret", "", 0).Validate())
	assert.Error(t, NewBundleRequest("o", "r", "guide/../../secret", "", 0).Validate())
	assert.Error(t, NewBundleRequest("o", "r", `guide\..\secret`, "", 0).Validate())
	assert.NoError(t, NewBundleRequest("o", "r", "notes..v2", "", 0).Validate())
	assert.NoError(t, NewBundleRequest("o", "r", "release/1.0..2.0", "", 0).Validate())
}

// TestFetchedContent_CopyOnRead tests that callers cannot mutate content
func TestFetchedContent_CopyOnRead(t *testing.T) {
	src := []byte("# Title")
	c := NewFileContent(src, "etag-1")
	src[0] = 'X'

	b := c.Bytes()
	assert.Equal(t, "# Title", string(b))
	b[0] = 'Y'
	assert.Equal(t, "# Title", string(c.Bytes()))

	assert.Equal(t, ContentFile, c.Type())
	assert.Equal(t, "etag-1", c.ETag())
	assert.False(t, c.FromCache())
	assert.True(t, c.WithFromCache(true).FromCache())
	assert.False(t, c.FromCache())

	d := NewDirectoryContent([]string{"a.md"}, "")
	e := d.Entries()
	e[0] = "b.md"
	assert.Equal(t, []string{"a.md"}, d.Entries())
	assert.Equal(t, ContentNotFound, NewNotFoundContent().Type())
}

// TestBundle_SumType tests that exactly one of data and error is set
func TestBundle_SumType(t *testing.T) {
	req := NewBundleRequest("o", "r", "", "", 0)
	ref := ResolvedRef{CommitSHA: "0123456789abcdef0123456789abcdef01234567", DefaultBranch: "main"}

	done := NewDoneBundle(req, ref, "docs/index.mdx", &ParsedDocument{})
	assert.NotNil(t, done.Data)
	assert.Nil(t, done.Error)
	assert.True(t, done.OK())

	failed := NewErroredBundle(req, ResolvedRef{}, ErrRefNotFound)
	assert.Nil(t, failed.Data)
	require.NotNil(t, failed.Error)
	assert.Equal(t, CodeRefNotFound, failed.Error.Code)
	assert.False(t, failed.OK())
}

// TestIsCommitSHA tests SHA detection
func TestIsCommitSHA(t *testing.T) {
	assert.True(t, IsCommitSHA("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, IsCommitSHA("0123456"))
	assert.False(t, IsCommitSHA("main"))
}

func TestIsCommitPrefix(t *testing.T) {
	assert.True(t, IsCommitPrefix("0123456"))
	assert.True(t, IsCommitPrefix("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, IsCommitPrefix("abc"))
	assert.False(t, IsCommitPrefix("ABCDEF0"))
	assert.False(t, IsCommitPrefix("v1.0.0"))
}
