package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantmind-br/docbundle/pkg/version"
)

func TestGet_String_Short_Full(t *testing.T) {
	origV, origB, origC := version.Version, version.BuildTime, version.Commit
	defer func() { version.Version, version.BuildTime, version.Commit = origV, origB, origC }()

	version.Version = "1.2.3"
	version.BuildTime = "2026-01-02T00:00:00Z"
	version.Commit = "deadbeef"

	info := version.Get()
	require.Equal(t, "1.2.3", info.Version)
	require.Equal(t, "2026-01-02T00:00:00Z", info.BuildTime)
	require.Equal(t, "deadbeef", info.Commit)
	require.NotEmpty(t, info.GoVersion)
	require.NotEmpty(t, info.OS)
	require.NotEmpty(t, info.Arch)

	assert.Equal(t, "1.2.3", version.Short())
	assert.Contains(t, info.String(), "docbundle 1.2.3 (commit: deadbeef, built: 2026-01-02T00:00:00Z")
	assert.Equal(t, info.String(), version.Full())
}

func TestUserAgent(t *testing.T) {
	orig := version.Version
	defer func() { version.Version = orig }()

	version.Version = "0.4.0"
	assert.Equal(t, "docbundle/0.4.0", version.UserAgent())
}
