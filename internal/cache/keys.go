package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// KeyPrefix constants for different cache types
const (
	PrefixContent = "content"
)

// GenerateKey generates a cache key from a raw identity string.
// The key is a SHA256 hash so arbitrary paths stay within key limits.
func GenerateKey(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])
}

// GenerateKeyWithPrefix generates a cache key with a prefix
func GenerateKeyWithPrefix(prefix, raw string) string {
	return prefix + ":" + GenerateKey(raw)
}

// ContentKey generates the key of content addressed by commit.
// Owner and repository are case-insensitive on hosting providers; the
// commit SHA and path are not.
func ContentKey(owner, repo, sha, filePath string) string {
	identity := strings.Join([]string{
		strings.ToLower(owner),
		strings.ToLower(repo),
		strings.ToLower(sha),
		normalizePath(filePath),
	}, "\x00")
	return GenerateKeyWithPrefix(PrefixContent, identity)
}

// normalizePath cleans a repository-relative path for consistent keys
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
