package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values
const (
	// Server defaults
	DefaultServerAddress = ":8080"
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 60 * time.Second

	// Upstream defaults
	DefaultProvider          = ProviderGitHub
	DefaultGitURL            = "https://github.com/%s/%s.git"
	DefaultUpstreamTimeout   = 30 * time.Second
	DefaultRequestsPerSecond = 5.0

	// Retry defaults
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
	DefaultMultiplier      = 2.0

	// Cache defaults
	DefaultCacheEnabled  = true
	DefaultCacheBackend  = "tiered"
	DefaultMemoryEntries = 4096

	// Content defaults
	DefaultContentRoot = "docs"
	DefaultExtension   = ".mdx"
	DefaultFallback    = true
	DefaultIndexName   = "index"

	// Bundle defaults
	DefaultHeaderDepth   = 3
	DefaultBundleTimeout = 30 * time.Second

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "pretty"
)

// ConfigDir returns the config directory path
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docbundle"
	}
	return filepath.Join(home, ".docbundle")
}

// CacheDir returns the cache directory path
func CacheDir() string {
	return filepath.Join(ConfigDir(), "cache")
}

// ConfigFilePath returns the config file path
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      DefaultServerAddress,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Upstream: UpstreamConfig{
			Provider:          DefaultProvider,
			GitURL:            DefaultGitURL,
			Timeout:           DefaultUpstreamTimeout,
			RequestsPerSecond: DefaultRequestsPerSecond,
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultMultiplier,
		},
		Cache: CacheConfig{
			Enabled:       DefaultCacheEnabled,
			Backend:       DefaultCacheBackend,
			Directory:     CacheDir(),
			MemoryEntries: DefaultMemoryEntries,
		},
		Content: ContentConfig{
			Root:      DefaultContentRoot,
			Extension: DefaultExtension,
			Fallback:  DefaultFallback,
			IndexName: DefaultIndexName,
		},
		Bundle: BundleConfig{
			HeaderDepth: DefaultHeaderDepth,
			Timeout:     DefaultBundleTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
