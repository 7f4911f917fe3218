package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// Upstream provider names
const (
	ProviderGitHub = "github"
	ProviderGit    = "git"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Content  ContentConfig  `mapstructure:"content" yaml:"content"`
	Bundle   BundleConfig   `mapstructure:"bundle" yaml:"bundle"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Domains  []DomainConfig `mapstructure:"domains" yaml:"domains"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address      string        `mapstructure:"address" yaml:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// UpstreamConfig selects and configures the hosting provider
type UpstreamConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Token             string        `mapstructure:"token" yaml:"token"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	GitURL            string        `mapstructure:"git_url" yaml:"git_url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// RetryConfig contains backoff settings for upstream calls
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// CacheConfig contains cache settings
type CacheConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend       string `mapstructure:"backend" yaml:"backend"`
	Directory     string `mapstructure:"directory" yaml:"directory"`
	MemoryEntries int    `mapstructure:"memory_entries" yaml:"memory_entries"`
}

// ContentConfig describes where documents live in a repository
type ContentConfig struct {
	Root      string `mapstructure:"root" yaml:"root"`
	Extension string `mapstructure:"extension" yaml:"extension"`
	Fallback  bool   `mapstructure:"fallback" yaml:"fallback"`
	IndexName string `mapstructure:"index_name" yaml:"index_name"`
}

// BundleConfig contains build settings
type BundleConfig struct {
	HeaderDepth int           `mapstructure:"header_depth" yaml:"header_depth"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DomainConfig maps a custom hostname to an owner/repository path
type DomainConfig struct {
	Hostname string `mapstructure:"hostname" yaml:"hostname"`
	Path     string `mapstructure:"path" yaml:"path"`
}

// Validate repairs out-of-range values and rejects unknown names
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.ReadTimeout < time.Second {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout < time.Second {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}

	c.Upstream.Provider = strings.ToLower(strings.TrimSpace(c.Upstream.Provider))
	switch c.Upstream.Provider {
	case "":
		c.Upstream.Provider = DefaultProvider
	case ProviderGitHub, ProviderGit:
	default:
		return fmt.Errorf("invalid upstream.provider %q: want %s or %s", c.Upstream.Provider, ProviderGitHub, ProviderGit)
	}
	if c.Upstream.BaseURL != "" {
		if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream.base_url %q", c.Upstream.BaseURL)
		}
	}
	if c.Upstream.GitURL == "" {
		c.Upstream.GitURL = DefaultGitURL
	}
	if strings.Count(c.Upstream.GitURL, "%s") != 2 {
		return fmt.Errorf("invalid upstream.git_url %q: needs two %%s placeholders", c.Upstream.GitURL)
	}
	if c.Upstream.Timeout < time.Second {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Upstream.RequestsPerSecond < 0 {
		c.Upstream.RequestsPerSecond = DefaultRequestsPerSecond
	}

	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = DefaultInitialInterval
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		c.Retry.MaxInterval = max(DefaultMaxInterval, c.Retry.InitialInterval)
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = DefaultMultiplier
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case "":
		c.Cache.Backend = DefaultCacheBackend
	case "memory", "badger", "tiered":
	default:
		return fmt.Errorf("invalid cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = CacheDir()
	}
	if c.Cache.MemoryEntries < 1 {
		c.Cache.MemoryEntries = DefaultMemoryEntries
	}

	if strings.Contains(c.Content.Root, "..") {
		return fmt.Errorf("invalid content.root %q", c.Content.Root)
	}
	c.Content.Root = strings.Trim(path.Clean("/"+c.Content.Root), "/")
	if c.Content.Extension != "" && !strings.HasPrefix(c.Content.Extension, ".") {
		c.Content.Extension = "." + c.Content.Extension
	}
	if c.Content.IndexName == "" {
		c.Content.IndexName = DefaultIndexName
	}

	if c.Bundle.HeaderDepth < 1 || c.Bundle.HeaderDepth > 6 {
		c.Bundle.HeaderDepth = DefaultHeaderDepth
	}
	if c.Bundle.Timeout < time.Second {
		c.Bundle.Timeout = DefaultBundleTimeout
	}

	for i, d := range c.Domains {
		host := strings.ToLower(strings.TrimSpace(d.Hostname))
		p := strings.Trim(strings.TrimSpace(d.Path), "/")
		if host == "" {
			return fmt.Errorf("domains[%d]: missing hostname", i)
		}
		if parts := strings.Split(p, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("domains[%d]: path %q must be owner/repository", i, d.Path)
		}
		c.Domains[i] = DomainConfig{Hostname: host, Path: p}
	}

	return nil
}
