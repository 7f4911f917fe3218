package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (DOCBUNDLE_SERVER_ADDRESS, ...)
const EnvPrefix = "DOCBUNDLE"

// TokenEnv is honoured when upstream.token is not configured
const TokenEnv = "GITHUB_TOKEN"

// Load loads configuration from file, environment, and defaults
// Uses the global viper instance to access CLI flag bindings
func Load() (*Config, error) {
	return load(viper.GetViper())
}

// LoadWithViper loads configuration into a fresh viper instance and returns it
func LoadWithViper() (*Config, *viper.Viper, error) {
	v := viper.New()
	cfg, err := load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// LoadFrom loads configuration through v, honouring any flags bound to it
// and a config file set with v.SetConfigFile
func LoadFrom(v *viper.Viper) (*Config, error) {
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// .env is optional; existing variables win
	_ = godotenv.Load()

	setDefaults(v)

	// An explicit --config file takes precedence over the search path
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	// Environment variables (DOCBUNDLE_*)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Upstream.Token == "" {
		cfg.Upstream.Token = os.Getenv(TokenEnv)
	}

	// Validate and apply defaults for invalid values
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", DefaultServerAddress)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.write_timeout", DefaultWriteTimeout)

	// Upstream defaults
	v.SetDefault("upstream.provider", DefaultProvider)
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.git_url", DefaultGitURL)
	v.SetDefault("upstream.timeout", DefaultUpstreamTimeout)
	v.SetDefault("upstream.requests_per_second", DefaultRequestsPerSecond)

	// Retry defaults
	v.SetDefault("retry.max_attempts", DefaultMaxAttempts)
	v.SetDefault("retry.initial_interval", DefaultInitialInterval)
	v.SetDefault("retry.max_interval", DefaultMaxInterval)
	v.SetDefault("retry.multiplier", DefaultMultiplier)

	// Cache defaults
	v.SetDefault("cache.enabled", DefaultCacheEnabled)
	v.SetDefault("cache.backend", DefaultCacheBackend)
	v.SetDefault("cache.directory", CacheDir())
	v.SetDefault("cache.memory_entries", DefaultMemoryEntries)

	// Content defaults
	v.SetDefault("content.root", DefaultContentRoot)
	v.SetDefault("content.extension", DefaultExtension)
	v.SetDefault("content.fallback", DefaultFallback)
	v.SetDefault("content.index_name", DefaultIndexName)

	// Bundle defaults
	v.SetDefault("bundle.header_depth", DefaultHeaderDepth)
	v.SetDefault("bundle.timeout", DefaultBundleTimeout)

	// Logging defaults
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0755)
}

// EnsureCacheDir creates the cache directory if it doesn't exist
func EnsureCacheDir() error {
	return os.MkdirAll(CacheDir(), 0755)
}
