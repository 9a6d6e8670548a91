// Package config loads the agent configuration: YAML file, environment
// overrides with the MCG_ prefix, defaults for everything. Duration
// fields are strings parsed with time.ParseDuration so the YAML stays
// readable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	// Corpus database
	Database DatabaseConfig `yaml:"database"`

	// Search cache
	Cache CacheConfig `yaml:"cache"`

	// External model provider
	Provider ProviderConfig `yaml:"provider"`

	// External retrieval endpoint (Critic only)
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Deterministic transformer
	Transformer TransformerConfig `yaml:"transformer"`

	// Governance knobs
	Governance GovernanceConfig `yaml:"governance"`

	// HTTP shell
	Server ServerConfig `yaml:"server"`

	// Auth handled by the outer shell; the secret is passed through.
	Auth AuthConfig `yaml:"auth"`

	// Feature toggles
	Features FeaturesConfig `yaml:"features"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig locates the corpus database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig selects and sizes the search cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"` // memory, redis, none
	TTL      string `yaml:"ttl"`
	MaxItems int    `yaml:"max_items"`
	Compress bool   `yaml:"compress"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the remote cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	UseTLS   bool   `yaml:"use_tls"`
}

// ProviderConfig configures the chat-completions provider.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// RetrievalConfig configures the external retrieval endpoint. An empty
// base URL leaves the retrieval tool unregistered.
type RetrievalConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// TransformerConfig selects the deterministic transformer mode.
type TransformerConfig struct {
	Mode string `yaml:"mode"` // punctuation_only, noop, http
}

// GovernanceConfig tunes the enforcer.
type GovernanceConfig struct {
	CorpusRateLimit    int            `yaml:"corpus_rate_limit"` // queries/minute
	CorpusRateOverride map[string]int `yaml:"corpus_rate_override"`
	SweepInterval      string         `yaml:"sweep_interval"`
	SweepRetention     string         `yaml:"sweep_retention"`
}

// ServerConfig configures the HTTP shell.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`

	// MemoryLimitBytes bounds heap use for the health report. Zero
	// disables memory pressure levels.
	MemoryLimitBytes uint64 `yaml:"memory_limit_bytes"`
}

// AuthConfig carries the bearer-token settings consumed by the outer
// shell's authenticator.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTAlgorithm string `yaml:"jwt_algorithm"`
	JWTExpiry    string `yaml:"jwt_expiry"`
}

// FeaturesConfig gates optional behavior. ResponseOptimizer is parsed
// but ignored by the core.
type FeaturesConfig struct {
	ResponseOptimizer bool `yaml:"response_optimizer"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "data/corpus.db",
		},
		Cache: CacheConfig{
			Backend:  "memory",
			TTL:      "5m",
			MaxItems: 1024,
			Compress: false,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: "30s",
		},
		Retrieval: RetrievalConfig{
			Timeout: "15s",
		},
		Transformer: TransformerConfig{
			Mode: "punctuation_only",
		},
		Governance: GovernanceConfig{
			CorpusRateLimit: 10,
			SweepInterval:   "1m",
			SweepRetention:  "15m",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  "10s",
			WriteTimeout: "60s",
		},
		Auth: AuthConfig{
			JWTAlgorithm: "HS256",
			JWTExpiry:    "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies MCG_-prefixed environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MCG_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MCG_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("MCG_CACHE_TTL"); v != "" {
		c.Cache.TTL = v
	}
	if v := os.Getenv("MCG_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("MCG_REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("MCG_PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("MCG_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("MCG_PROVIDER_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("MCG_RETRIEVAL_BASE_URL"); v != "" {
		c.Retrieval.BaseURL = v
	}
	if v := os.Getenv("MCG_RETRIEVAL_API_KEY"); v != "" {
		c.Retrieval.APIKey = v
	}
	if v := os.Getenv("MCG_TRANSFORMER_MODE"); v != "" {
		c.Transformer.Mode = v
	}
	if v := os.Getenv("MCG_CORPUS_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Governance.CorpusRateLimit = n
		}
	}
	if v := os.Getenv("MCG_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MCG_MEMORY_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Server.MemoryLimitBytes = n
		}
	}
	if v := os.Getenv("MCG_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MCG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Cache backends and transformer modes accepted by Validate.
var (
	validCacheBackends    = []string{"memory", "redis", "none"}
	validTransformerModes = []string{"punctuation_only", "noop", "http"}
)

// Validate rejects configurations the wiring cannot honor.
func (c *Config) Validate() error {
	if !contains(validCacheBackends, c.Cache.Backend) {
		return fmt.Errorf("invalid cache backend: %s (valid: %v)", c.Cache.Backend, validCacheBackends)
	}
	if !contains(validTransformerModes, c.Transformer.Mode) {
		return fmt.Errorf("invalid transformer mode: %s (valid: %v)", c.Transformer.Mode, validTransformerModes)
	}
	if c.Governance.CorpusRateLimit <= 0 {
		return fmt.Errorf("corpus rate limit must be positive, got %d", c.Governance.CorpusRateLimit)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, 5*time.Minute)
}

// ProviderTimeout returns the provider HTTP timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return parseDuration(c.Provider.Timeout, 30*time.Second)
}

// RetrievalTimeout returns the retrieval endpoint timeout.
func (c *Config) RetrievalTimeout() time.Duration {
	return parseDuration(c.Retrieval.Timeout, 15*time.Second)
}

// SweepInterval returns the governance sweeper cadence.
func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.Governance.SweepInterval, time.Minute)
}

// SweepRetention returns how long finalized task state is retained.
func (c *Config) SweepRetention() time.Duration {
	return parseDuration(c.Governance.SweepRetention, 15*time.Minute)
}

// ServerReadTimeout returns the HTTP read timeout.
func (c *Config) ServerReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// ServerWriteTimeout returns the HTTP write timeout.
func (c *Config) ServerWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
