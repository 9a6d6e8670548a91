package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Fatalf("cache ttl = %v", cfg.CacheTTL())
	}
	if cfg.ProviderTimeout() != 30*time.Second {
		t.Fatalf("provider timeout = %v", cfg.ProviderTimeout())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Cache.Backend != "memory" {
		t.Fatalf("backend = %s", cfg.Cache.Backend)
	}
}

func TestLoadFileAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
database:
  path: /var/lib/mcg/corpus.db
cache:
  backend: redis
  ttl: 90s
  redis:
    addr: cache.internal:6380
    use_tls: true
governance:
  corpus_rate_limit: 25
transformer:
  mode: noop
server:
  memory_limit_bytes: 536870912
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Cache.Backend != "redis" || !cfg.Cache.Redis.UseTLS {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.CacheTTL() != 90*time.Second {
		t.Fatalf("ttl = %v", cfg.CacheTTL())
	}
	if cfg.Governance.CorpusRateLimit != 25 {
		t.Fatalf("rate limit = %d", cfg.Governance.CorpusRateLimit)
	}
	if cfg.Transformer.Mode != "noop" {
		t.Fatalf("mode = %s", cfg.Transformer.Mode)
	}
	if cfg.Server.MemoryLimitBytes != 512<<20 {
		t.Fatalf("memory limit = %d", cfg.Server.MemoryLimitBytes)
	}
	// Unset fields keep defaults.
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("server addr = %s", cfg.Server.Addr)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("MCG_CACHE_BACKEND", "none")
	t.Setenv("MCG_PROVIDER_API_KEY", "sk-test")
	t.Setenv("MCG_CORPUS_RATE_LIMIT", "3")
	t.Setenv("MCG_MEMORY_LIMIT", "1073741824")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Cache.Backend != "none" {
		t.Fatalf("backend = %s", cfg.Cache.Backend)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Fatalf("api key = %s", cfg.Provider.APIKey)
	}
	if cfg.Governance.CorpusRateLimit != 3 {
		t.Fatalf("rate limit = %d", cfg.Governance.CorpusRateLimit)
	}
	if cfg.Server.MemoryLimitBytes != 1<<30 {
		t.Fatalf("memory limit = %d", cfg.Server.MemoryLimitBytes)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"bad mode", func(c *Config) { c.Transformer.Mode = "llm" }},
		{"zero rate", func(c *Config) { c.Governance.CorpusRateLimit = 0 }},
		{"no db", func(c *Config) { c.Database.Path = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
