package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adquify/catalog-harvester/internal/catalog"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
  level: debug
harvest:
  workers: 2
  max_attempts: 5
  min_jitter: 100ms
  max_jitter: 200ms
  fetch_timeout: 30s
sources:
  KAVE:
    targets: ["sofas", "sillas"]
    margin: 1.4
  sklum:
    targets: ["https://www.sklum.com/es/633-comprar-sofas"]
dedup:
  threshold: 0.9
embedding:
  provider: gemini
  api_key: key
audit:
  backend: local
  dir: /tmp/audit
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Harvest.Workers != 2 || cfg.Harvest.MaxAttempts != 5 {
		t.Fatalf("expected harvest overrides, got %+v", cfg.Harvest)
	}
	if cfg.Harvest.MinJitter != 100*time.Millisecond || cfg.Harvest.FetchTimeout != 30*time.Second {
		t.Fatalf("expected durations to decode, got %+v", cfg.Harvest)
	}
	if cfg.Dedup.Threshold != 0.9 {
		t.Fatalf("expected threshold 0.9, got %v", cfg.Dedup.Threshold)
	}

	targets := cfg.Targets()
	if got := targets[catalog.SourceKave]; len(got) != 2 || got[0] != "sofas" {
		t.Fatalf("expected kave targets, got %v", targets)
	}
	if got := targets[catalog.SourceSklum]; len(got) != 1 {
		t.Fatalf("expected sklum target, got %v", targets)
	}
	margins := cfg.Margins()
	if margins[catalog.SourceKave] != 1.4 {
		t.Fatalf("expected kave margin 1.4, got %v", margins)
	}
	if _, ok := margins[catalog.SourceSklum]; ok {
		t.Fatal("expected sklum to fall back to the default margin")
	}
	if names := strings.Join(cfg.SourceNames(), ","); names != "KAVE,SKLUM" {
		t.Fatalf("unexpected source names %s", names)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Workers != 4 || cfg.Harvest.MaxAttempts != 3 {
		t.Fatalf("unexpected pool defaults %+v", cfg.Harvest)
	}
	if cfg.Harvest.MinJitter != 500*time.Millisecond || cfg.Harvest.MaxJitter != 1500*time.Millisecond {
		t.Fatalf("unexpected jitter defaults %+v", cfg.Harvest)
	}
	if cfg.Pricing.DefaultMargin != 1.56 || cfg.Dedup.Threshold != 0.92 {
		t.Fatalf("unexpected pricing defaults %+v %+v", cfg.Pricing, cfg.Dedup)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Index.Backend != "memory" || cfg.Audit.Backend != "none" {
		t.Fatal("expected offline backends by default")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HARVESTER_HARVEST_WORKERS", "7")
	t.Setenv("HARVESTER_DEDUP_THRESHOLD", "0.85")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Workers != 7 {
		t.Fatalf("expected env override for workers, got %d", cfg.Harvest.Workers)
	}
	if cfg.Dedup.Threshold != 0.85 {
		t.Fatalf("expected env override for threshold, got %v", cfg.Dedup.Threshold)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("HARVESTER_HARVEST_MAX_ATTEMPTS=4\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("HARVESTER_HARVEST_MAX_ATTEMPTS", "")
	os.Unsetenv("HARVESTER_HARVEST_MAX_ATTEMPTS")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.MaxAttempts != 4 {
		t.Fatalf("expected .env value, got %d", cfg.Harvest.MaxAttempts)
	}
}

func TestValidateErrors(t *testing.T) {
	valid, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"workers", func(c *Config) { c.Harvest.Workers = 0 }, "Workers"},
		{"jitter order", func(c *Config) { c.Harvest.MaxJitter = c.Harvest.MinJitter - 1 }, "MaxJitter"},
		{"threshold", func(c *Config) { c.Dedup.Threshold = 1.5 }, "Threshold"},
		{"provider", func(c *Config) { c.Embedding.Provider = "openai" }, "Provider"},
		{"unknown source", func(c *Config) { c.Sources = map[string]SourceConfig{"ikea": {}} }, "sources.ikea"},
		{"gemini key", func(c *Config) { c.Embedding.Provider = "gemini" }, "embedding.api_key"},
		{"elastic addresses", func(c *Config) { c.Index.Backend = "elastic" }, "index.addresses"},
		{"local dir", func(c *Config) { c.Audit.Backend = "local" }, "audit.dir"},
		{"minio endpoint", func(c *Config) {
			c.Audit.Backend = "minio"
			c.Audit.Bucket = "audit"
		}, "audit.endpoint"},
		{"pubsub pair", func(c *Config) { c.PubSub.Topic = "runs" }, "pubsub.project_id"},
		{"sklum login", func(c *Config) { c.Sklum.LoginURL = "https://www.sklum.com/login" }, "sklum.email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
