package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
environment: prod
server:
  port: 9090
auth:
  enabled: true
  jwks_url: https://issuer.example.com/.well-known/jwks.json
  audience: archiver
renderer:
  strategy: http
  http_timeout_seconds: 20
storage:
  provider: gcs
  bucket: compliance-artifacts
  kms_key: projects/p/locations/l/keyRings/r/cryptoKeys/k
  retention_days: 30
  presign_ttl_seconds: 120
db:
  provider: postgres
  dsn: postgres://localhost/archiver
worker:
  concurrency: 3
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected prod to be production-like")
	}
	if cfg.Storage.Bucket != "compliance-artifacts" || cfg.Storage.RetentionDays != 30 {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if got := cfg.PresignTTL(); got != 2*time.Minute {
		t.Fatalf("expected presign ttl 2m, got %v", got)
	}
	if got := cfg.HTTPTimeout(); got != 20*time.Second {
		t.Fatalf("expected http timeout 20s, got %v", got)
	}
	if cfg.DB.CapturesTable != "captures" {
		t.Fatalf("expected default captures table, got %q", cfg.DB.CapturesTable)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected logging.development=false")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != "dev" || cfg.IsProduction() {
		t.Fatalf("expected dev environment by default, got %q", cfg.Environment)
	}
	if cfg.Storage.RetentionDays != 2555 {
		t.Fatalf("expected 2555 retention days, got %d", cfg.Storage.RetentionDays)
	}
	if cfg.PresignTTL() != 5*time.Minute {
		t.Fatalf("expected 5m presign ttl, got %v", cfg.PresignTTL())
	}
	if cfg.NavTimeout() != 15*time.Second {
		t.Fatalf("expected 15s nav timeout, got %v", cfg.NavTimeout())
	}
	if cfg.Renderer.Strategy != "auto" {
		t.Fatalf("expected auto renderer strategy, got %q", cfg.Renderer.Strategy)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARCHIVER_SERVER_PORT", "7070")
	t.Setenv("ARCHIVER_RENDERER_STRATEGY", "mock")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port override, got %d", cfg.Server.Port)
	}
	if cfg.Renderer.Strategy != "mock" {
		t.Fatalf("expected env strategy override, got %q", cfg.Renderer.Strategy)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Environment: "dev",
			Server:      ServerConfig{Port: 8080},
			Renderer:    RendererConfig{Strategy: "auto"},
			Storage:     StorageConfig{Provider: "memory", RetentionDays: 1, PresignTTLSeconds: 60},
			DB:          DBConfig{Provider: "memory"},
			Worker:      WorkerConfig{Concurrency: 1},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("expected base config valid, got %v", err)
	}

	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Server.Port = 0 },
		"strategy":      func(c *Config) { c.Renderer.Strategy = "puppeteer" },
		"gcs bucket":    func(c *Config) { c.Storage.Provider = "gcs" },
		"local dir":     func(c *Config) { c.Storage.Provider = "local" },
		"storage":       func(c *Config) { c.Storage.Provider = "s3" },
		"retention":     func(c *Config) { c.Storage.RetentionDays = 0 },
		"dsn":           func(c *Config) { c.DB.Provider = "postgres" },
		"workers":       func(c *Config) { c.Worker.Concurrency = 0 },
		"auth keys":     func(c *Config) { c.Auth.Enabled = true },
		"prod w/o auth": func(c *Config) { c.Environment = "prod" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestIsProductionEnv(t *testing.T) {
	t.Parallel()

	for _, env := range []string{"dev", "Development", "local", " test "} {
		if IsProductionEnv(env) {
			t.Fatalf("expected %q to be non-production", env)
		}
	}
	for _, env := range []string{"prod", "production", "staging", ""} {
		if !IsProductionEnv(env) {
			t.Fatalf("expected %q to be production-like", env)
		}
	}
}
