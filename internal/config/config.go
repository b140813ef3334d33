// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ARCHIVER_STORAGE_BUCKET.
const EnvPrefix = "ARCHIVER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Renderer    RendererConfig  `mapstructure:"renderer"`
	Storage     StorageConfig   `mapstructure:"storage"`
	DB          DBConfig        `mapstructure:"db"`
	PubSub      PubSubConfig    `mapstructure:"pubsub"`
	Worker      WorkerConfig    `mapstructure:"worker"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines JWT verification settings.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	JWKSURL      string `mapstructure:"jwks_url"`
	Issuer       string `mapstructure:"issuer"`
	Audience     string `mapstructure:"audience"`
	HMACSecret   string `mapstructure:"hmac_secret"`
	JWKSCacheTTL int    `mapstructure:"jwks_cache_ttl_seconds"`
	GroupsClaim  string `mapstructure:"groups_claim"`
}

// RendererConfig selects and tunes the rendering strategy.
type RendererConfig struct {
	Strategy          string `mapstructure:"strategy"`
	ChromePath        string `mapstructure:"chrome_path"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	Offline           bool   `mapstructure:"offline"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	SettleMillis      int    `mapstructure:"settle_ms"`
	HTTPTimeout       int    `mapstructure:"http_timeout_seconds"`
}

// StorageConfig configures the artifact store.
type StorageConfig struct {
	Provider          string `mapstructure:"provider"`
	Bucket            string `mapstructure:"bucket"`
	KMSKeyName        string `mapstructure:"kms_key"`
	RetentionDays     int    `mapstructure:"retention_days"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds"`
	SigningEmail      string `mapstructure:"signing_email"`
	SigningKeyPEM     string `mapstructure:"signing_key_pem"`
	Endpoint          string `mapstructure:"endpoint"`
	LocalDir          string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider       string `mapstructure:"provider"`
	DSN            string `mapstructure:"dsn"`
	CapturesTable  string `mapstructure:"captures_table"`
	SchedulesTable string `mapstructure:"schedules_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds Pub/Sub topics for jobs and capture events.
type PubSubConfig struct {
	ProjectID        string `mapstructure:"project_id"`
	JobsTopic        string `mapstructure:"jobs_topic"`
	JobsSubscription string `mapstructure:"jobs_subscription"`
	EventsTopic      string `mapstructure:"events_topic"`
}

// WorkerConfig sizes the asynchronous capture worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// RateLimitConfig bounds capture admissions per owner.
type RateLimitConfig struct {
	PerOwnerRPS float64 `mapstructure:"per_owner_rps"`
	Burst       int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SearchPaths are checked for archiver.{yaml,json,toml} when no explicit
// config file is given. A missing file is not an error.
var SearchPaths = []string{".", "/etc/archiver", "$HOME/.archiver"}

// Load builds a Config from disk/environment. A .env file in the working
// directory, when present, seeds the environment first.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("archiver")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwks_cache_ttl_seconds", 3600)
	v.SetDefault("auth.groups_claim", "cognito:groups")
	v.SetDefault("renderer.strategy", "auto")
	v.SetDefault("renderer.no_sandbox", false)
	v.SetDefault("renderer.offline", false)
	v.SetDefault("renderer.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("renderer.nav_timeout_seconds", 15)
	v.SetDefault("renderer.settle_ms", 1500)
	v.SetDefault("renderer.http_timeout_seconds", 30)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.retention_days", 2555)
	v.SetDefault("storage.presign_ttl_seconds", 300)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.captures_table", "captures")
	v.SetDefault("db.schedules_table", "schedules")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("ratelimit.per_owner_rps", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "compliance-archiver")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Renderer.Strategy {
	case "auto", "browser", "http", "mock":
	default:
		return fmt.Errorf("renderer.strategy must be one of auto, browser, http, mock")
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if c.Storage.RetentionDays <= 0 {
		return fmt.Errorf("storage.retention_days must be > 0")
	}
	if c.Storage.PresignTTLSeconds <= 0 {
		return fmt.Errorf("storage.presign_ttl_seconds must be > 0")
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.jwks_url or auth.hmac_secret must be set when auth is enabled")
	}
	if c.IsProduction() && !c.Auth.Enabled {
		return fmt.Errorf("auth must be enabled in environment %q", c.Environment)
	}
	return nil
}

// IsProduction reports whether compliance controls (retention locks, auth) apply.
func (c Config) IsProduction() bool {
	return IsProductionEnv(c.Environment)
}

// IsProductionEnv treats everything except well-known development names as production-like.
func IsProductionEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

// PresignTTL returns the configured default presign lifetime.
func (c Config) PresignTTL() time.Duration {
	return time.Duration(c.Storage.PresignTTLSeconds) * time.Second
}

// NavTimeout returns the per-tier navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Renderer.NavTimeoutSeconds) * time.Second
}

// SettleDelay is the pause after load before the page is snapshotted.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Renderer.SettleMillis) * time.Millisecond
}

// HTTPTimeout returns the plain fetch timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Renderer.HTTPTimeout) * time.Second
}

// RequestTimeout bounds a single API request, including synchronous captures.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}
