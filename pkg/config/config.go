package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the DataPulse engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL application store)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (live event fan-out)
	Redis RedisConfig `yaml:"redis"`

	// Scheduler and worker pool configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Fetch safety caps for external sources
	Fetch FetchConfig `yaml:"fetch"`

	// Insight summarizer (OpenAI-compatible endpoint, optional)
	Insight InsightConfig `yaml:"insight"`

	// SMTP email delivery (optional)
	SMTP SMTPConfig `yaml:"smtp"`

	// Blob storage for raw manual uploads (optional)
	Storage StorageConfig `yaml:"storage"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// Secret signs and verifies session tokens (HS256).
	// The server fails to start if this is not set.
	Secret string `yaml:"-" env:"AUTH_JWT_SECRET"`

	// TokenTTLHours is the lifetime of issued session tokens.
	TokenTTLHours int `yaml:"token_ttl_hours" env:"AUTH_TOKEN_TTL_HOURS" env-default:"24"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"datapulse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"datapulse_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration. Redis is optional; when Host is
// empty the engine runs without cross-process event fan-out.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// SchedulerConfig holds polling scheduler settings.
type SchedulerConfig struct {
	// TickSeconds is how often the scheduler scans for due workspaces.
	TickSeconds int `yaml:"tick_seconds" env:"SCHEDULER_TICK_SECONDS" env-default:"60"`
	// SafetyBufferSeconds absorbs tick jitter in the due-time check so a
	// poll is never skipped because the tick fired a few seconds early.
	SafetyBufferSeconds int `yaml:"safety_buffer_seconds" env:"SCHEDULER_SAFETY_BUFFER_SECONDS" env-default:"60"`
	// MaxConcurrentFetches bounds the fetch worker pool.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" env:"SCHEDULER_MAX_CONCURRENT_FETCHES" env-default:"4"`
}

// FetchConfig holds the safety caps applied to external data sources.
type FetchConfig struct {
	// MaxResponseBytes caps API response size (default 5 MB).
	MaxResponseBytes int64 `yaml:"max_response_bytes" env:"FETCH_MAX_RESPONSE_BYTES" env-default:"5242880"`
	// MaxRows caps rows read from a remote query or parsed from a snapshot.
	MaxRows int `yaml:"max_rows" env:"FETCH_MAX_ROWS" env-default:"25000"`
	// ConnectTimeoutSeconds is the connect timeout for API and DB sources.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"FETCH_CONNECT_TIMEOUT_SECONDS" env-default:"10"`
	// ReadTimeoutSeconds is the read/statement timeout for API and DB sources.
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds" env:"FETCH_READ_TIMEOUT_SECONDS" env-default:"30"`
	// MaxUploadsPerWorkspace is the per-workspace snapshot counter limit.
	MaxUploadsPerWorkspace int `yaml:"max_uploads_per_workspace" env:"FETCH_MAX_UPLOADS_PER_WORKSPACE" env-default:"50"`
}

// InsightConfig holds the optional schema-change summarizer endpoint.
type InsightConfig struct {
	BaseURL string `yaml:"base_url" env:"INSIGHT_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"INSIGHT_MODEL" env-default:""`
	APIKey  string `yaml:"-" env:"INSIGHT_API_KEY"` // Secret - not in YAML
}

// IsAvailable returns true if the insight summarizer is configured.
func (c *InsightConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// SMTPConfig holds outbound email settings. Email is optional; when Host is
// empty alert emails are skipped.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:""`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME" env-default:""`
	Password string `yaml:"-" env:"SMTP_PASSWORD"` // Secret - not in YAML
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"alerts@datapulse.io"`
}

// IsAvailable returns true if email delivery is configured.
func (c *SMTPConfig) IsAvailable() bool {
	return c.Host != ""
}

// StorageConfig holds blob storage settings for raw manual uploads.
// When Bucket is empty, raw file bytes are kept only on the upload row.
type StorageConfig struct {
	Bucket string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:""`
	// SignedURLTTLSeconds is the lifetime of generated download links.
	SignedURLTTLSeconds int `yaml:"signed_url_ttl_seconds" env:"STORAGE_SIGNED_URL_TTL_SECONDS" env-default:"600"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET must be set")
	}
	if c.Scheduler.TickSeconds < 1 {
		return fmt.Errorf("scheduler tick_seconds must be positive")
	}
	if c.Scheduler.MaxConcurrentFetches < 1 {
		return fmt.Errorf("scheduler max_concurrent_fetches must be positive")
	}
	if c.Fetch.MaxRows < 1 {
		return fmt.Errorf("fetch max_rows must be positive")
	}
	if c.Fetch.MaxResponseBytes < 1 {
		return fmt.Errorf("fetch max_response_bytes must be positive")
	}
	return nil
}

// Tick returns the scheduler tick interval.
func (c *SchedulerConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// SafetyBuffer returns the due-time safety buffer.
func (c *SchedulerConfig) SafetyBuffer() time.Duration {
	return time.Duration(c.SafetyBufferSeconds) * time.Second
}

// ConnectTimeout returns the source connect timeout.
func (c *FetchConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ReadTimeout returns the source read/statement timeout.
func (c *FetchConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// SignedURLTTL returns the lifetime of generated download links.
func (c *StorageConfig) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

// ConnectionString returns a PostgreSQL connection string for the app store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
