package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	DevUserID      string `mapstructure:"DEV_USER_ID"`

	Calendar CalendarConfig `mapstructure:",squash"`
	Sync     SyncConfig     `mapstructure:",squash"`

	ReminderInterval  time.Duration `mapstructure:"REMINDER_INTERVAL"`
	ReminderLookahead time.Duration `mapstructure:"REMINDER_LOOKAHEAD"`

	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// CalendarConfig configures the external calendar provider adapter.
type CalendarConfig struct {
	ClientID         string        `mapstructure:"CALENDAR_CLIENT_ID"`
	ClientSecret     string        `mapstructure:"CALENDAR_CLIENT_SECRET"`
	RedirectURL      string        `mapstructure:"CALENDAR_REDIRECT_URL"`
	AuthURL          string        `mapstructure:"CALENDAR_AUTH_URL"`
	TokenURL         string        `mapstructure:"CALENDAR_TOKEN_URL"`
	APIBaseURL       string        `mapstructure:"CALENDAR_API_BASE_URL"`
	RequestTimeout   time.Duration `mapstructure:"CALENDAR_REQUEST_TIMEOUT"`
	TimeZone         string        `mapstructure:"CALENDAR_TIMEZONE"`
	TokenRefreshSkew time.Duration `mapstructure:"CALENDAR_TOKEN_REFRESH_SKEW"`
}

// SyncConfig configures the background calendar sync job.
type SyncConfig struct {
	Interval          time.Duration `mapstructure:"SYNC_INTERVAL"`
	Concurrency       int           `mapstructure:"SYNC_CONCURRENCY"`
	DefaultFutureDays int           `mapstructure:"SYNC_DEFAULT_FUTURE_DAYS"`
	LockTTL           time.Duration `mapstructure:"SYNC_LOCK_TTL"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "CORS_ORIGINS", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "DEV_USER_ID",
	"CALENDAR_CLIENT_ID", "CALENDAR_CLIENT_SECRET", "CALENDAR_REDIRECT_URL",
	"CALENDAR_AUTH_URL", "CALENDAR_TOKEN_URL", "CALENDAR_API_BASE_URL",
	"CALENDAR_REQUEST_TIMEOUT", "CALENDAR_TIMEZONE", "CALENDAR_TOKEN_REFRESH_SKEW",
	"SYNC_INTERVAL", "SYNC_CONCURRENCY", "SYNC_DEFAULT_FUTURE_DAYS", "SYNC_LOCK_TTL",
	"REMINDER_INTERVAL", "REMINDER_LOOKAHEAD",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("CALENDAR_AUTH_URL", "https://accounts.google.com/o/oauth2/auth")
	v.SetDefault("CALENDAR_TOKEN_URL", "https://oauth2.googleapis.com/token")
	v.SetDefault("CALENDAR_API_BASE_URL", "https://www.googleapis.com/calendar/v3")
	v.SetDefault("CALENDAR_REQUEST_TIMEOUT", "10s")
	v.SetDefault("CALENDAR_TIMEZONE", "UTC")
	v.SetDefault("CALENDAR_TOKEN_REFRESH_SKEW", "0s")
	v.SetDefault("SYNC_INTERVAL", "0s")
	v.SetDefault("SYNC_CONCURRENCY", 4)
	v.SetDefault("SYNC_DEFAULT_FUTURE_DAYS", 30)
	v.SetDefault("SYNC_LOCK_TTL", "10m")
	v.SetDefault("REMINDER_INTERVAL", "0s")
	v.SetDefault("REMINDER_LOOKAHEAD", "24h")
	v.SetDefault("OTEL_SERVICE_NAME", "clinic-scheduler")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves the calendar time zone used to place local appointment
// times on the remote calendar.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Calendar.TimeZone)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.DefaultFutureDays < 1 || c.Sync.DefaultFutureDays > 365 {
		return fmt.Errorf("SYNC_DEFAULT_FUTURE_DAYS must be between 1 and 365, got %d", c.Sync.DefaultFutureDays)
	}
	if c.Calendar.RequestTimeout <= 0 {
		return fmt.Errorf("CALENDAR_REQUEST_TIMEOUT must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("CALENDAR_TIMEZONE %q: %w", c.Calendar.TimeZone, err)
	}
	if c.CalendarEnabled() && c.Calendar.RedirectURL == "" {
		return fmt.Errorf("CALENDAR_REDIRECT_URL is required when CALENDAR_CLIENT_ID is set")
	}
	return nil
}

// CalendarEnabled reports whether OAuth client credentials are configured.
func (c *Config) CalendarEnabled() bool {
	return c.Calendar.ClientID != "" && c.Calendar.ClientSecret != ""
}
