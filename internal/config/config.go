package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	Store          string        `mapstructure:"STORE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SyncInterval      time.Duration `mapstructure:"SYNC_INTERVAL"`
	SyncRetryInterval time.Duration `mapstructure:"SYNC_RETRY_INTERVAL"`
	SyncMaxAttempts   int           `mapstructure:"SYNC_MAX_ATTEMPTS"`
	SyncWorkers       int           `mapstructure:"SYNC_WORKERS"`

	DispatchInterval    time.Duration `mapstructure:"DISPATCH_INTERVAL"`
	DispatchBatchSize   int           `mapstructure:"DISPATCH_BATCH_SIZE"`
	DispatchMaxAttempts int           `mapstructure:"DISPATCH_MAX_ATTEMPTS"`
	DispatchConcurrency int           `mapstructure:"DISPATCH_CONCURRENCY"`
	AdapterTimeout      time.Duration `mapstructure:"ADAPTER_TIMEOUT"`

	SandataBaseURL    string `mapstructure:"SANDATA_BASE_URL"`
	SandataAPIKey     string `mapstructure:"SANDATA_API_KEY"`
	VAMCOEndpoint     string `mapstructure:"VA_MCO_ENDPOINT"`
	VAMCOClientID     string `mapstructure:"VA_MCO_CLIENT_ID"`
	VAMCOClientSecret string `mapstructure:"VA_MCO_CLIENT_SECRET"`
}

var envKeys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "REQUEST_TIMEOUT",
	"SYNC_INTERVAL", "SYNC_RETRY_INTERVAL", "SYNC_MAX_ATTEMPTS", "SYNC_WORKERS",
	"DISPATCH_INTERVAL", "DISPATCH_BATCH_SIZE", "DISPATCH_MAX_ATTEMPTS", "DISPATCH_CONCURRENCY",
	"ADAPTER_TIMEOUT", "SANDATA_BASE_URL", "SANDATA_API_KEY",
	"VA_MCO_ENDPOINT", "VA_MCO_CLIENT_ID", "VA_MCO_CLIENT_SECRET",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("SYNC_INTERVAL", 60*time.Second)
	v.SetDefault("SYNC_RETRY_INTERVAL", 30*time.Minute)
	v.SetDefault("SYNC_MAX_ATTEMPTS", 3)
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("DISPATCH_INTERVAL", 30*time.Second)
	v.SetDefault("DISPATCH_BATCH_SIZE", 50)
	v.SetDefault("DISPATCH_MAX_ATTEMPTS", 10)
	v.SetDefault("DISPATCH_CONCURRENCY", 8)
	v.SetDefault("ADAPTER_TIMEOUT", 15*time.Second)
	v.SetDefault("SANDATA_BASE_URL", "https://api.sandata.dc.gov")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.Store == StoreMemory {
		return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
	}
	if c.SyncMaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1, got %d", c.SyncMaxAttempts)
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1, got %d", c.DispatchMaxAttempts)
	}
	if c.SyncInterval <= 0 || c.SyncRetryInterval <= 0 || c.DispatchInterval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	if (c.VAMCOClientID == "") != (c.VAMCOClientSecret == "") {
		return fmt.Errorf("VA_MCO_CLIENT_ID and VA_MCO_CLIENT_SECRET must be set together")
	}
	return nil
}
