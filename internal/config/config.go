package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "KORMO"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = "sqlite"
	defaultDatabaseDSN    = "kormo.db"
	defaultLogLevel       = "info"
	defaultAudience       = "authenticated"
	defaultGeminiModel    = "gemini-flash-lite-latest"
	defaultStorageRegion  = "us-east-1"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	LogLevel       string
	DatabaseDriver string
	DatabaseDSN    string
	AllowedOrigins []string
	MetricsEnabled bool

	Auth    AuthConfig
	Gemini  GeminiConfig
	Quota   QuotaConfig
	Cache   CacheConfig
	Storage StorageConfig
}

// AuthConfig describes how bearer tokens are validated.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// GeminiConfig configures the upstream completion API.
type GeminiConfig struct {
	APIKey         string
	Model          string
	Endpoint       string
	MaxRetries     int
	InitialBackoff time.Duration
}

// QuotaConfig holds the fixed-window limits for AI-backed operations.
type QuotaConfig struct {
	Window       time.Duration
	FreeLimit    int
	PremiumLimit int
}

type CacheConfig struct {
	TTL time.Duration
}

// StorageConfig points at an S3-compatible bucket. An empty bucket disables archiving.
type StorageConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether CV archiving is configured.
func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("metrics.enabled", true)

	configViper.SetDefault("auth.jwt_secret", "")
	configViper.SetDefault("auth.issuer", "")
	configViper.SetDefault("auth.audience", defaultAudience)

	configViper.SetDefault("gemini.api_key", "")
	configViper.SetDefault("gemini.model", defaultGeminiModel)
	configViper.SetDefault("gemini.endpoint", "")
	configViper.SetDefault("gemini.max_retries", 3)
	configViper.SetDefault("gemini.initial_backoff", 2*time.Second)

	configViper.SetDefault("quota.window", time.Minute)
	configViper.SetDefault("quota.free_limit", 3)
	configViper.SetDefault("quota.premium_limit", 10)

	configViper.SetDefault("cache.ttl", 24*time.Hour)

	configViper.SetDefault("storage.endpoint", "")
	configViper.SetDefault("storage.region", defaultStorageRegion)
	configViper.SetDefault("storage.bucket", "")
	configViper.SetDefault("storage.access_key", "")
	configViper.SetDefault("storage.secret_key", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		AllowedOrigins: configViper.GetStringSlice("cors.allowed_origins"),
		MetricsEnabled: configViper.GetBool("metrics.enabled"),
		Auth: AuthConfig{
			JWTSecret: configViper.GetString("auth.jwt_secret"),
			Issuer:    configViper.GetString("auth.issuer"),
			Audience:  configViper.GetString("auth.audience"),
		},
		Gemini: GeminiConfig{
			APIKey:         configViper.GetString("gemini.api_key"),
			Model:          configViper.GetString("gemini.model"),
			Endpoint:       configViper.GetString("gemini.endpoint"),
			MaxRetries:     configViper.GetInt("gemini.max_retries"),
			InitialBackoff: configViper.GetDuration("gemini.initial_backoff"),
		},
		Quota: QuotaConfig{
			Window:       configViper.GetDuration("quota.window"),
			FreeLimit:    configViper.GetInt("quota.free_limit"),
			PremiumLimit: configViper.GetInt("quota.premium_limit"),
		},
		Cache: CacheConfig{
			TTL: configViper.GetDuration("cache.ttl"),
		},
		Storage: StorageConfig{
			Endpoint:  configViper.GetString("storage.endpoint"),
			Region:    configViper.GetString("storage.region"),
			Bucket:    configViper.GetString("storage.bucket"),
			AccessKey: configViper.GetString("storage.access_key"),
			SecretKey: configViper.GetString("storage.secret_key"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireGemini reports an error when no upstream API key is configured.
func (c AppConfig) RequireGemini() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("gemini.api_key is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DatabaseDriverSQLite, DatabaseDriverPostgres)
	}
	if strings.TrimSpace(c.Gemini.Model) == "" {
		return fmt.Errorf("gemini.model is required")
	}
	if c.Gemini.MaxRetries < 0 {
		return fmt.Errorf("gemini.max_retries must not be negative")
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be positive")
	}
	if c.Quota.FreeLimit <= 0 || c.Quota.PremiumLimit <= 0 {
		return fmt.Errorf("quota limits must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Storage.Enabled() && strings.TrimSpace(c.Storage.Region) == "" {
		return fmt.Errorf("storage.region is required when storage.bucket is set")
	}
	return nil
}
