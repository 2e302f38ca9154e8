// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// Duration accepts go duration strings ("30s", "15m") as well as raw
// nanosecond integers in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // bearer token for the client-facing API
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Limit  int      `yaml:"limit"`  // requests per window per user
	Window Duration `yaml:"window"` // window size
}

// AppleConfig carries the App Store Server API credentials.
type AppleConfig struct {
	IssuerID       string `yaml:"issuer_id"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"` // PEM, ES256 (.p8)
	BundleID       string `yaml:"bundle_id"`
	RootCAPath     string `yaml:"root_ca_path"` // Apple Root CA G3, PEM; chain pinning is skipped when empty
	Sandbox        bool   `yaml:"sandbox"`
}

// GoogleConfig carries the Play Developer API service-account credentials.
type GoogleConfig struct {
	PackageName    string `yaml:"package_name"`
	ClientEmail    string `yaml:"client_email"`
	PrivateKeyPath string `yaml:"private_key_path"` // PEM, RSA
	TokenURL       string `yaml:"token_url"`
}

type SchedulerConfig struct {
	ExpiryCheckInterval Duration `yaml:"expiry_check_interval"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Apple     AppleConfig     `yaml:"apple"`
	Google    GoogleConfig    `yaml:"google"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// ConfiguresApple reports whether enough Apple credentials are present to
// register the iOS validator.
func (c *Config) ConfiguresApple() bool {
	return c.Apple.IssuerID != "" && c.Apple.KeyID != "" && c.Apple.PrivateKeyPath != ""
}

// ConfiguresGoogle reports whether enough Play credentials are present to
// register the Android validator.
func (c *Config) ConfiguresGoogle() bool {
	return c.Google.PackageName != "" && c.Google.ClientEmail != "" && c.Google.PrivateKeyPath != ""
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.RateLimit.Limit <= 0 {
		cfg.RateLimit.Limit = 30
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = Duration(time.Minute)
	}
	if cfg.Scheduler.ExpiryCheckInterval <= 0 {
		cfg.Scheduler.ExpiryCheckInterval = Duration(time.Hour)
	}
	if cfg.Google.TokenURL == "" {
		cfg.Google.TokenURL = "https://oauth2.googleapis.com/token"
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if !cfg.ConfiguresApple() && !cfg.ConfiguresGoogle() {
		return nil, errors.New("at least one of apple or google must be configured")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
