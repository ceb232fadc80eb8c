package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backend selectors.
const (
	StoreBackendMongo  = "mongo"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// ServerConfig holds all configuration for the captcha server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	StoreBackend string `mapstructure:"STORE_BACKEND"` // mongo | redis | memory
	MongoURI     string `mapstructure:"MONGO_URI"`
	MongoDBName  string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisPrefix  string `mapstructure:"REDIS_PREFIX"`

	RecaptchaSecretKey string `mapstructure:"RECAPTCHA_SECRET_KEY"`
	RecaptchaSiteKey   string `mapstructure:"RECAPTCHA_SITE_KEY"`
	// CaptchaHMACSecret signs the challenge-page CSRF binding cookie.
	// The server refuses to start without it.
	CaptchaHMACSecret string `mapstructure:"CAPTCHA_HMAC_SECRET"`
	// AllowedHostnames is a comma-separated allow-list checked against the
	// hostname reported by siteverify. Empty disables the check.
	AllowedHostnames string `mapstructure:"ALLOWED_HOSTNAMES"`

	TokenTTLMin          int    `mapstructure:"TOKEN_TTL_MIN"`
	SiteverifyTimeoutSec int    `mapstructure:"SITEVERIFY_TIMEOUT_SEC"`
	AdminKeyHash         string `mapstructure:"ADMIN_KEY_HASH"` // bcrypt hash; empty closes admin endpoints

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// TokenTTL returns the configured token lifetime.
func (c *ServerConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMin) * time.Minute
}

// SiteverifyTimeout returns the bounded timeout for oracle calls.
func (c *ServerConfig) SiteverifyTimeout() time.Duration {
	return time.Duration(c.SiteverifyTimeoutSec) * time.Second
}

// AllowedHostnameList splits the comma-separated allow-list, trimming
// whitespace and dropping empty entries.
func (c *ServerConfig) AllowedHostnameList() []string {
	if c.AllowedHostnames == "" {
		return nil
	}
	parts := strings.Split(c.AllowedHostnames, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := strings.TrimSpace(p); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Validate checks the settings the server cannot run without. A missing
// HMAC secret is a fatal configuration error, not a per-request failure.
func (c *ServerConfig) Validate() error {
	if c.CaptchaHMACSecret == "" {
		return errors.New("CAPTCHA_HMAC_SECRET is required")
	}
	if c.RecaptchaSecretKey == "" {
		return errors.New("RECAPTCHA_SECRET_KEY is required")
	}
	switch c.StoreBackend {
	case StoreBackendMongo, StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.TokenTTLMin <= 0 {
		return errors.New("TOKEN_TTL_MIN must be positive")
	}
	return nil
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/captcha-gate/")
	v.AddConfigPath("$HOME/.captcha-gate")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("STORE_BACKEND", StoreBackendMongo)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/captcha_gate_dev")
	v.SetDefault("MONGO_DB_NAME", "captcha_gate_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PREFIX", "captcha")
	v.SetDefault("TOKEN_TTL_MIN", 15)
	v.SetDefault("SITEVERIFY_TIMEOUT_SEC", 10)
	v.SetDefault("OTEL_SERVICE_NAME", "captcha-gate")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
