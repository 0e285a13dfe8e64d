// Package config loads the gateway's process-wide, reloadable configuration
// surface (spec.md §6) with github.com/spf13/viper, layering a config file,
// environment variables, and built-in defaults the way internal/setup's
// installer layers DATABASE_*/REDIS_*/SERVER_* env vars over config.yaml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// UpstreamProxy is the optional outbound proxy the UpstreamClient dials
// through (spec.md §4.2 "Timeouts & proxy").
type UpstreamProxy struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Proxy is the top-level `proxy:` block from spec.md §6.
type Proxy struct {
	Enabled              bool              `mapstructure:"enabled"`
	Port                 int               `mapstructure:"port"`
	APIKey               string            `mapstructure:"api_key"`
	AutoStart            bool              `mapstructure:"auto_start"`
	BackendCanaryEnabled bool              `mapstructure:"backend_canary_enabled"`
	RequestTimeout       int               `mapstructure:"request_timeout"` // seconds
	CustomMapping        map[string]string `mapstructure:"custom_mapping"`
	AnthropicMapping     map[string]string `mapstructure:"anthropic_mapping"`
	UpstreamProxy        UpstreamProxy     `mapstructure:"upstream_proxy"`
	InternalBaseURLs     []string          `mapstructure:"internal_base_urls"`
	UserAgent            string            `mapstructure:"user_agent"`
}

// Database mirrors internal/setup's DatabaseConfig — the CloudAccountStore's
// Postgres connection.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Redis backs the TokenPool's cross-process session-binding cache; cooldowns
// are kept in process memory only.
type Redis struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// OAuth carries the Antigravity CLI's registered OAuth2 client credentials,
// used to exchange pooled accounts' refresh_tokens for access_tokens.
type OAuth struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// Config is the fully resolved process configuration.
type Config struct {
	Proxy    Proxy    `mapstructure:"proxy"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	OAuth    OAuth    `mapstructure:"oauth"`
}

// RequestTimeoutDuration returns Proxy.RequestTimeout as a Duration, clamped
// to the 1s minimum spec.md §4.2 names.
func (c *Config) RequestTimeoutDuration() time.Duration {
	secs := c.Proxy.RequestTimeout
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Load reads config.yaml (if present), overlays PROXY_*/DATABASE_*/REDIS_*
// environment variables, and fills in spec.md §6's documented defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("proxy.enabled", true)
	v.SetDefault("proxy.port", 8045)
	v.SetDefault("proxy.api_key", "")
	v.SetDefault("proxy.auto_start", false)
	v.SetDefault("proxy.backend_canary_enabled", false)
	v.SetDefault("proxy.request_timeout", 120)
	v.SetDefault("proxy.user_agent", "antigravity/1.11.9 windows/amd64")
	v.SetDefault("proxy.internal_base_urls", []string{
		"https://cloudcode-pa.googleapis.com/v1internal",
		"https://daily-cloudcode-pa.googleapis.com/v1internal",
	})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.dbname", "antigravity_gateway")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("proxy.internal_base_urls", "PROXY_INTERNAL_BASE_URLS", "ANTIGRAVITY_INTERNAL_BASE_URLS")
	_ = v.BindEnv("proxy.user_agent", "PROXY_REQUEST_USER_AGENT")
	_ = v.BindEnv("proxy.api_key", "PROXY_API_KEY")
	_ = v.BindEnv("oauth.client_id", "PROXY_OAUTH_CLIENT_ID")
	_ = v.BindEnv("oauth.client_secret", "PROXY_OAUTH_CLIENT_SECRET")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if raw := v.GetString("proxy.internal_base_urls"); raw != "" && len(cfg.Proxy.InternalBaseURLs) <= 1 {
		if parts := splitAndTrim(raw, ","); len(parts) > 0 {
			cfg.Proxy.InternalBaseURLs = parts
		}
	}
	for i, u := range cfg.Proxy.InternalBaseURLs {
		cfg.Proxy.InternalBaseURLs[i] = strings.TrimRight(strings.TrimSpace(u), "/")
	}

	return &cfg, nil
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
