package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the client library and the token
// proxy server. Tags use mapstructure for Viper unmarshalling.
type Config struct {
	GithubClientID     string `mapstructure:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `mapstructure:"GITHUB_CLIENT_SECRET"` // proxy side only, never shipped to browsers
	RedirectURL        string `mapstructure:"REDIRECT_URL"`
	AuthBaseURL        string `mapstructure:"AUTH_BASE_URL"`
	APIBaseURL         string `mapstructure:"API_BASE_URL"`
	TokenProxyURL      string `mapstructure:"TOKEN_PROXY_URL"`

	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	SessionTTLHour      int `mapstructure:"SESSION_TTL_HOUR"`
	RefreshThresholdMin int `mapstructure:"REFRESH_THRESHOLD_MIN"`
	CacheTTLSec         int `mapstructure:"CACHE_TTL_SEC"`
	CacheCooldownSec    int `mapstructure:"CACHE_COOLDOWN_SEC"`

	// Optional: when set, the credential store is backed by Redis instead
	// of process memory.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
}

// SessionTTL returns the session validity window as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHour) * time.Hour
}

// RefreshThreshold returns the remaining-lifetime threshold below which a
// session is silently renewed.
func (c *Config) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdMin) * time.Minute
}

// CacheTTL returns the freshness window of the response cache.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// CacheCooldown returns the minimum interval between re-fetch attempts.
func (c *Config) CacheCooldown() time.Duration {
	return time.Duration(c.CacheCooldownSec) * time.Second
}

// Load reads configuration from file, environment variables, and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/gistvault/")
	v.AddConfigPath("$HOME/.gistvault")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("AUTH_BASE_URL", "https://github.com")
	v.SetDefault("API_BASE_URL", "https://api.github.com")
	v.SetDefault("TOKEN_PROXY_URL", "/api/auth/token")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("SESSION_TTL_HOUR", 24)
	v.SetDefault("REFRESH_THRESHOLD_MIN", 60)
	v.SetDefault("CACHE_TTL_SEC", 60)
	v.SetDefault("CACHE_COOLDOWN_SEC", 5)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
