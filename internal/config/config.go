// Package config loads the catalog plugin's configuration from the
// environment, with an optional TOML config-file overlay underneath it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds everything the catalog client needs from the host.
type Config struct {
	ClientID     string `env:"CATALOG_CLIENT_ID"`
	ClientSecret string `env:"CATALOG_CLIENT_SECRET"`

	BaseURL  string `env:"CATALOG_API_BASE"`
	TokenURL string `env:"CATALOG_TOKEN_URL"`

	Timeout time.Duration `env:"CATALOG_TIMEOUT"`
	Retries int           `env:"CATALOG_RETRIES"`

	// RetryStatuses overrides the status codes that trigger a retry; empty
	// keeps the client default.
	RetryStatuses []int `env:"CATALOG_RETRY_STATUSES"`

	CacheEnabled  bool          `env:"CATALOG_CACHE"`
	ExtraExpiry   time.Duration `env:"CATALOG_EXTRA_EXPIRY"`
	RefreshMargin time.Duration `env:"CATALOG_REFRESH_MARGIN"`
}

// defaults returns the baseline configuration. Kept out of struct tags so a
// TOML overlay is not clobbered by env defaults applied afterwards.
func defaults() *Config {
	return &Config{
		BaseURL:       "https://api.example.com/v1",
		TokenURL:      "https://auth.example.com/token",
		Timeout:       10 * time.Second,
		Retries:       5,
		CacheEnabled:  true,
		ExtraExpiry:   10 * time.Second,
		RefreshMargin: time.Minute,
	}
}

// Load reads configuration from the environment on top of the defaults.
func Load() (*Config, error) {
	cfg := defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config with TOML-friendly types; durations appear as
// strings like "10s". Pointers distinguish absent fields from zero values.
type fileConfig struct {
	ClientID      *string `toml:"client_id"`
	ClientSecret  *string `toml:"client_secret"`
	BaseURL       *string `toml:"api_base"`
	TokenURL      *string `toml:"token_url"`
	Timeout       *string `toml:"timeout"`
	Retries       *int    `toml:"retries"`
	RetryStatuses []int   `toml:"retry_statuses"`
	Cache         *bool   `toml:"cache"`
	ExtraExpiry   *string `toml:"extra_expiry"`
	RefreshMargin *string `toml:"refresh_margin"`
}

// LoadFile reads a TOML config file and then applies the environment on top,
// so environment variables always win over file values.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := defaults()
	setString(&cfg.ClientID, fc.ClientID)
	setString(&cfg.ClientSecret, fc.ClientSecret)
	setString(&cfg.BaseURL, fc.BaseURL)
	setString(&cfg.TokenURL, fc.TokenURL)
	if fc.Retries != nil {
		cfg.Retries = *fc.Retries
	}
	if len(fc.RetryStatuses) > 0 {
		cfg.RetryStatuses = fc.RetryStatuses
	}
	if fc.Cache != nil {
		cfg.CacheEnabled = *fc.Cache
	}
	if err := setDuration(&cfg.Timeout, fc.Timeout, "timeout"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.ExtraExpiry, fc.ExtraExpiry, "extra_expiry"); err != nil {
		return nil, err
	}
	if err := setDuration(&cfg.RefreshMargin, fc.RefreshMargin, "refresh_margin"); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, name string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

// HasCredentials reports whether a client id and secret are both present.
// Without them the client runs anonymously.
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Validate rejects half-configured credentials and nonsensical budgets.
func (c *Config) Validate() error {
	if (c.ClientID == "") != (c.ClientSecret == "") {
		return fmt.Errorf("client_id and client_secret must be set together")
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", c.Retries)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
