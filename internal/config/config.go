// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	BaseURL         string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	SessionSecret   string        `env:"SESSION_SECRET"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"168h"`

	ImageCache ImageCacheConfig `envPrefix:"IMAGE_CACHE_"`
	Backend    BackendConfig    `envPrefix:"BACKEND_"`
	Supabase   SupabaseConfig   `envPrefix:"SUPABASE_"`
	Stripe     StripeConfig     `envPrefix:"STRIPE_"`
	Google     GoogleConfig     `envPrefix:"GOOGLE_"`
	SMTP       SMTPConfig       `envPrefix:"SMTP_"`
}

// ImageCacheConfig holds tuning for the in-process image cache
type ImageCacheConfig struct {
	TTL           time.Duration `env:"TTL" envDefault:"24h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// BackendConfig points at the analogy generation API
type BackendConfig struct {
	URL string `env:"URL" envDefault:"http://localhost:8000"`
}

// SupabaseConfig holds Supabase auth configuration
type SupabaseConfig struct {
	URL     string `env:"URL"`
	AnonKey string `env:"ANON_KEY"`
}

// StripeConfig holds Stripe billing configuration
type StripeConfig struct {
	SecretKey      string `env:"SECRET_KEY"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	ScholarPriceID string `env:"SCHOLAR_PRICE_ID"`
}

// GoogleConfig holds Google OAuth configuration
type GoogleConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// SMTPConfig holds outbound mail configuration
type SMTPConfig struct {
	Addr string `env:"ADDR" envDefault:"localhost:1025"`
	From string `env:"FROM" envDefault:"no-reply@analogous.app"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1-65535, got %d", cfg.Port)
	}
	if cfg.ImageCache.TTL <= 0 {
		return nil, fmt.Errorf("IMAGE_CACHE_TTL must be positive, got %s", cfg.ImageCache.TTL)
	}
	if cfg.ImageCache.SweepInterval < 0 {
		return nil, fmt.Errorf("IMAGE_CACHE_SWEEP_INTERVAL must not be negative, got %s", cfg.ImageCache.SweepInterval)
	}

	return cfg, nil
}

// HasStripe returns true if Stripe billing is fully configured
func (c *Config) HasStripe() bool {
	return c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret != "" && c.Stripe.ScholarPriceID != ""
}

// HasGoogleOAuth returns true if Google sign-in is configured
func (c *Config) HasGoogleOAuth() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// HasSMTP returns true if outbound mail is configured
func (c *Config) HasSMTP() bool {
	return c.SMTP.Addr != "" && c.SMTP.From != ""
}

// Validate ensures the configuration is usable for serving traffic
func (c *Config) Validate() error {
	if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
		return fmt.Errorf("supabase auth not configured - please set SUPABASE_URL and SUPABASE_ANON_KEY")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET must be set")
	}
	if c.HasGoogleOAuth() && c.BaseURL == "" {
		return fmt.Errorf("BASE_URL must be set when Google sign-in is configured")
	}
	return nil
}
