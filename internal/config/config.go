package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	Environment        string   `envconfig:"ENV" default:"production"`
	LogLevel           string   `envconfig:"LOG_LEVEL"`
	DBConnectionString string   `envconfig:"DB_CONNECTION_STRING" required:"true"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Supabase auth. Leaving the URL or anon key empty turns the session gate
	// into a pass-through, which is how local offline development runs.
	SupabaseURL       string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey   string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret string `envconfig:"SUPABASE_JWT_SECRET"`

	// Session gate settings
	ProtectedPrefix string `envconfig:"AUTH_PROTECTED_PREFIX" default:"/dashboard"`
	LoginPath       string `envconfig:"AUTH_LOGIN_PATH" default:"/login"`
	// RefreshWindow of zero refreshes on every request that carries a refresh token.
	RefreshWindow time.Duration `envconfig:"AUTH_REFRESH_WINDOW" default:"0s"`

	// Stripe settings
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceAnnual   string `envconfig:"STRIPE_PRICE_ANNUAL"`
	StripePriceLegacy   string `envconfig:"STRIPE_PRICE_LEGACY"`
	AppURL              string `envconfig:"APP_URL" default:"http://localhost:3000"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &cfg, nil
}

// AuthConfigured reports whether the Supabase session gate should run.
func (c *Config) AuthConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
