package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultSandboxPasskey = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"
)

// Config is the process configuration read from the environment.
type Config struct {
	Env           string `env:"ENV" envDefault:"development"`
	Port          string `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"sqlite:///finance_tracker.db"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	CorsOrigin    string `env:"CORS_ORIGIN" envDefault:"*"`
	SessionSecret string `env:"SESSION_SECRET" envDefault:"dev-secret-key"`
	JWTSecret     string `env:"JWT_SECRET"`
	AuthRequired  bool   `env:"AUTH_REQUIRED" envDefault:"false"`

	RateLimitMax    int           `env:"RATE_LIMIT_TX_MAX" envDefault:"60"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_TX_WINDOW" envDefault:"1m"`

	Mpesa Mpesa `envPrefix:"MPESA_"`
}

// Mpesa holds the Daraja credentials and callback wiring.
type Mpesa struct {
	Environment      string        `env:"ENVIRONMENT" envDefault:"sandbox"`
	BaseURL          string        `env:"BASE_URL"`
	ConsumerKey      string        `env:"CONSUMER_KEY"`
	ConsumerSecret   string        `env:"CONSUMER_SECRET"`
	Shortcode        string        `env:"SHORTCODE" envDefault:"174379"`
	Passkey          string        `env:"PASSKEY"`
	CallbackURL      string        `env:"CALLBACK_URL"`
	CallbackToken    string        `env:"CALLBACK_TOKEN"`
	AccountReference string        `env:"ACCOUNT_REFERENCE" envDefault:"FinanceTracker"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Configured reports whether both Daraja credentials are present.
func (m Mpesa) Configured() bool {
	return strings.TrimSpace(m.ConsumerKey) != "" && strings.TrimSpace(m.ConsumerSecret) != ""
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		c.DatabaseURL = "sqlite:///finance_tracker.db"
	}
	c.Mpesa.Environment = strings.ToLower(strings.TrimSpace(c.Mpesa.Environment))
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	if c.JWTSecret == "" && c.Env != EnvProduction {
		c.JWTSecret = c.SessionSecret
	}
	if strings.TrimSpace(c.Mpesa.Passkey) == "" {
		c.Mpesa.Passkey = defaultSandboxPasskey
	}
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, "dev", "stage", "test", EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("ENV %q is not recognised", c.Env))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_TX_MAX must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_TX_WINDOW must be positive"))
	}
	switch c.Mpesa.Environment {
	case "sandbox", "production":
	default:
		errs = append(errs, fmt.Errorf("MPESA_ENVIRONMENT %q must be sandbox or production", c.Mpesa.Environment))
	}
	if c.Mpesa.Timeout <= 0 {
		errs = append(errs, errors.New("MPESA_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}
