package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	Store       string `env:"STORE"        envDefault:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL string `env:"DATABASE_URL"                       validate:"required_if=Store postgres"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	CollectionExecutorURL  string `env:"COLLECTION_EXECUTOR_URL,required" validate:"required,url"`
	EnvironmentProviderURL string `env:"ENVIRONMENT_PROVIDER_URL"         validate:"omitempty,url"`

	MaxRetries      int           `env:"MAX_RETRIES"      envDefault:"3"    validate:"min=0,max=10"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL"   envDefault:"5m"   validate:"min=1s"`
	OverlapPolicy   string        `env:"OVERLAP_POLICY"   envDefault:"skip" validate:"oneof=skip allow"`
	RecoveryRate    float64       `env:"RECOVERY_RATE"    envDefault:"5"    validate:"min=0"`
	RecoveryBurst   int           `env:"RECOVERY_BURST"   envDefault:"10"   validate:"min=1"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"  validate:"min=1s"`

	ResendAPIKey string   `env:"RESEND_API_KEY"                     validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string   `env:"RESEND_FROM"                        validate:"required_if=Env production,required_if=Env staging"`
	NotifyTo     []string `env:"NOTIFY_EMAIL_TO" envSeparator:","   validate:"required_if=Env production,required_if=Env staging,dive,email"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.EnvironmentProviderURL == "" {
		cfg.EnvironmentProviderURL = cfg.CollectionExecutorURL
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
