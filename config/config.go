package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required"`

	WorkerCount         int `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalSec     int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	DispatchIntervalSec int `env:"DISPATCH_INTERVAL_SEC" envDefault:"5" validate:"min=1,max=60"`

	// SchedulerTickIntervalSec is how often the Scheduler Loop evaluates the
	// dispatch gate across every registered entry.
	SchedulerTickIntervalSec int `env:"SCHEDULER_TICK_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`

	// DefaultLockTTLSec is parsed and validated but not read by any component;
	// the Task Runner's lock TTL comes from safety.timeout_s, or its own
	// 30-minute default when that is unset.
	DefaultLockTTLSec int `env:"DEFAULT_LOCK_TTL_SEC" envDefault:"1800" validate:"min=1"`

	// Discord alert webhooks, keyed by the alias names alert.ResolveTargets
	// understands (SIGNALS, PORTFOLIO, MORNING_BREW, PLAYGROUND, SYSTEM_STATUS).
	DiscordWebhookSignals      string `env:"DISCORD_WEBHOOK_SIGNALS"`
	DiscordWebhookPortfolio    string `env:"DISCORD_WEBHOOK_PORTFOLIO"`
	DiscordWebhookMorningBrew  string `env:"DISCORD_WEBHOOK_MORNING_BREW"`
	DiscordWebhookPlayground   string `env:"DISCORD_WEBHOOK_PLAYGROUND"`
	DiscordWebhookSystemStatus string `env:"DISCORD_WEBHOOK_SYSTEM_STATUS"`

	// PrometheusPushEndpoint is parsed but not read by any component; the
	// Task Runner pushes per-run samples only to each schedule's
	// hooks.prometheus_endpoint.
	PrometheusPushEndpoint string `env:"PROMETHEUS_PUSH_ENDPOINT"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	JWTSecret     string `env:"JWT_SECRET"`
	ResendAPIKey  string `env:"RESEND_API_KEY"         validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM"            validate:"required_if=Env production,required_if=Env staging"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL"    envDefault:"http://localhost:8080"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DiscordWebhooksByAlias builds the alias -> URL table alert.ResolveTargets
// resolves hooks.discord_channels entries against.
func (c *Config) DiscordWebhooksByAlias() map[string]string {
	return map[string]string{
		"SIGNALS":       c.DiscordWebhookSignals,
		"PORTFOLIO":     c.DiscordWebhookPortfolio,
		"MORNING_BREW":  c.DiscordWebhookMorningBrew,
		"PLAYGROUND":    c.DiscordWebhookPlayground,
		"SYSTEM_STATUS": c.DiscordWebhookSystemStatus,
	}
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
