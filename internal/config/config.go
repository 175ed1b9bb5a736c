package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// HTTP API
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/messenger2mail.db"`

	// Scheduler
	TickInterval    time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"60s"`
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"30s"`

	// Telegram sink (Bot API); messenger destinations need it
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	// Telegram session gateway (MTProto sidecar) driving the login handshake
	SessionGatewayURL   string `env:"SESSION_GATEWAY_URL"`
	SessionGatewayToken string `env:"SESSION_GATEWAY_TOKEN"`

	// Mail
	IMAPDialTimeout  time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	MailPollInterval time.Duration `env:"MAIL_POLL_INTERVAL" envDefault:"1m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// TelegramSinkEnabled returns true if the Bot API sink is configured
func (c *Config) TelegramSinkEnabled() bool {
	return c.TelegramBotToken != ""
}

// SessionGatewayEnabled returns true if the login gateway is configured
func (c *Config) SessionGatewayEnabled() bool {
	return c.SessionGatewayURL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.TickInterval < time.Second {
		return nil, fmt.Errorf("SCHEDULER_TICK_INTERVAL must be at least 1s, got %s", cfg.TickInterval)
	}
	if cfg.DispatchTimeout <= 0 {
		return nil, fmt.Errorf("DISPATCH_TIMEOUT must be positive, got %s", cfg.DispatchTimeout)
	}

	return cfg, nil
}
