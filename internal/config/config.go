package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port             int    `env:"PORT" envDefault:"8080"`
	DatabaseURL      string `env:"DATABASE_URL,required"`
	RedisURL         string `env:"REDIS_URL,required"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	MediaDir         string `env:"MEDIA_DIR" envDefault:"./data/media"`
	ReconnectBaseURL string `env:"RECONNECT_BASE_URL" envDefault:""`

	// Vendor automation engine that holds the actual WhatsApp-Web browser
	// resources. Commands go out over its REST API; events come back on the
	// signed webhook.
	EngineBaseURL       string `env:"ENGINE_BASE_URL,required"`
	EngineAPIKey        string `env:"ENGINE_API_KEY"`
	EngineWebhookSecret string `env:"ENGINE_WEBHOOK_SECRET"`

	// SMTP settings for the reconnect-link mail dispatcher. Mail delivery is
	// disabled when SMTPHost is empty.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"no-reply@wa-gateway.local"`

	QRExpirySeconds       int `env:"QR_EXPIRY_SECONDS" envDefault:"300"`
	ConnectTimeoutSeconds int `env:"CONNECT_TIMEOUT_SECONDS" envDefault:"180"`
	HealthIntervalSeconds int `env:"HEALTH_INTERVAL_SECONDS" envDefault:"600"`
	OrphanIntervalSeconds int `env:"ORPHAN_INTERVAL_SECONDS" envDefault:"600"`
	ReconnectBaseSeconds  int `env:"RECONNECT_BASE_SECONDS" envDefault:"30"`
	ReconnectCapSeconds   int `env:"RECONNECT_CAP_SECONDS" envDefault:"300"`
	ReconnectMaxAttempts  int `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"3"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) QRExpiry() time.Duration {
	return time.Duration(c.QRExpirySeconds) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c *Config) OrphanInterval() time.Duration {
	return time.Duration(c.OrphanIntervalSeconds) * time.Second
}

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseSeconds) * time.Second
}

func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.ReconnectMaxAttempts < 1 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1")
	}
	if c.ReconnectBaseSeconds <= 0 || c.ReconnectCapSeconds < c.ReconnectBaseSeconds {
		return fmt.Errorf("RECONNECT_CAP_SECONDS must be >= RECONNECT_BASE_SECONDS > 0")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.SMTPHost == "" {
			log.Warn().Msg("SMTP_HOST is empty in production: reconnect-link emails disabled")
		}
		if c.EngineWebhookSecret == "" {
			log.Warn().Msg("ENGINE_WEBHOOK_SECRET is empty in production: webhook signatures not verified")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
