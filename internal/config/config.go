package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	DiscordBotToken string `env:"DISCORD_BOT_TOKEN,required=true"`
	DiscordAPIURL   string `env:"DISCORD_API_URL,default=https://discord.com/api/v10"`

	LookaheadWindow   time.Duration `env:"LOOKAHEAD_WINDOW,default=5m"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS,default=5"`
	BaseDelay         time.Duration `env:"BASE_DELAY,default=30s"`
	MaxDelay          time.Duration `env:"MAX_DELAY,default=30m"`
	LeaseTimeout      time.Duration `env:"LEASE_TIMEOUT,default=2m"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=10s"`
	ScanInterval      time.Duration `env:"SCAN_INTERVAL,default=1m"`
	RetryScanInterval time.Duration `env:"RETRY_SCAN_INTERVAL,default=5s"`
	LeaseScanInterval time.Duration `env:"LEASE_SCAN_INTERVAL,default=30s"`
	ScanLimit         int           `env:"SCAN_LIMIT,default=100"`

	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=40"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=8"`
	APIPort           int    `env:"API_PORT,default=8080"`
	MetricsPort       int    `env:"METRICS_PORT,default=9090"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects pipeline settings that would stall or spin the scan loops.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"LOOKAHEAD_WINDOW", c.LookaheadWindow},
		{"BASE_DELAY", c.BaseDelay},
		{"MAX_DELAY", c.MaxDelay},
		{"LEASE_TIMEOUT", c.LeaseTimeout},
		{"SEND_TIMEOUT", c.SendTimeout},
		{"SCAN_INTERVAL", c.ScanInterval},
		{"RETRY_SCAN_INTERVAL", c.RetryScanInterval},
		{"LEASE_SCAN_INTERVAL", c.LeaseScanInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", d.name)
		}
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid config: MAX_ATTEMPTS must be >= 1")
	}
	if c.BaseDelay > c.MaxDelay {
		return fmt.Errorf("invalid config: BASE_DELAY (%s) exceeds MAX_DELAY (%s)", c.BaseDelay, c.MaxDelay)
	}
	if c.SendTimeout >= c.LeaseTimeout {
		return fmt.Errorf("invalid config: SEND_TIMEOUT (%s) must be shorter than LEASE_TIMEOUT (%s)", c.SendTimeout, c.LeaseTimeout)
	}

	return nil
}
