package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	StripeSecretKey string `env:"STRIPE_SECRET_KEY"`

	// Session engine knobs
	MaxActiveSessionsPerRestaurant int    `env:"MAX_ACTIVE_SESSIONS_PER_RESTAURANT" envDefault:"200"`
	MaxParticipantsPerSession      int    `env:"MAX_PARTICIPANTS_PER_SESSION" envDefault:"20"`
	DefaultSessionTTLMinutes       int    `env:"DEFAULT_SESSION_TTL_MINUTES" envDefault:"120"`
	MaxSessionTTLMinutes           int    `env:"MAX_SESSION_TTL_MINUTES" envDefault:"720"`
	IdleExpiryMinutes              int    `env:"IDLE_EXPIRY_MINUTES" envDefault:"60"`
	ChargeTimeoutSeconds           int    `env:"CHARGE_TIMEOUT_SECONDS" envDefault:"20"`
	RetentionHours                 int    `env:"RETENTION_HOURS" envDefault:"72"`
	RemovedItemPolicy              string `env:"REMOVED_ITEM_POLICY" envDefault:"exclude"`
	RateLimitPerMin                int    `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) DefaultSessionTTL() time.Duration {
	return time.Duration(c.DefaultSessionTTLMinutes) * time.Minute
}

func (c *Config) MaxSessionTTL() time.Duration {
	return time.Duration(c.MaxSessionTTLMinutes) * time.Minute
}

func (c *Config) IdleExpiry() time.Duration {
	return time.Duration(c.IdleExpiryMinutes) * time.Minute
}

func (c *Config) ChargeTimeout() time.Duration {
	return time.Duration(c.ChargeTimeoutSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *Config) Validate() error {
	if c.MaxActiveSessionsPerRestaurant <= 0 {
		return fmt.Errorf("MAX_ACTIVE_SESSIONS_PER_RESTAURANT must be positive")
	}
	if c.MaxParticipantsPerSession <= 0 {
		return fmt.Errorf("MAX_PARTICIPANTS_PER_SESSION must be positive")
	}
	if c.DefaultSessionTTLMinutes <= 0 || c.MaxSessionTTLMinutes < c.DefaultSessionTTLMinutes {
		return fmt.Errorf("session TTL settings are inconsistent")
	}
	switch c.RemovedItemPolicy {
	case "exclude", "transfer_to_host":
	default:
		return fmt.Errorf("REMOVED_ITEM_POLICY must be exclude or transfer_to_host, got %q", c.RemovedItemPolicy)
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
