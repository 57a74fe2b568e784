package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds gateway process configuration populated from environment variables.
type Config struct {
	// Address the external directory/auth services sit behind. This process never
	// dials it; cmd/gateway runs against an in-memory directory and does not read it.
	DatabaseURL string

	// Valkey backs presence (C3) and session bookkeeping (C8).
	RedisURL string

	// Broker backs C4. The source's hard-coded amqp://127.0.0.1:5672 becomes a
	// configurable NATS URL.
	BrokerURL string

	GatewayAddr string
	LogLevel    string

	JWTSecret string

	IdentifyTimeout time.Duration
	ReadIdleTimeout time.Duration
	RateLimitEvents int
	RateLimitWindow time.Duration
	MaxConnections  int
	PresenceTTL     time.Duration
}

// Load reads configuration from environment variables with gateway-appropriate defaults.
// It returns an error if any variable is set but cannot be parsed, or if a required
// security value is missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		DatabaseURL: envStr("DB_URL", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		BrokerURL:   envStr("BROKER_URL", envStr("NATS_URL", "nats://127.0.0.1:4222")),

		GatewayAddr: envStr("GATEWAY_ADDR", "0.0.0.0:8076"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		JWTSecret: envStr("JWT_SECRET", ""),

		IdentifyTimeout: p.duration("GATEWAY_IDENTIFY_TIMEOUT", 5*time.Second),
		ReadIdleTimeout: p.duration("GATEWAY_READ_IDLE_TIMEOUT", 30*time.Second),
		RateLimitEvents: p.int("GATEWAY_RATE_LIMIT_EVENTS", 1000),
		RateLimitWindow: p.duration("GATEWAY_RATE_LIMIT_WINDOW_SECONDS", 60*time.Second),
		MaxConnections:  p.int("GATEWAY_MAX_CONNECTIONS", 0),
		PresenceTTL:     p.duration("GATEWAY_PRESENCE_TTL", 5*time.Minute),
	}

	if err := errors.Join(errors.Join(p.errs...), cfg.validate()); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DB_URL is required"))
	}
	if c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("REDIS_URL is required"))
	}

	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 characters"))
	}

	if c.IdentifyTimeout < time.Second {
		errs = append(errs, fmt.Errorf("GATEWAY_IDENTIFY_TIMEOUT must be at least 1s"))
	}
	if c.ReadIdleTimeout < time.Second {
		errs = append(errs, fmt.Errorf("GATEWAY_READ_IDLE_TIMEOUT must be at least 1s"))
	}
	if c.RateLimitEvents < 1 {
		errs = append(errs, fmt.Errorf("GATEWAY_RATE_LIMIT_EVENTS must be at least 1"))
	}
	if c.RateLimitWindow < time.Second {
		errs = append(errs, fmt.Errorf("GATEWAY_RATE_LIMIT_WINDOW_SECONDS must be at least 1s"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("GATEWAY_MAX_CONNECTIONS must not be negative"))
	}
	if c.PresenceTTL < time.Second {
		errs = append(errs, fmt.Errorf("GATEWAY_PRESENCE_TTL must be at least 1s"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	// GATEWAY_RATE_LIMIT_WINDOW_SECONDS is named in seconds but still accepts any
	// Go duration string; a bare integer is treated as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"24h\", \"30m\", or a bare integer of seconds)", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
