package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource  string
	Port      string
	Env       string
	PlansFile string

	HTTP      HTTPConfig
	Logging   LoggingConfig
	Paystack  PaystackConfig
	ALATPay   ALATPayConfig
	RateLimit RateLimitConfig
	Outbox    OutboxConfig

	GatewayTimeout time.Duration
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
}

type ALATPayConfig struct {
	BaseURL         string
	SubscriptionKey string
}

// RateLimitConfig bounds POST requests per client within a fixed window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// OutboxConfig configures the RabbitMQ relay. An empty AMQPURL disables it.
type OutboxConfig struct {
	AMQPURL   string
	Queue     string
	Interval  time.Duration
	BatchSize int
}

const (
	defaultPort            = "8080"
	defaultEnv             = "development"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultGatewayTimeout  = 10 * time.Second
	defaultPaystackBaseURL = "https://api.paystack.co"
	defaultALATPayBaseURL  = "https://apibox.alatpay.ng"
	defaultRateLimit       = 30
	defaultRateLimitWindow = time.Minute
	defaultOutboxQueue     = "payments_results_queue"
	defaultOutboxInterval  = 2 * time.Second
	defaultOutboxBatchSize = 10
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
)

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:  dbSource,
		Port:      valueOrDefault("SERVER_PORT", defaultPort),
		Env:       valueOrDefault("ENVIRONMENT", defaultEnv),
		PlansFile: os.Getenv("PLANS_FILE"),
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Paystack: PaystackConfig{
			SecretKey:   os.Getenv("PAYSTACK_SECRET_KEY"),
			BaseURL:     valueOrDefault("PAYSTACK_BASE_URL", defaultPaystackBaseURL),
			CallbackURL: os.Getenv("PAYSTACK_CALLBACK_URL"),
		},
		ALATPay: ALATPayConfig{
			BaseURL:         valueOrDefault("ALATPAY_BASE_URL", defaultALATPayBaseURL),
			SubscriptionKey: os.Getenv("ALATPAY_SUBSCRIPTION_KEY"),
		},
		Outbox: OutboxConfig{
			AMQPURL:   os.Getenv("AMQP_URL"),
			Queue:     valueOrDefault("OUTBOX_QUEUE", defaultOutboxQueue),
			BatchSize: parseIntWithDefault("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize),
		},
		RateLimit: RateLimitConfig{
			Requests: parseIntWithDefault("RATE_LIMIT_REQUESTS", defaultRateLimit),
		},
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"GATEWAY_TIMEOUT", defaultGatewayTimeout, &cfg.GatewayTimeout},
		{"RATE_LIMIT_WINDOW", defaultRateLimitWindow, &cfg.RateLimit.Window},
		{"OUTBOX_INTERVAL", defaultOutboxInterval, &cfg.Outbox.Interval},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT value %q: %w", cfg.Port, err)
	}
	if cfg.RateLimit.Requests <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", cfg.RateLimit.Requests)
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
