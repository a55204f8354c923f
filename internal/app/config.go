package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (BOUTIQUE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (BOUTIQUE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to relative item image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (BOUTIQUE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	OrderPrefix  string `default:"CMD" usage:"Prefix of generated order numbers" flag:"order-prefix"`
	MaxBodyBytes int64  `default:"1048576" usage:"Maximum request body size" flag:"max-body-bytes"`
	Migrate      MigrateConfig
	Cancel       CancelConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Redis        RedisConfig
	Idempotency  IdempotencyConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// MigrateConfig controls schema migrations at startup.
type MigrateConfig struct {
	Enabled bool `default:"true" usage:"Apply embedded migrations on startup" flag:"migrate"`
}

// CancelConfig selects what cancelling an order rolls back.
type CancelConfig struct {
	Restock         bool `default:"false" usage:"Return reserved stock when an order is cancelled" flag:"cancel-restock"`
	ReleaseDiscount bool `default:"false" usage:"Give back the discount use when an order is cancelled" flag:"cancel-release-discount"`
}

// KafkaConfig configures the order event producer. With no brokers the
// outbox keeps accumulating events and no relay runs.
type KafkaConfig struct {
	Brokers      []string      `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic        string        `default:"order.events" usage:"Topic order events are published to" flag:"kafka-topic"`
	BatchTimeout time.Duration `default:"10ms" usage:"Producer batch flush interval" flag:"kafka-batch-timeout"`
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	BatchSize  int           `default:"100" usage:"Events leased per poll" flag:"outbox-batch-size"`
	Interval   time.Duration `default:"500ms" usage:"Relay poll interval" flag:"outbox-interval"`
	Lease      time.Duration `default:"5s" usage:"Lease of a polled batch" flag:"outbox-lease"`
	MaxRetries int           `default:"10" usage:"Attempts before an event is parked as failed" flag:"outbox-max-retries"`
	Backoff    time.Duration `default:"1s" usage:"Delay after the first failed delivery, doubled per retry" flag:"outbox-backoff"`
}

// RedisConfig points at the Redis used for idempotency keys and rate
// limits. Both features are off when URL is empty.
type RedisConfig struct {
	URL string `usage:"Redis URL (BOUTIQUE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
}

// IdempotencyConfig controls replay of retried checkouts.
type IdempotencyConfig struct {
	TTL time.Duration `default:"24h" usage:"Retention of idempotency records" flag:"idempotency-ttl"`
}

// RateLimitConfig controls the per-key fixed window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOUTIQUE",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/boutique/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set BOUTIQUE_DATABASE_URL or DATABASE_URL")
	case c.APIKeyPepper == "":
		return errors.New("API key pepper is required: set BOUTIQUE_API_KEY_PEPPER")
	case c.OrderPrefix == "" || strings.ContainsAny(c.OrderPrefix, " -"):
		return errors.Errorf("invalid order prefix %q", c.OrderPrefix)
	case c.Outbox.Backoff <= 0:
		return errors.New("outbox backoff must be positive")
	case c.Outbox.MaxRetries <= 0:
		return errors.New("outbox max retries must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL, REDIS_URL and PORT to the application's
// BOUTIQUE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
