package config

import (
	"fmt"
	"github.com/caarlos0/env/v11"
	"strings"
	"time"
)

const EnvProduction = "production"

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTP_PORT       string        `env:"HTTP_PORT" envDefault:"8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DB_STRING      string `env:"DB_STRING,required,notEmpty"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`

	Kafka Kafka

	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer string `env:"JWT_ISSUER"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

// Kafka is the broker part of the configuration; cmd/eventtail loads it alone.
type Kafka struct {
	KAFKA_BROKERS  string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KAFKA_TOPIC    string        `env:"KAFKA_TOPIC" envDefault:"order-events"`
	KAFKA_GROUP_ID string        `env:"KAFKA_GROUP_ID" envDefault:"order-events-tail"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

func LoadKafka() (*Kafka, error) {
	k := &Kafka{}
	if err := env.Parse(k); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := k.validate(); err != nil {
		return nil, err
	}
	return k, nil
}

func (c *Kafka) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KAFKA_BROKERS, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Config) validate() error {
	if err := c.Kafka.validate(); err != nil {
		return err
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must be positive (rps=%v burst=%d)", c.RateLimitRPS, c.RateLimitBurst)
	}
	return nil
}

func (c *Kafka) validate() error {
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("PUBLISH_TIMEOUT must be positive")
	}
	return nil
}
