package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ProjectionFromOutbox = "outbox"
	ProjectionFromKafka  = "kafka"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./productregistry.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	MongoURI    string `env:"MONGO_URI"`
	MongoDB     string `env:"MONGO_DB" envDefault:"productregistry"`

	RedisAddr string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	UseKafka     bool     `env:"USE_KAFKA" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"product-events"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"productregistry-projection"`
	// ProjectionSource elige quién alimenta la proyección: el outbox directamente o Kafka.
	ProjectionSource string `env:"PROJECTION_SOURCE" envDefault:"outbox"`

	ClickHouseAddr string `env:"CLICKHOUSE_ADDR"`
	ClickHouseDB   string `env:"CLICKHOUSE_DB" envDefault:"default"`

	OutboxPeriod      time.Duration `env:"OUTBOX_PERIOD" envDefault:"1s"`
	OutboxLimit       int           `env:"OUTBOX_LIMIT" envDefault:"10"`
	OutboxMaxRetries  int           `env:"OUTBOX_MAX_RETRIES" envDefault:"5"`
	OutboxBackoffBase time.Duration `env:"OUTBOX_BACKOFF_BASE" envDefault:"5s"`
	OutboxBackoffMax  time.Duration `env:"OUTBOX_BACKOFF_MAX" envDefault:"5m"`
	OutboxLease       time.Duration `env:"OUTBOX_LEASE" envDefault:"30s"`
	OutboxParallelism int           `env:"OUTBOX_PARALLELISM" envDefault:"0"`
	DeadLetterPath    string        `env:"DEAD_LETTER_PATH" envDefault:"./outbox_dead_letters.json"`

	CommandRetries  int `env:"COMMAND_RETRIES" envDefault:"3"`
	BroadcastBuffer int `env:"BROADCAST_BUFFER" envDefault:"64"`

	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
}

// LocalDeployment indica que no hay Postgres y todo vive en SQLite.
func (c *Config) LocalDeployment() bool {
	return c.DatabaseURL == ""
}

// ParseEnv carga target desde variables de entorno.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.OutboxLimit < 1:
		return fmt.Errorf("OUTBOX_LIMIT must be positive, got %d", c.OutboxLimit)
	case c.OutboxMaxRetries < 1:
		return fmt.Errorf("OUTBOX_MAX_RETRIES must be positive, got %d", c.OutboxMaxRetries)
	case c.OutboxPeriod <= 0:
		return fmt.Errorf("OUTBOX_PERIOD must be positive, got %s", c.OutboxPeriod)
	case c.CommandRetries < 1:
		return fmt.Errorf("COMMAND_RETRIES must be positive, got %d", c.CommandRetries)
	case c.ProjectionSource != ProjectionFromOutbox && c.ProjectionSource != ProjectionFromKafka:
		return fmt.Errorf("PROJECTION_SOURCE must be %q or %q, got %q", ProjectionFromOutbox, ProjectionFromKafka, c.ProjectionSource)
	case c.ProjectionSource == ProjectionFromKafka && !c.UseKafka:
		return fmt.Errorf("PROJECTION_SOURCE=kafka requires USE_KAFKA=true")
	}
	return nil
}
