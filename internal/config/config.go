package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBConfig struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	KafkaBrokerURL         string
	KafkaOperationsTopic   string
	KafkaTransactionsTopic string
	KafkaConsumerGroup     string

	OutboxPollInterval time.Duration
	OutboxPollTimeout  time.Duration

	ReconcileInterval    time.Duration
	ReconcileGracePeriod time.Duration

	LedgerMaxAttempts  int
	LedgerRetryBackoff time.Duration

	MigrationsPath string
}

func LoadConfig() (*Config, error) {
	// Local development keys live in .env; absence is fine.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("LEDGER_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("LEDGER_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("LEDGER_DB_USER", "ledger")
	cfg.DBConfig.Password = getEnvOrDefault("LEDGER_DB_PASSWORD", "ledger")
	cfg.DBConfig.Name = getEnvOrDefault("LEDGER_DB_NAME", "ledger_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("LEDGER_DB_SSLMODE", "disable")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaOperationsTopic = getEnvOrDefault("KAFKA_OPERATION_REQUESTS_TOPIC", "ledger_operation_requests")
	cfg.KafkaTransactionsTopic = getEnvOrDefault("KAFKA_TRANSACTION_EVENTS_TOPIC", "ledger_transaction_events")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "ledger-service-group")

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)

	cfg.ReconcileInterval = getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second)
	cfg.ReconcileGracePeriod = getEnvAsDuration("RECONCILE_GRACE_PERIOD", 5*time.Minute)

	cfg.LedgerMaxAttempts = getEnvAsInt("LEDGER_MAX_ATTEMPTS", 3)
	cfg.LedgerRetryBackoff = getEnvAsDuration("LEDGER_RETRY_BACKOFF", 25*time.Millisecond)

	cfg.MigrationsPath = getEnvOrDefault("MIGRATIONS_PATH", "file://migrations")

	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
