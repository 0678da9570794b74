package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DBConfig.Host)
	assert.Equal(t, 5432, cfg.DBConfig.Port)
	assert.Equal(t, "ledger_operation_requests", cfg.KafkaOperationsTopic)
	assert.Equal(t, "ledger_transaction_events", cfg.KafkaTransactionsTopic)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileGracePeriod)
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.LedgerRetryBackoff)
	assert.Equal(t, "file://migrations", cfg.MigrationsPath)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LEDGER_DB_HOST", "db.internal")
	t.Setenv("LEDGER_DB_PORT", "6432")
	t.Setenv("KAFKA_BROKER_URL", "kafka-1:9092,kafka-2:9092")
	t.Setenv("RECONCILE_GRACE_PERIOD", "90s")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DBConfig.Host)
	assert.Equal(t, 6432, cfg.DBConfig.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.GetKafkaBrokers())
	assert.Equal(t, 90*time.Second, cfg.ReconcileGracePeriod)
	assert.Equal(t, 5, cfg.LedgerMaxAttempts)
}

func TestLoadConfigIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("LEDGER_DB_PORT", "not-a-port")
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.DBConfig.Port)
	assert.Equal(t, time.Second, cfg.OutboxPollInterval)
}

func TestConnectionStrings(t *testing.T) {
	t.Setenv("LEDGER_DB_HOST", "db")
	t.Setenv("LEDGER_DB_PORT", "5432")
	t.Setenv("LEDGER_DB_USER", "svc")
	t.Setenv("LEDGER_DB_PASSWORD", "secret")
	t.Setenv("LEDGER_DB_NAME", "ledger_db")
	t.Setenv("LEDGER_DB_SSLMODE", "disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t,
		"host=db port=5432 user=svc password=secret dbname=ledger_db sslmode=disable",
		cfg.GetDBConnectionString())
	assert.Equal(t,
		"postgres://svc:secret@db:5432/ledger_db?sslmode=disable",
		cfg.GetDBMigrationConnectionString())
}
